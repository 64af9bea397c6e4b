package cost

import "strings"

// ModelPrice gives USD per one million tokens, input and output separately.
type ModelPrice struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// priceKey joins provider and model for table lookup.
func priceKey(provider, model string) string {
	return strings.ToLower(provider) + "/" + strings.ToLower(model)
}

// defaultPrice is the pessimistic fallback for unknown models.
var defaultPrice = ModelPrice{InputPerMTok: 15.0, OutputPerMTok: 75.0}

// pricingTable maps provider/model to token pricing.
var pricingTable = map[string]ModelPrice{
	"gemini/gemini-2.5-flash":      {InputPerMTok: 0.30, OutputPerMTok: 2.50},
	"gemini/gemini-2.5-flash-lite": {InputPerMTok: 0.10, OutputPerMTok: 0.40},
	"gemini/gemini-2.5-pro":        {InputPerMTok: 1.25, OutputPerMTok: 10.00},
	"anthropic/claude-sonnet-4":    {InputPerMTok: 3.00, OutputPerMTok: 15.00},
	"anthropic/claude-haiku-3.5":   {InputPerMTok: 0.80, OutputPerMTok: 4.00},
	"openai/gpt-4o":                {InputPerMTok: 2.50, OutputPerMTok: 10.00},
	"openai/gpt-4o-mini":           {InputPerMTok: 0.15, OutputPerMTok: 0.60},
	"mock/mock":                    {InputPerMTok: 1.00, OutputPerMTok: 2.00},
}

// Price returns pricing for a provider/model pair. Unknown models fall back
// to a pessimistic default so budgets stay safe.
func Price(provider, model string) ModelPrice {
	if p, ok := pricingTable[priceKey(provider, model)]; ok {
		return p
	}
	return defaultPrice
}

// CostUSD computes the dollar cost of a call at the given token counts.
func CostUSD(provider, model string, inputTokens, outputTokens int) float64 {
	p := Price(provider, model)
	return float64(inputTokens)/1e6*p.InputPerMTok + float64(outputTokens)/1e6*p.OutputPerMTok
}
