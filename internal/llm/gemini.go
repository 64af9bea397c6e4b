package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"cortexos/internal/config"
	"cortexos/internal/errs"
	"cortexos/internal/logging"
)

// Gemini is the Provider backed by Google's Gemini API.
type Gemini struct {
	client      *genai.Client
	model       string
	maxTokens   int
	temperature float64
}

// NewGemini creates a Gemini provider from the LLM configuration.
func NewGemini(cfg config.LLMConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errs.New(errs.KindConfig, "gemini API key is required (set CORTEXOS_API_KEY or GEMINI_API_KEY)")
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, err, "failed to create genai client")
	}

	return &Gemini{
		client:      client,
		model:       model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Name identifies this provider for pricing lookups.
func (g *Gemini) Name() string { return "gemini" }

// IsAvailable reports whether the client was constructed with credentials.
func (g *Gemini) IsAvailable() bool { return g.client != nil }

// Complete performs one completion call against the Gemini API.
func (g *Gemini) Complete(ctx context.Context, req Request) (*Response, error) {
	model, contents, cfg := g.translate(req)

	result, err := g.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, Classify(g.Name(), err)
	}
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return nil, &errs.Error{
			Kind:    errs.KindProvider,
			Subkind: errs.SubInvalidResponse,
			Msg:     "gemini returned no candidates",
		}
	}

	resp := &Response{Model: model, FinishReason: FinishStop}
	for _, part := range result.Candidates[0].Content.Parts {
		if part.Text != "" {
			resp.Content += part.Text
		}
		if part.FunctionCall != nil {
			resp.ToolCalls = append(resp.ToolCalls, functionCallToToolCall(part.FunctionCall))
		}
	}
	if len(resp.ToolCalls) > 0 {
		resp.FinishReason = FinishToolCalls
	} else if result.Candidates[0].FinishReason == genai.FinishReasonMaxTokens {
		resp.FinishReason = FinishLength
	}
	if result.UsageMetadata != nil {
		resp.Usage = Usage{
			InputTokens:  int(result.UsageMetadata.PromptTokenCount),
			OutputTokens: int(result.UsageMetadata.CandidatesTokenCount),
		}
	}

	logging.AgentDebug("gemini complete model=%s in=%d out=%d finish=%s tools=%d",
		model, resp.Usage.InputTokens, resp.Usage.OutputTokens, resp.FinishReason, len(resp.ToolCalls))
	return resp, nil
}

// Stream performs a streaming completion, producing content chunks as they
// arrive. Tool calls are not streamed; callers needing them use Complete.
func (g *Gemini) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	model, contents, cfg := g.translate(req)

	out := make(chan Chunk, 16)
	go func() {
		defer close(out)
		var usage Usage
		for result, err := range g.client.Models.GenerateContentStream(ctx, model, contents, cfg) {
			if err != nil {
				out <- Chunk{Err: Classify(g.Name(), err)}
				return
			}
			if result.UsageMetadata != nil {
				usage = Usage{
					InputTokens:  int(result.UsageMetadata.PromptTokenCount),
					OutputTokens: int(result.UsageMetadata.CandidatesTokenCount),
				}
			}
			for _, cand := range result.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					if part.Text != "" {
						select {
						case out <- Chunk{Content: part.Text}:
						case <-ctx.Done():
							return
						}
					}
				}
			}
		}
		out <- Chunk{Done: true, Usage: &usage}
	}()
	return out, nil
}

// translate maps the neutral request onto genai's types. System messages
// become the system instruction; tool results become function responses.
func (g *Gemini) translate(req Request) (string, []*genai.Content, *genai.GenerateContentConfig) {
	model := req.Model
	if model == "" {
		model = g.model
	}

	cfg := &genai.GenerateContentConfig{}
	temp := float32(req.Temperature)
	if req.Temperature == 0 {
		temp = float32(g.temperature)
	}
	cfg.Temperature = &temp
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	} else if g.maxTokens > 0 {
		cfg.MaxOutputTokens = int32(g.maxTokens)
	}

	var contents []*genai.Content
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			if cfg.SystemInstruction == nil {
				cfg.SystemInstruction = genai.NewContentFromText(msg.Content, genai.RoleUser)
			} else {
				cfg.SystemInstruction.Parts = append(cfg.SystemInstruction.Parts,
					genai.NewPartFromText(msg.Content))
			}
		case RoleAssistant:
			parts := []*genai.Part{}
			if msg.Content != "" {
				parts = append(parts, genai.NewPartFromText(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var args map[string]any
				if err := json.Unmarshal([]byte(tc.ArgumentsJSON), &args); err != nil {
					args = map[string]any{}
				}
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   tc.ID,
					Name: tc.Name,
					Args: args,
				}})
			}
			if len(parts) > 0 {
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
			}
		case RoleTool:
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{
				{FunctionResponse: &genai.FunctionResponse{
					ID:       msg.ToolCallID,
					Name:     msg.ToolCallID,
					Response: map[string]any{"output": msg.Content},
				}},
			}, genai.RoleUser))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}

	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schemaToGenAI(t.InputSchema),
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	return model, contents, cfg
}

func functionCallToToolCall(fc *genai.FunctionCall) ToolCall {
	id := fc.ID
	if id == "" {
		id = "call_" + uuid.NewString()[:8]
	}
	args, err := json.Marshal(fc.Args)
	if err != nil {
		args = []byte("{}")
	}
	return ToolCall{ID: id, Name: fc.Name, ArgumentsJSON: string(args)}
}

// schemaToGenAI converts the registry's JSON-schema subset (types, required,
// enums, nested properties and items) to genai's schema type.
func schemaToGenAI(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}
	out := &genai.Schema{}
	if t, ok := schema["type"].(string); ok {
		switch t {
		case "string":
			out.Type = genai.TypeString
		case "number":
			out.Type = genai.TypeNumber
		case "integer":
			out.Type = genai.TypeInteger
		case "boolean":
			out.Type = genai.TypeBoolean
		case "array":
			out.Type = genai.TypeArray
		case "object":
			out.Type = genai.TypeObject
		}
	}
	if d, ok := schema["description"].(string); ok {
		out.Description = d
	}
	if enum, ok := schema["enum"].([]any); ok {
		for _, v := range enum {
			out.Enum = append(out.Enum, fmt.Sprintf("%v", v))
		}
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, sub := range props {
			if subMap, ok := sub.(map[string]any); ok {
				out.Properties[name] = schemaToGenAI(subMap)
			}
		}
	}
	if reqd, ok := schema["required"].([]any); ok {
		for _, v := range reqd {
			if s, ok := v.(string); ok {
				out.Required = append(out.Required, s)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		out.Items = schemaToGenAI(items)
	}
	return out
}
