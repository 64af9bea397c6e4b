package llm

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"cortexos/internal/config"
	"cortexos/internal/errs"
)

// New constructs the provider named by the configuration.
func New(cfg config.LLMConfig) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "gemini", "":
		return NewGemini(cfg)
	case "mock":
		return NewScripted(nil), nil
	default:
		return nil, errs.New(errs.KindConfig, "unknown provider: %s", cfg.Provider)
	}
}

// Classify wraps a raw provider failure into a provider error, marking it
// transient when a retry has a chance of succeeding (timeouts, rate limits,
// server-side failures).
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	var e *errs.Error
	if errors.As(err, &e) && e.Kind == errs.KindProvider {
		return err
	}

	sub := errs.SubPermanent
	if isTransient(err) {
		sub = errs.SubTransient
	}
	return &errs.Error{
		Kind:    errs.KindProvider,
		Subkind: sub,
		Msg:     provider + " call failed",
		Err:     err,
	}
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429", "rate limit", "resource_exhausted", "resource exhausted",
		"500", "502", "503", "504",
		"internal error", "unavailable", "overloaded",
		"timeout", "deadline exceeded", "connection reset", "connection refused",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Backoff returns the delay before retry attempt n (0-based): 250ms base,
// doubling each attempt.
func Backoff(attempt int) time.Duration {
	d := 250 * time.Millisecond
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	return d
}

// EstimateTokens approximates the token count of a text at four characters
// per token. Used only for budget estimates, never for billing.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && text != "" {
		n = 1
	}
	return n
}
