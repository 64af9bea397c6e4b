package reasoning

import (
	"context"
	"fmt"

	"cortexos/internal/agent"
	"cortexos/internal/errs"
	"cortexos/internal/llm"
	"cortexos/internal/logging"
)

const defaultMaxRetries = 2

// Trigger selects which outcomes reflexion reacts to.
type Trigger string

const (
	TriggerFailure    Trigger = "failure"
	TriggerLowQuality Trigger = "low-quality"
	TriggerBoth       Trigger = "both"
)

const critiquePrompt = `A task attempt did not reach an acceptable outcome.
Write a short critique: what went wrong and what the next attempt should do
differently. Be concrete; refer to the attempt's output and errors.

Task: %s

Attempt outcome:
%s`

// Reflexion retries a task after injecting a provider-generated critique of
// the previous attempt.
type Reflexion struct {
	cfg        Config
	maxRetries int
	trigger    Trigger

	// QualityScore supplies a 0..1 score for the low-quality trigger. With
	// no scorer wired, low-quality never fires.
	QualityScore func(agent.Result) float64
}

func NewReflexion(cfg Config, maxRetries int, trigger Trigger) *Reflexion {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if trigger == "" {
		trigger = TriggerFailure
	}
	return &Reflexion{cfg: cfg, maxRetries: maxRetries, trigger: trigger}
}

func (r *Reflexion) Name() string { return "reflexion" }

func (r *Reflexion) Execute(ctx context.Context, task agent.Task) agent.Result {
	s := newSession(r.cfg, "reflexion")

	result := s.runAgent(ctx, task)
	if !r.shouldRetry(result) {
		return s.close(result, "completed")
	}

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		critique, err := s.complete(ctx, []llm.Message{
			{Role: llm.RoleSystem, Content: "You are a critical reviewer of software agent runs."},
			{Role: llm.RoleUser, Content: fmt.Sprintf(critiquePrompt, task.Title, result.Summary())},
		}, nil)
		if err != nil {
			if errs.IsKind(err, errs.KindBudget) {
				logging.ReasonDebug("reflexion stopped by budget on retry %d", attempt)
				return s.close(result, "budget-exceeded")
			}
			logging.ReasonDebug("reflexion critique failed: %v", err)
			return s.close(result, "completed")
		}
		s.step("critique", critique.Content)

		retryTask := task
		retryTask.Context = "Critique of the previous attempt:\n" + critique.Content
		if task.Context != "" {
			retryTask.Context += "\n\n" + task.Context
		}

		result = s.runAgent(ctx, retryTask)
		if !r.shouldRetry(result) {
			return s.close(result, "completed")
		}
	}
	return s.close(result, "retries-exhausted")
}

func (r *Reflexion) shouldRetry(result agent.Result) bool {
	failed := !result.Success
	lowQuality := r.QualityScore != nil && r.QualityScore(result) < 0.5
	switch r.trigger {
	case TriggerFailure:
		return failed
	case TriggerLowQuality:
		return lowQuality
	case TriggerBoth:
		return failed || lowQuality
	}
	return failed
}
