// Package reasoning wraps the agent with deliberation strategies. Each
// strategy spends extra provider calls thinking before or around the normal
// agent loop and attaches a trace of those steps to the result. Spend is
// charged to the cost ledger; a strategy that would exceed its budget closes
// the trace and returns the best partial result it has.
package reasoning

import (
	"context"

	"cortexos/internal/agent"
	"cortexos/internal/cost"
	"cortexos/internal/errs"
	"cortexos/internal/llm"
)

// Config assembles a strategy.
type Config struct {
	Provider      llm.Provider
	Model         string       // deliberation model; defaults to gemini-2.5-flash
	Ledger        *cost.Ledger // optional
	CostBudgetUSD float64      // 0 disables the budget
	Agent         agent.Config // template for spawned agents
}

// Strategy runs one task with extra deliberation.
type Strategy interface {
	Name() string
	Execute(ctx context.Context, task agent.Task) agent.Result
}

// ForName resolves a strategy by its configured name. Zero tuning parameters
// take each strategy's defaults.
func ForName(name string, cfg Config) (Strategy, error) {
	switch name {
	case "react":
		return NewReAct(cfg, 0), nil
	case "reflexion":
		return NewReflexion(cfg, 0, TriggerFailure), nil
	case "tree-of-thought", "tot":
		return NewTreeOfThought(cfg, 0), nil
	case "debate":
		return NewDebate(cfg, 0, 0), nil
	default:
		return nil, errs.New(errs.KindConfig, "unknown reasoning strategy %q", name)
	}
}

// session tracks the spend and trace of one strategy run.
type session struct {
	cfg   Config
	trace *agent.Trace
	usage llm.Usage
	spent float64
}

func newSession(cfg Config, strategy string) *session {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	return &session{cfg: cfg, trace: &agent.Trace{Strategy: strategy}}
}

func (s *session) step(kind, content string) {
	s.trace.Steps = append(s.trace.Steps, agent.TraceStep{Kind: kind, Content: content})
}

// complete makes one deliberation call. The call is refused with a budget
// error when its pessimistic estimate would push spend past the cap.
func (s *session) complete(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (*llm.Response, error) {
	if s.cfg.CostBudgetUSD > 0 {
		estIn := 0
		for _, m := range messages {
			estIn += llm.EstimateTokens(m.Content)
		}
		est := cost.CostUSD(s.cfg.Provider.Name(), s.cfg.Model, estIn, 500)
		if s.spent+est > s.cfg.CostBudgetUSD {
			return nil, errs.New(errs.KindBudget,
				"reasoning budget $%.4f exhausted after $%.4f", s.cfg.CostBudgetUSD, s.spent)
		}
	}

	resp, err := s.cfg.Provider.Complete(ctx, llm.Request{
		Messages:    messages,
		Model:       s.cfg.Model,
		Temperature: 0.7,
		Tools:       tools,
	})
	if err != nil {
		return nil, llm.Classify(s.cfg.Provider.Name(), err)
	}
	s.charge(resp.Usage)
	return resp, nil
}

// charge records usage against the ledger and the session totals. Agent runs
// spawned by a strategy are charged through here as well.
func (s *session) charge(u llm.Usage) {
	s.usage.InputTokens += u.InputTokens
	s.usage.OutputTokens += u.OutputTokens
	if s.cfg.Ledger != nil {
		entry := s.cfg.Ledger.RecordCall(s.cfg.Provider.Name(), s.cfg.Model, u.InputTokens, u.OutputTokens)
		s.spent += entry.CostUSD
	} else {
		s.spent += cost.CostUSD(s.cfg.Provider.Name(), s.cfg.Model, u.InputTokens, u.OutputTokens)
	}
}

// close seals the trace onto the result. The result's usage becomes the
// session total so callers see deliberation and agent spend together.
func (s *session) close(result agent.Result, ended string) agent.Result {
	s.trace.Ended = ended
	result.Trace = s.trace
	result.Usage = s.usage
	return result
}

// runAgent executes the base agent for the task and charges its usage.
func (s *session) runAgent(ctx context.Context, task agent.Task) agent.Result {
	result := agent.New(s.cfg.Agent).Execute(ctx, task)
	s.charge(result.Usage)
	return result
}

func taskPrompt(task agent.Task) string {
	prompt := "Task: " + task.Title
	if task.Description != "" {
		prompt += "\n\n" + task.Description
	}
	if task.Context != "" {
		prompt += "\n\nContext:\n" + task.Context
	}
	return prompt
}
