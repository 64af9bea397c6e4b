package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cortexos/internal/agent"
	"cortexos/internal/errs"
	"cortexos/internal/llm"
	"cortexos/internal/logging"
)

const defaultCandidates = 3

const generatePrompt = `Propose %d distinct approaches to the task below.
Each approach is one short paragraph naming the key decision that sets it
apart. Respond with ONLY a JSON array of %d strings.

Task: %s`

const scorePrompt = `Score each approach below for the task on a 1-10 scale
(feasibility, correctness, simplicity). Respond with ONLY a JSON array of %d
numbers in the same order.

Task: %s

Approaches:
%s`

// TreeOfThought generates candidate approaches, scores them in one batch and
// executes the winner through the base agent.
type TreeOfThought struct {
	cfg        Config
	candidates int
}

func NewTreeOfThought(cfg Config, candidates int) *TreeOfThought {
	if candidates <= 0 {
		candidates = defaultCandidates
	}
	return &TreeOfThought{cfg: cfg, candidates: candidates}
}

func (t *TreeOfThought) Name() string { return "tree-of-thought" }

func (t *TreeOfThought) Execute(ctx context.Context, task agent.Task) agent.Result {
	s := newSession(t.cfg, "tree-of-thought")

	approaches, err := t.generate(ctx, s, task)
	if err != nil {
		if errs.IsKind(err, errs.KindBudget) {
			return s.close(agent.Result{TaskID: task.ID, Error: err.Error()}, "budget-exceeded")
		}
		// Deliberation is best-effort; fall through to a plain agent run.
		logging.ReasonDebug("tree-of-thought generation failed, running plain agent: %v", err)
		return s.close(s.runAgent(ctx, task), "completed")
	}
	for _, a := range approaches {
		s.step("thought", a)
	}

	scores, err := t.score(ctx, s, task, approaches)
	if err != nil {
		if errs.IsKind(err, errs.KindBudget) {
			return s.close(agent.Result{TaskID: task.ID, Error: err.Error()}, "budget-exceeded")
		}
		logging.ReasonDebug("tree-of-thought scoring failed, using first approach: %v", err)
		scores = make([]float64, len(approaches))
	}
	s.step("score", renderScores(scores))

	best := 0
	for i, score := range scores {
		if score > scores[best] {
			best = i
		}
	}
	logging.ReasonDebug("tree-of-thought picked approach %d of %d (%.2f)",
		best+1, len(approaches), scores[best])

	chosen := task
	chosen.Context = "Follow this approach:\n" + approaches[best]
	if task.Context != "" {
		chosen.Context += "\n\n" + task.Context
	}
	return s.close(s.runAgent(ctx, chosen), "completed")
}

func (t *TreeOfThought) generate(ctx context.Context, s *session, task agent.Task) ([]string, error) {
	resp, err := s.complete(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: fmt.Sprintf(generatePrompt, t.candidates, t.candidates, taskPrompt(task))},
	}, nil)
	if err != nil {
		return nil, err
	}
	payload, ok := jsonArray(resp.Content)
	if !ok {
		return nil, fmt.Errorf("no JSON array in approach response")
	}
	var approaches []string
	if err := json.Unmarshal([]byte(payload), &approaches); err != nil {
		return nil, fmt.Errorf("approach array invalid: %w", err)
	}
	if len(approaches) == 0 {
		return nil, fmt.Errorf("no approaches generated")
	}
	return approaches, nil
}

// score asks for one batch of 1-10 scores and normalizes them to 0-1.
func (t *TreeOfThought) score(ctx context.Context, s *session, task agent.Task, approaches []string) ([]float64, error) {
	var list strings.Builder
	for i, a := range approaches {
		fmt.Fprintf(&list, "%d. %s\n", i+1, a)
	}
	resp, err := s.complete(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: fmt.Sprintf(scorePrompt, len(approaches), task.Title, list.String())},
	}, nil)
	if err != nil {
		return nil, err
	}
	payload, ok := jsonArray(resp.Content)
	if !ok {
		return nil, fmt.Errorf("no JSON array in score response")
	}
	var raw []float64
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("score array invalid: %w", err)
	}
	if len(raw) != len(approaches) {
		return nil, fmt.Errorf("got %d scores for %d approaches", len(raw), len(approaches))
	}
	scores := make([]float64, len(raw))
	for i, v := range raw {
		scores[i] = clamp01(v / 10)
	}
	return scores, nil
}

func renderScores(scores []float64) string {
	parts := make([]string, len(scores))
	for i, s := range scores {
		parts[i] = fmt.Sprintf("%.2f", s)
	}
	return strings.Join(parts, ", ")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// jsonArray locates the first balanced JSON array in prose, tolerating
// markdown fences.
func jsonArray(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		text = strings.TrimSpace(trimmed)
	}

	start := strings.IndexByte(text, '[')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
