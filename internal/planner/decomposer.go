package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cortexos/internal/agent"
	"cortexos/internal/llm"
	"cortexos/internal/logging"
)

// Decomposer builds the task DAG from an analysis. Simple requests take a
// deterministic heuristic path; complex ones ask the provider and fall back
// to the heuristic on any parse or validation failure.
type Decomposer struct {
	provider llm.Provider
	model    string
}

// NewDecomposer creates a decomposer. A nil provider forces heuristic mode.
func NewDecomposer(provider llm.Provider, model string) *Decomposer {
	return &Decomposer{provider: provider, model: model}
}

// Decompose produces the task list for an analysis.
func (d *Decomposer) Decompose(ctx context.Context, analysis PromptAnalysis) []DecomposedTask {
	if analysis.Complexity < 0.3 || analysis.EstimatedSubtasks <= 1 {
		return d.heuristic(analysis)
	}
	if d.provider == nil || !d.provider.IsAvailable() {
		return d.heuristic(analysis)
	}

	tasks, err := d.llmDecompose(ctx, analysis)
	if err != nil {
		logging.PlannerInfo("LLM decomposition rejected (%v), using heuristic plan", err)
		return d.heuristic(analysis)
	}
	return tasks
}

// heuristic builds a small linear plan: optional research, optional design,
// implementation, optional test, validation.
func (d *Decomposer) heuristic(analysis PromptAnalysis) []DecomposedTask {
	var tasks []DecomposedTask
	var prev string

	addStage := func(title, description, role string, complexity float64, priority int) {
		task := DecomposedTask{
			ID:          fmt.Sprintf("task-%d", len(tasks)+1),
			Title:       title,
			Description: description,
			Role:        role,
			Priority:    priority,
			Complexity:  complexity,
			Context:     analysis.Original,
		}
		if prev != "" {
			task.DependsOn = []string{prev}
		}
		prev = task.ID
		tasks = append(tasks, task)
	}

	if analysis.Intent == IntentAnalyze || analysis.Complexity > 0.7 {
		addStage("Research the request", "Investigate the codebase and constraints relevant to: "+analysis.Original,
			"researcher", analysis.Complexity*0.6, 8)
	}
	creative := analysis.Intent == IntentCreate
	if creative && analysis.Complexity > 0.5 {
		addStage("Design the solution", "Produce a concrete design for: "+analysis.Original,
			"architect", analysis.Complexity*0.8, 7)
	}
	addStage("Implement the request", analysis.Original, "developer", analysis.Complexity, 6)
	if analysis.Intent == IntentTest || containsString(analysis.Domains, "testing") {
		addStage("Write and run tests", "Cover the implemented behavior with tests for: "+analysis.Original,
			"tester", analysis.Complexity*0.8, 5)
	}
	addStage("Validate the result", "Check that the completed work satisfies: "+analysis.Original,
		"validator", 0.2, 4)

	logging.PlannerDebug("heuristic plan with %d task(s)", len(tasks))
	return tasks
}

const decomposePromptTemplate = `Decompose the following software request into subtasks.

Request: %s
Detected intent: %s
Estimated complexity: %.2f
Suggested roles: %s

Respond with ONLY a JSON array. Each element:
{"id": "task-1", "title": "...", "description": "...", "role": "one of %s",
 "depends_on": ["task-ids"], "priority": 1-10, "complexity": 0.0-1.0,
 "required_tools": ["optional tool names"]}

Rules: 2 to %d tasks; dependencies may only reference earlier ids in the
array; independent tasks should not depend on each other so they can run in
parallel; the last task validates the overall result.`

type rawTask struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Role          string   `json:"role"`
	DependsOn     []string `json:"depends_on"`
	Priority      int      `json:"priority"`
	Complexity    float64  `json:"complexity"`
	RequiredTools []string `json:"required_tools"`
}

func (d *Decomposer) llmDecompose(ctx context.Context, analysis PromptAnalysis) ([]DecomposedTask, error) {
	prompt := fmt.Sprintf(decomposePromptTemplate,
		analysis.Original, analysis.Intent, analysis.Complexity,
		strings.Join(analysis.SuggestedRoles, ", "),
		strings.Join(agent.RoleNames(), "|"),
		clampInt(analysis.EstimatedSubtasks+2, 3, 10))

	resp, err := d.provider.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You are a planning assistant. Output only JSON."},
			{Role: llm.RoleUser, Content: prompt},
		},
		Model:       d.model,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, err
	}

	payload, ok := extractJSONArray(resp.Content)
	if !ok {
		return nil, fmt.Errorf("no JSON array in decomposition response")
	}
	var raw []rawTask
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("decomposition JSON invalid: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("decomposition produced no tasks")
	}

	// Per-item validation. Roles must come from the role book and
	// dependencies must resolve within the batch; numeric fields clamp.
	ids := map[string]bool{}
	for i := range raw {
		if raw[i].ID == "" {
			raw[i].ID = fmt.Sprintf("task-%d", i+1)
		}
		if ids[raw[i].ID] {
			return nil, fmt.Errorf("duplicate task id %q", raw[i].ID)
		}
		ids[raw[i].ID] = true
	}
	tasks := make([]DecomposedTask, 0, len(raw))
	for _, r := range raw {
		if r.Title == "" {
			return nil, fmt.Errorf("task %s has no title", r.ID)
		}
		if !agent.KnownRole(r.Role) {
			return nil, fmt.Errorf("task %s has unknown role %q", r.ID, r.Role)
		}
		for _, dep := range r.DependsOn {
			if dep == r.ID {
				return nil, fmt.Errorf("task %s depends on itself", r.ID)
			}
			if !ids[dep] {
				return nil, fmt.Errorf("task %s depends on unknown task %q", r.ID, dep)
			}
		}
		tasks = append(tasks, DecomposedTask{
			ID:            r.ID,
			Title:         r.Title,
			Description:   r.Description,
			Role:          r.Role,
			DependsOn:     r.DependsOn,
			Priority:      clampInt(r.Priority, 1, 10),
			Complexity:    clampFloat(r.Complexity, 0, 1),
			RequiredTools: r.RequiredTools,
			Context:       analysis.Original,
		})
	}

	logging.PlannerInfo("LLM decomposition accepted: %d task(s)", len(tasks))
	return tasks, nil
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
