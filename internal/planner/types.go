// Package planner turns a natural-language request into an executable plan:
// the analyzer scores and classifies the prompt, the decomposer produces the
// task DAG (heuristically or via the provider), and the planner orders it
// into waves with cost and duration estimates.
package planner

import "time"

// Intent classifies what the request asks for.
type Intent string

const (
	IntentCreate   Intent = "create"
	IntentModify   Intent = "modify"
	IntentFix      Intent = "fix"
	IntentRefactor Intent = "refactor"
	IntentTest     Intent = "test"
	IntentDocument Intent = "document"
	IntentAnalyze  Intent = "analyze"
	IntentOptimize Intent = "optimize"
	IntentDeploy   Intent = "deploy"
	IntentUnknown  Intent = "unknown"
)

// PromptAnalysis is produced once per request and immutable thereafter.
type PromptAnalysis struct {
	Original          string   `json:"original"`
	Complexity        float64  `json:"complexity"` // [0.1, 1.0]
	Intent            Intent   `json:"intent"`
	Domains           []string `json:"domains,omitempty"`
	Languages         []string `json:"languages,omitempty"`
	Entities          []string `json:"entities,omitempty"`
	SuggestedRoles    []string `json:"suggested_roles"`
	EstimatedSubtasks int      `json:"estimated_subtasks"` // 1..10
}

// DecomposedTask is one node of the execution DAG.
type DecomposedTask struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Role          string   `json:"role"`
	DependsOn     []string `json:"depends_on,omitempty"`
	Priority      int      `json:"priority"`   // 1..10
	Complexity    float64  `json:"complexity"` // [0, 1]
	RequiredTools []string `json:"required_tools,omitempty"`
	Context       string   `json:"context,omitempty"`
}

// Wave is a set of tasks whose dependencies are all satisfied by earlier
// waves; its tasks may run concurrently.
type Wave struct {
	Number         int      `json:"number"`
	TaskIDs        []string `json:"task_ids"`
	Parallelizable bool     `json:"parallelizable"`
}

// Plan is the scheduled DAG plus estimates.
type Plan struct {
	ID                    string           `json:"id"`
	Tasks                 []DecomposedTask `json:"tasks"` // priority-aware topological order
	Waves                 []Wave           `json:"waves"`
	EstimatedInputTokens  int              `json:"estimated_input_tokens"`
	EstimatedOutputTokens int              `json:"estimated_output_tokens"`
	EstimatedCostUSD      float64          `json:"estimated_cost_usd"`
	EstimatedDuration     time.Duration    `json:"estimated_duration"`
}

// Task returns the plan task with the given id.
func (p *Plan) Task(id string) *DecomposedTask {
	for i := range p.Tasks {
		if p.Tasks[i].ID == id {
			return &p.Tasks[i]
		}
	}
	return nil
}

// WaveOf returns the wave number containing the task, or -1.
func (p *Plan) WaveOf(taskID string) int {
	for _, wave := range p.Waves {
		for _, id := range wave.TaskIDs {
			if id == taskID {
				return wave.Number
			}
		}
	}
	return -1
}
