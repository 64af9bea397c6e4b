package planner

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cortexos/internal/llm"
)

func TestAnalyzerTrivialCreate(t *testing.T) {
	a := NewAnalyzer()
	analysis := a.Analyze("add a README with the word 'hello'")

	assert.Less(t, analysis.Complexity, 0.3)
	assert.Equal(t, IntentCreate, analysis.Intent)
	assert.Equal(t, 1, analysis.EstimatedSubtasks)
	assert.Contains(t, analysis.Entities, "hello")
	assert.Contains(t, analysis.SuggestedRoles, "developer")
	assert.Contains(t, analysis.SuggestedRoles, "validator")
}

func TestAnalyzerMultiPartRequest(t *testing.T) {
	a := NewAnalyzer()
	analysis := a.Analyze("add a health endpoint and tests for it")

	assert.GreaterOrEqual(t, analysis.Complexity, 0.3)
	assert.GreaterOrEqual(t, analysis.EstimatedSubtasks, 2)
	assert.Contains(t, analysis.Domains, "web")
	assert.Contains(t, analysis.Domains, "testing")
	assert.Contains(t, analysis.SuggestedRoles, "tester")
}

func TestAnalyzerIntentOrdering(t *testing.T) {
	a := NewAnalyzer()

	// fix outranks modify even when both match.
	assert.Equal(t, IntentFix, a.Analyze("fix and update the login handler").Intent)
	// test outranks analyze.
	assert.Equal(t, IntentTest, a.Analyze("analyze coverage and add tests").Intent)
	assert.Equal(t, IntentAnalyze, a.Analyze("investigate the slow query").Intent)
	assert.Equal(t, IntentUnknown, a.Analyze("hmm").Intent)
}

func TestAnalyzerEntities(t *testing.T) {
	a := NewAnalyzer()
	analysis := a.Analyze(`update src/server.go so that HealthCheck returns "ok"`)

	assert.Contains(t, analysis.Entities, "src/server.go")
	assert.Contains(t, analysis.Entities, "HealthCheck")
	assert.Contains(t, analysis.Entities, "ok")
	assert.Contains(t, analysis.Languages, "go")
}

func TestAnalyzerDeterministic(t *testing.T) {
	a := NewAnalyzer()
	first := a.Analyze("refactor the cache layer and add metrics")
	second := a.Analyze("refactor the cache layer and add metrics")
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("analysis not deterministic:\n%s", diff)
	}
}

func TestExtractJSONArray(t *testing.T) {
	payload, ok := extractJSONArray("Here is the plan:\n```json\n[{\"a\": [1,2]}, {\"b\": \"x]y\"}]\n```\nDone.")
	require.True(t, ok)
	assert.Equal(t, `[{"a": [1,2]}, {"b": "x]y"}]`, payload)

	_, ok = extractJSONArray("no array here")
	assert.False(t, ok)
	_, ok = extractJSONArray("unbalanced [1, 2")
	assert.False(t, ok)
}

func TestDecomposerHeuristicTrivial(t *testing.T) {
	d := NewDecomposer(nil, "")
	analysis := NewAnalyzer().Analyze("add a README with the word 'hello'")
	tasks := d.Decompose(context.Background(), analysis)

	require.GreaterOrEqual(t, len(tasks), 2)
	require.LessOrEqual(t, len(tasks), 3)
	assert.Equal(t, "developer", tasks[len(tasks)-2].Role)
	assert.Equal(t, "validator", tasks[len(tasks)-1].Role)
	// Linear chain.
	for i := 1; i < len(tasks); i++ {
		assert.Equal(t, []string{tasks[i-1].ID}, tasks[i].DependsOn)
	}
}

func TestDecomposerLLMMode(t *testing.T) {
	p := llm.NewScripted(nil)
	p.EnqueueText(`Sure, here is the breakdown:
[
  {"id": "impl", "title": "Add endpoint", "role": "developer", "priority": 20, "complexity": 1.7},
  {"id": "test", "title": "Test endpoint", "role": "tester", "depends_on": ["impl"], "priority": 0, "complexity": -0.2}
]`)
	d := NewDecomposer(p, "mock")
	analysis := NewAnalyzer().Analyze("add a health endpoint and tests for it")
	tasks := d.Decompose(context.Background(), analysis)

	require.Len(t, tasks, 2)
	assert.Equal(t, 10, tasks[0].Priority, "priority clamped to 1..10")
	assert.Equal(t, 1.0, tasks[0].Complexity, "complexity clamped to 0..1")
	assert.Equal(t, 1, tasks[1].Priority)
	assert.Equal(t, 0.0, tasks[1].Complexity)
	assert.Equal(t, []string{"impl"}, tasks[1].DependsOn)
}

func TestDecomposerFallsBackOnInvalidItems(t *testing.T) {
	cases := map[string]string{
		"unknown role":  `[{"id": "a", "title": "x", "role": "wizard"}]`,
		"self edge":     `[{"id": "a", "title": "x", "role": "developer", "depends_on": ["a"]}]`,
		"dangling dep":  `[{"id": "a", "title": "x", "role": "developer", "depends_on": ["ghost"]}]`,
		"no title":      `[{"id": "a", "role": "developer"}]`,
		"not json":      `the plan is simple`,
		"empty array":   `[]`,
		"duplicate ids": `[{"id": "a", "title": "x", "role": "developer"}, {"id": "a", "title": "y", "role": "tester"}]`,
	}
	analysis := NewAnalyzer().Analyze("add a health endpoint and tests for it")

	for name, response := range cases {
		p := llm.NewScripted(nil)
		p.EnqueueText(response)
		d := NewDecomposer(p, "mock")

		tasks := d.Decompose(context.Background(), analysis)
		require.NotEmpty(t, tasks, name)
		// Heuristic fallback always ends with validation.
		assert.Equal(t, "validator", tasks[len(tasks)-1].Role, name)
	}
}

func diamondTasks() []DecomposedTask {
	return []DecomposedTask{
		{ID: "a", Title: "root", Role: "developer", Priority: 5},
		{ID: "b", Title: "left", Role: "developer", Priority: 3, DependsOn: []string{"a"}},
		{ID: "c", Title: "right", Role: "developer", Priority: 9, DependsOn: []string{"a"}},
		{ID: "d", Title: "join", Role: "validator", Priority: 5, DependsOn: []string{"b", "c"}},
	}
}

func TestBuildPlanTopologicalSoundness(t *testing.T) {
	plan := NewPlanner("").BuildPlan(diamondTasks())

	// Every input task is scheduled exactly once.
	require.Len(t, plan.Tasks, 4)
	seen := map[string]int{}
	for _, wave := range plan.Waves {
		for _, id := range wave.TaskIDs {
			seen[id]++
		}
	}
	require.Len(t, seen, 4)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}

	// Every task sits in a later wave than each of its dependencies.
	for _, task := range plan.Tasks {
		for _, dep := range task.DependsOn {
			assert.Greater(t, plan.WaveOf(task.ID), plan.WaveOf(dep),
				"%s must come after %s", task.ID, dep)
		}
	}

	// Priority re-sort: c (priority 9) pops before b (priority 3).
	ids := []string{plan.Tasks[0].ID, plan.Tasks[1].ID, plan.Tasks[2].ID, plan.Tasks[3].ID}
	assert.Equal(t, []string{"a", "c", "b", "d"}, ids)

	// Middle wave holds b and c concurrently.
	require.Len(t, plan.Waves, 3)
	assert.ElementsMatch(t, []string{"b", "c"}, plan.Waves[1].TaskIDs)
	assert.True(t, plan.Waves[1].Parallelizable)
	assert.False(t, plan.Waves[0].Parallelizable)
}

func TestBuildPlanBreaksCycles(t *testing.T) {
	tasks := []DecomposedTask{
		{ID: "x", Title: "x", Role: "developer", Priority: 5, DependsOn: []string{"z"}},
		{ID: "y", Title: "y", Role: "developer", Priority: 5, DependsOn: []string{"x"}},
		{ID: "z", Title: "z", Role: "developer", Priority: 5, DependsOn: []string{"y"}},
		{ID: "free", Title: "free", Role: "validator", Priority: 1},
	}
	plan := NewPlanner("").BuildPlan(tasks)

	// Scheduling never deadlocks; every input task still appears once.
	require.Len(t, plan.Tasks, 4)
	assert.Equal(t, "free", plan.Tasks[0].ID)
	// Cycle remnant keeps original input order.
	assert.Equal(t, []string{"x", "y", "z"},
		[]string{plan.Tasks[1].ID, plan.Tasks[2].ID, plan.Tasks[3].ID})

	total := 0
	for _, wave := range plan.Waves {
		total += len(wave.TaskIDs)
	}
	assert.Equal(t, 4, total)
}

func TestBuildPlanEstimates(t *testing.T) {
	plan := NewPlanner("").BuildPlan(diamondTasks())

	assert.Greater(t, plan.EstimatedCostUSD, 0.0)
	// Four zero-complexity tasks at 2000 in / 500 out each.
	assert.Equal(t, 8000, plan.EstimatedInputTokens)
	assert.Equal(t, 2000, plan.EstimatedOutputTokens)
	// Three waves, each between 3s and 30s.
	assert.GreaterOrEqual(t, plan.EstimatedDuration, 9*time.Second)
	assert.LessOrEqual(t, plan.EstimatedDuration, 90*time.Second)

	empty := NewPlanner("").BuildPlan(nil)
	assert.Empty(t, empty.Tasks)
	assert.Zero(t, empty.EstimatedCostUSD)
	assert.Zero(t, empty.EstimatedInputTokens)
}
