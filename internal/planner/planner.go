package planner

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"cortexos/internal/agent"
	"cortexos/internal/cost"
	"cortexos/internal/logging"
)

// Planner orders a task set into a priority-aware topological order, groups
// it into waves, and estimates cost and duration.
type Planner struct {
	defaultModel string
}

func NewPlanner(defaultModel string) *Planner {
	if defaultModel == "" {
		defaultModel = "gemini-2.5-flash"
	}
	return &Planner{defaultModel: defaultModel}
}

// BuildPlan schedules the tasks. Cyclic input never deadlocks: when the
// ready queue drains with tasks remaining, the remnant is appended in
// original order and scheduled as a final wave.
func (p *Planner) BuildPlan(tasks []DecomposedTask) *Plan {
	plan := &Plan{ID: uuid.NewString()}
	if len(tasks) == 0 {
		return plan
	}

	plan.Tasks = topoOrder(tasks)
	plan.Waves = buildWaves(plan.Tasks)

	var totalCost float64
	var totalDuration time.Duration
	for _, wave := range plan.Waves {
		var waveMax time.Duration
		for _, id := range wave.TaskIDs {
			task := plan.Task(id)
			in, out := taskTokens(task)
			plan.EstimatedInputTokens += in
			plan.EstimatedOutputTokens += out
			totalCost += p.taskCost(task)
			if d := taskDuration(task); d > waveMax {
				waveMax = d
			}
		}
		totalDuration += waveMax
	}
	plan.EstimatedCostUSD = totalCost
	plan.EstimatedDuration = totalDuration

	logging.PlannerInfo("plan %s: %d task(s) in %d wave(s), est $%.4f over %s",
		plan.ID, len(plan.Tasks), len(plan.Waves), totalCost, totalDuration)
	return plan
}

// topoOrder is Kahn's algorithm with the ready queue re-sorted by priority
// (descending, stable) before each pop. Tasks still blocked when the queue
// drains form a cycle; they are appended in original input order.
func topoOrder(tasks []DecomposedTask) []DecomposedTask {
	index := make(map[string]int, len(tasks))
	for i, t := range tasks {
		index[t.ID] = i
	}

	indegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string)
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if _, ok := index[dep]; !ok {
				continue // dangling reference, treated as satisfied
			}
			indegree[t.ID]++
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	var ready []string
	for _, t := range tasks {
		if indegree[t.ID] == 0 {
			ready = append(ready, t.ID)
		}
	}

	ordered := make([]DecomposedTask, 0, len(tasks))
	scheduled := make(map[string]bool, len(tasks))
	for len(ready) > 0 {
		sort.SliceStable(ready, func(a, b int) bool {
			pa, pb := tasks[index[ready[a]]].Priority, tasks[index[ready[b]]].Priority
			if pa != pb {
				return pa > pb
			}
			return index[ready[a]] < index[ready[b]]
		})
		id := ready[0]
		ready = ready[1:]

		ordered = append(ordered, tasks[index[id]])
		scheduled[id] = true
		for _, dependent := range dependents[id] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(ordered) < len(tasks) {
		logging.PlannerInfo("cycle detected: appending %d remaining task(s) in original order",
			len(tasks)-len(ordered))
		for _, t := range tasks {
			if !scheduled[t.ID] {
				ordered = append(ordered, t)
			}
		}
	}
	return ordered
}

// buildWaves repeatedly takes every unscheduled task whose dependencies all
// sit in earlier waves. A drained iteration with tasks remaining means a
// cycle remnant; it becomes the final wave so the plan always completes.
func buildWaves(ordered []DecomposedTask) []Wave {
	placed := make(map[string]int) // task id -> wave number
	var waves []Wave

	remaining := len(ordered)
	for remaining > 0 {
		var waveIDs []string
		for _, t := range ordered {
			if _, done := placed[t.ID]; done {
				continue
			}
			eligible := true
			for _, dep := range t.DependsOn {
				if _, ok := placed[dep]; !ok && hasTask(ordered, dep) {
					eligible = false
					break
				}
			}
			if eligible {
				waveIDs = append(waveIDs, t.ID)
			}
		}

		if len(waveIDs) == 0 {
			// Cycle remnant: force the rest into one final wave.
			for _, t := range ordered {
				if _, done := placed[t.ID]; !done {
					waveIDs = append(waveIDs, t.ID)
				}
			}
		}

		number := len(waves)
		for _, id := range waveIDs {
			placed[id] = number
		}
		waves = append(waves, Wave{
			Number:         number,
			TaskIDs:        waveIDs,
			Parallelizable: len(waveIDs) > 1,
		})
		remaining -= len(waveIDs)
	}
	return waves
}

func hasTask(tasks []DecomposedTask, id string) bool {
	for _, t := range tasks {
		if t.ID == id {
			return true
		}
	}
	return false
}

// taskTokens estimates token spend from complexity: input ≈ 2000 + 8000·c,
// output ≈ 500 + 3000·c.
func taskTokens(task *DecomposedTask) (in, out int) {
	return 2000 + int(8000*task.Complexity), 500 + int(3000*task.Complexity)
}

// taskCost prices the task's token estimate by its role's model.
func (p *Planner) taskCost(task *DecomposedTask) float64 {
	in, out := taskTokens(task)
	model := agent.ModelForRole(task.Role, p.defaultModel)
	return cost.CostUSD("gemini", model, in, out)
}

// taskDuration scales 3s..30s by complexity.
func taskDuration(task *DecomposedTask) time.Duration {
	seconds := 3 + 27*task.Complexity
	return time.Duration(seconds * float64(time.Second))
}
