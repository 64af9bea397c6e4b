// Package swarm drives a plan wave by wave: it sandboxes each wave's tasks
// in git worktrees when possible, dispatches them to the agent pool in
// parallel, merges the surviving branches sequentially, and hands summaries
// of finished work forward as context for later waves.
package swarm

import (
	"context"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"cortexos/internal/agent"
	"cortexos/internal/events"
	"cortexos/internal/llm"
	"cortexos/internal/logging"
	"cortexos/internal/planner"
	"cortexos/internal/pool"
	"cortexos/internal/sandbox"
)

// Config assembles a coordinator. Worktrees and Merger may be nil; the
// coordinator then runs every task directly in the workspace.
type Config struct {
	Plan      *planner.Plan
	Pool      *pool.Pool
	Worktrees *sandbox.WorktreeManager
	Merger    *sandbox.MergeManager
	Bus       *events.Bus
	Workspace string
}

// WaveResult reports one completed wave. Results are ordered by task ID.
type WaveResult struct {
	Number  int                   `json:"number"`
	Results []agent.Result        `json:"results"`
	Merges  []sandbox.MergeResult `json:"merges,omitempty"`
	Failed  bool                  `json:"failed"`
}

// PlanResult is the aggregate outcome of executing a plan.
type PlanResult struct {
	PlanID     string       `json:"plan_id"`
	Waves      []WaveResult `json:"waves"`
	Success    bool         `json:"success"`
	Cancelled  bool         `json:"cancelled"`
	Usage      llm.Usage    `json:"usage"`
	DurationMs int64        `json:"duration_ms"`
}

// Result returns the agent result for a task across all waves.
func (r *PlanResult) Result(taskID string) (agent.Result, bool) {
	for _, wave := range r.Waves {
		for _, res := range wave.Results {
			if res.TaskID == taskID {
				return res, true
			}
		}
	}
	return agent.Result{}, false
}

// Coordinator executes one plan. Not reusable across plans.
type Coordinator struct {
	cfg       Config
	summaries []string
}

func New(cfg Config) *Coordinator {
	return &Coordinator{cfg: cfg}
}

// Execute runs every wave in order. A task failure or merge conflict marks
// the plan failed but never stops later waves; those waves see summaries of
// everything that ran before them. Cancellation stops new dispatches, lets
// in-flight tasks drain through the pool, and cleans up worktrees.
func (c *Coordinator) Execute(ctx context.Context) *PlanResult {
	started := time.Now()
	result := &PlanResult{PlanID: c.cfg.Plan.ID, Success: true}

	sandboxed := c.cfg.Worktrees != nil && c.cfg.Merger != nil &&
		c.cfg.Worktrees.Available(ctx)
	logging.SwarmInfo("executing plan %s: %d wave(s), sandboxed=%v",
		c.cfg.Plan.ID, len(c.cfg.Plan.Waves), sandboxed)

	for _, wave := range c.cfg.Plan.Waves {
		if ctx.Err() != nil {
			result.Cancelled = true
			result.Success = false
			break
		}

		waveResult := c.runWave(ctx, wave, sandboxed)
		result.Waves = append(result.Waves, waveResult)
		for _, res := range waveResult.Results {
			result.Usage.InputTokens += res.Usage.InputTokens
			result.Usage.OutputTokens += res.Usage.OutputTokens
		}
		if waveResult.Failed {
			result.Success = false
		}
	}

	if result.Cancelled && sandboxed {
		// The caller's context is already dead; give cleanup its own.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		c.cfg.Worktrees.RemoveAll(cleanupCtx)
		cancel()
	}

	result.DurationMs = time.Since(started).Milliseconds()
	logging.SwarmInfo("plan %s finished: success=%v cancelled=%v in %dms",
		result.PlanID, result.Success, result.Cancelled, result.DurationMs)
	return result
}

// runWave sandboxes, dispatches and merges one wave. A sibling's failure
// never short-circuits the rest of the wave.
func (c *Coordinator) runWave(ctx context.Context, wave planner.Wave, sandboxed bool) WaveResult {
	waveResult := WaveResult{Number: wave.Number}

	ids := make([]string, len(wave.TaskIDs))
	copy(ids, wave.TaskIDs)
	sort.Strings(ids)

	c.publishProgress(map[string]any{
		"event": "wave_start", "wave": wave.Number, "tasks": ids,
	})

	tasks := make([]agent.Task, len(ids))
	skipped := make([]bool, len(ids))
	results := make([]agent.Result, len(ids))
	for i, id := range ids {
		tasks[i] = c.buildTask(c.cfg.Plan.Task(id))
		if !sandboxed {
			continue
		}
		info, err := c.cfg.Worktrees.Create(ctx, id)
		if err != nil {
			logging.SwarmWarn("worktree for %s failed: %v", id, err)
			results[i] = agent.Result{TaskID: id, Error: err.Error()}
			skipped[i] = true
			continue
		}
		tasks[i].WorkingDir = info.WorktreePath
	}

	var group errgroup.Group
	for i := range tasks {
		if skipped[i] {
			continue
		}
		i := i
		group.Go(func() error {
			res, err := c.cfg.Pool.Submit(ctx, tasks[i])
			if err != nil {
				res = agent.Result{TaskID: tasks[i].ID, Error: err.Error()}
			}
			results[i] = res
			return nil
		})
	}
	group.Wait()
	waveResult.Results = results

	// Merge successful branches sequentially; drop the rest.
	if sandboxed {
		var mergeIDs []string
		for i, res := range results {
			if res.Success {
				mergeIDs = append(mergeIDs, ids[i])
			} else {
				c.cfg.Worktrees.Remove(ctx, ids[i])
			}
		}
		waveResult.Merges = c.cfg.Merger.MergeAll(ctx, mergeIDs)
	}

	for _, res := range results {
		if !res.Success {
			waveResult.Failed = true
		}
		c.summaries = append(c.summaries, res.Summary())
	}
	for _, merge := range waveResult.Merges {
		if merge.Err != nil {
			waveResult.Failed = true
			c.summaries = append(c.summaries, "merge of task "+merge.TaskID+" failed: "+merge.Err.Error())
		}
	}

	c.publishProgress(map[string]any{
		"event": "wave_complete", "wave": wave.Number, "failed": waveResult.Failed,
	})
	logging.SwarmDebug("wave %d complete: failed=%v", wave.Number, waveResult.Failed)
	return waveResult
}

// buildTask converts a plan task to a runtime task, folding prior-wave
// summaries into its context.
func (c *Coordinator) buildTask(t *planner.DecomposedTask) agent.Task {
	task := agent.Task{
		ID:            t.ID,
		Title:         t.Title,
		Description:   t.Description,
		Role:          t.Role,
		Priority:      t.Priority,
		Complexity:    t.Complexity,
		RequiredTools: t.RequiredTools,
		Context:       t.Context,
		WorkingDir:    c.cfg.Workspace,
	}
	if len(c.summaries) > 0 {
		handoff := "Results from earlier tasks:\n" + strings.Join(c.summaries, "\n")
		if task.Context != "" {
			task.Context += "\n\n"
		}
		task.Context += handoff
	}
	return task
}

func (c *Coordinator) publishProgress(data map[string]any) {
	if c.cfg.Bus == nil {
		return
	}
	c.cfg.Bus.Publish("engine.stage.progress", events.StagePayload{
		Stage: "execute", Data: data,
	})
}
