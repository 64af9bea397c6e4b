// Package engine drives the end-to-end pipeline: analyze the prompt, plan a
// task DAG, pre-authorize its cost, execute it wave by wave, verify the
// result, auto-fix what can be fixed mechanically and package everything
// into one ExecutionResult. Stages stream progress through the event bus.
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"cortexos/internal/agent"
	"cortexos/internal/config"
	"cortexos/internal/cost"
	"cortexos/internal/errs"
	"cortexos/internal/events"
	"cortexos/internal/llm"
	"cortexos/internal/logging"
	"cortexos/internal/memory"
	"cortexos/internal/planner"
	"cortexos/internal/pool"
	"cortexos/internal/quality"
	"cortexos/internal/reasoning"
	"cortexos/internal/sandbox"
	"cortexos/internal/swarm"
	"cortexos/internal/tools"
)

// Exit codes for the CLI surface.
const (
	ExitOK       = 0
	ExitFailed   = 1 // plan or quality failure
	ExitBudget   = 2
	ExitInternal = 3
)

// ExecutionResult is the aggregate outcome of one pipeline run. Fatal errors
// still produce a partial result with everything assembled up to that point.
type ExecutionResult struct {
	ExecutionID  string                 `json:"execution_id"`
	Prompt       string                 `json:"prompt"`
	Success      bool                   `json:"success"`
	ExitCode     int                    `json:"exit_code"`
	Analysis     planner.PromptAnalysis `json:"analysis"`
	Plan         *planner.Plan          `json:"plan,omitempty"`
	Waves        []swarm.WaveResult     `json:"waves,omitempty"`
	Quality      *quality.Report        `json:"quality,omitempty"`
	Fixes        *quality.FixResult     `json:"fixes,omitempty"`
	ChangedFiles []string               `json:"changed_files,omitempty"`
	Usage        llm.Usage              `json:"usage"`
	CostUSD      float64                `json:"cost_usd"`
	Error        string                 `json:"error,omitempty"`
	DurationMs   int64                  `json:"duration_ms"`
}

// Options injects collaborators; zero values build the defaults from config.
type Options struct {
	Provider llm.Provider
	Memory   *memory.Store
	Stream   *events.StreamController
}

// Engine runs one pipeline per Execute call.
type Engine struct {
	cfg      *config.Config
	provider llm.Provider
	ledger   *cost.Ledger
	registry *tools.Registry
	memory   *memory.Store

	bus    *events.Bus
	stream *events.StreamController
	bridge *events.Bridge
}

// New assembles an engine for a workspace.
func New(cfg *config.Config, opts Options) (*Engine, error) {
	provider := opts.Provider
	if provider == nil {
		p, err := llm.New(cfg.LLM)
		if err != nil {
			return nil, err
		}
		provider = p
	}

	ledger, err := cost.NewLedger(cfg.Workspace, cost.Budgets{
		PerRunUSD: cfg.Limits.BudgetPerRunUSD,
		PerDayUSD: cfg.Limits.BudgetPerDayUSD,
	})
	if err != nil {
		return nil, err
	}

	stream := opts.Stream
	if stream == nil {
		stream = events.NewStreamController()
	}
	bus := events.NewBus()
	heartbeat := time.Duration(cfg.Execution.HeartbeatMs) * time.Millisecond

	return &Engine{
		cfg:      cfg,
		provider: provider,
		ledger:   ledger,
		registry: tools.NewDefaultRegistry(),
		memory:   opts.Memory,
		bus:      bus,
		stream:   stream,
		bridge:   events.NewBridge(bus, stream, heartbeat),
	}, nil
}

// Stream exposes the event stream for consumers (CLI renderer, SSE relay).
func (e *Engine) Stream() *events.StreamController { return e.stream }

// Bus exposes the internal bus, mainly for tests.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Execute runs the full pipeline for one prompt. It always returns a result;
// the stream is closed when the result is final.
func (e *Engine) Execute(ctx context.Context, prompt string) *ExecutionResult {
	started := time.Now()
	result := &ExecutionResult{
		ExecutionID: uuid.NewString()[:8],
		Prompt:      prompt,
	}
	defer func() {
		result.DurationMs = time.Since(started).Milliseconds()
		result.CostUSD = e.ledger.RunTotal()
		e.ledger.Save()
		e.finish()
	}()

	e.bus.Publish("engine.pipeline.start", events.StagePayload{Data: map[string]any{
		"execution_id": result.ExecutionID, "prompt": prompt,
	}})
	logging.EngineInfo("execution %s: %q", result.ExecutionID, prompt)

	// Analyze.
	e.enterStage("analyze")
	result.Analysis = planner.NewAnalyzer().Analyze(prompt)
	e.exitStage("analyze", nil)

	recalled := e.recall(ctx, prompt)

	// Decompose and plan.
	e.enterStage("plan")
	tasks := planner.NewDecomposer(e.provider, e.cfg.LLM.Model).Decompose(ctx, result.Analysis)
	for i := range tasks {
		if recalled != "" {
			tasks[i].Context = joinContext(tasks[i].Context, "Relevant memory:\n"+recalled)
		}
	}
	result.Plan = planner.NewPlanner(e.cfg.LLM.Model).BuildPlan(tasks)
	e.exitStage("plan", nil)

	// Pre-authorize the whole plan.
	if err := e.ledger.PreAuthorizeUSD(result.Plan.EstimatedCostUSD); err != nil {
		e.bus.Publish("cost.update", events.StagePayload{Data: map[string]any{
			"run_total_usd": e.ledger.RunTotal(), "error": err.Error(),
		}})
		return e.fail(result, err)
	}

	// Execute.
	e.enterStage("execute")
	planResult := e.runPlan(ctx, result)
	result.Waves = planResult.Waves
	result.Usage = planResult.Usage
	result.ChangedFiles = changedFiles(planResult)
	e.exitStage("execute", nil)

	// Verify, auto-fix once, optionally reflect on the last failing task.
	report := e.verify(ctx, result)
	result.Quality = &report

	if planResult.Cancelled {
		return e.fail(result, errs.New(errs.KindCancel, "execution cancelled"))
	}

	planOK := planResult.Success
	if !planOK && e.cfg.Quality.ReflexionEnabled {
		planOK = e.reflect(ctx, result, planResult)
	}

	result.Success = planOK && report.Passed
	if result.Success {
		result.ExitCode = ExitOK
	} else {
		result.ExitCode = ExitFailed
		result.Error = failureSummary(planOK, report)
	}
	e.remember(ctx, result)
	e.bus.Publish("engine.pipeline.complete", events.StagePayload{Data: map[string]any{
		"execution_id": result.ExecutionID,
		"success":      result.Success,
		"cost_usd":     e.ledger.RunTotal(),
	}})
	return result
}

// runPlan builds the pool, coordinator and sandbox for one plan and executes
// it. The pool's runner records every agent's spend on the ledger. Tasks that
// cannot get a worktree of their own share the workspace under per-file locks.
func (e *Engine) runPlan(ctx context.Context, result *ExecutionResult) *swarm.PlanResult {
	var worktrees *sandbox.WorktreeManager
	var merger *sandbox.MergeManager
	if e.cfg.Execution.Sandboxing {
		w := sandbox.NewWorktreeManager(e.cfg.Workspace, result.ExecutionID, e.cfg.Execution.BranchPrefix)
		if w.Available(ctx) {
			worktrees = w
			merger = sandbox.NewMergeManager(w)
		}
	}
	var locks *sandbox.FileLockManager
	if worktrees == nil {
		l, err := sandbox.NewFileLockManager(e.cfg.Workspace)
		if err != nil {
			logging.EngineError("file locking unavailable: %v", err)
		} else {
			locks = l
		}
	}

	runner := func(ctx context.Context, task agent.Task) agent.Result {
		toolCtx := tools.ToolContext{
			WorkingDir:  e.cfg.Workspace,
			ExecutionID: result.ExecutionID,
			TaskID:      task.ID,
		}
		if locks != nil {
			toolCtx.Locks = locks
			defer locks.ReleaseAll(task.ID)
		}
		res := e.runTask(ctx, task, toolCtx)
		e.bus.Publish("cost.update", events.StagePayload{Data: map[string]any{
			"run_total_usd": e.ledger.RunTotal(), "task_id": task.ID,
		}})
		return res
	}

	p := pool.New(pool.Config{
		Mode:        e.cfg.Execution.Mode,
		MaxWorkers:  e.cfg.Execution.MaxWorkers,
		TaskTimeout: e.cfg.Limits.TaskTimeout(),
		Runner:      runner,
		Provider:    e.cfg.LLM,
	})
	defer p.Shutdown()

	coordinator := swarm.New(swarm.Config{
		Plan:      result.Plan,
		Pool:      p,
		Worktrees: worktrees,
		Merger:    merger,
		Bus:       e.bus,
		Workspace: e.cfg.Workspace,
	})
	return coordinator.Execute(ctx)
}

// runTask executes one task, either through the plain agent loop or wrapped
// in the configured deliberation strategy. Strategies charge the ledger as
// they go; the plain loop is charged here.
func (e *Engine) runTask(ctx context.Context, task agent.Task, toolCtx tools.ToolContext) agent.Result {
	agentCfg := agent.Config{
		Role:          task.Role,
		Provider:      e.provider,
		Registry:      e.registry,
		ToolContext:   toolCtx,
		MaxIterations: e.cfg.Limits.MaxIterations,
		Bus:           e.bus,
	}
	model := agent.ModelForRole(task.Role, e.cfg.LLM.Model)

	if name := e.cfg.Execution.Strategy; name != "" {
		strategy, err := reasoning.ForName(name, reasoning.Config{
			Provider:      e.provider,
			Model:         model,
			Ledger:        e.ledger,
			CostBudgetUSD: e.cfg.Limits.BudgetPerRunUSD,
			Agent:         agentCfg,
		})
		if err != nil {
			return agent.Result{TaskID: task.ID, Error: err.Error()}
		}
		return strategy.Execute(ctx, task)
	}

	res := agent.New(agentCfg).Execute(ctx, task)
	e.ledger.RecordCall(e.provider.Name(), model, res.Usage.InputTokens, res.Usage.OutputTokens)
	return res
}

// verify runs the configured gates over the union of changed files, then
// auto-fixes and re-verifies once if allowed.
func (e *Engine) verify(ctx context.Context, result *ExecutionResult) quality.Report {
	e.enterStage("verify")
	defer e.exitStage("verify", nil)

	verifier := quality.NewVerifier(e.cfg.Quality.Gates, e.cfg.Quality.ComplexityThreshold)
	verifier.OnGateStart = func(name string) {
		e.bus.Publish("quality.gate.start", events.StagePayload{
			Stage: "verify", Data: map[string]any{"gate": name},
		})
	}
	qc := quality.QualityContext{
		WorkingDir:   e.cfg.Workspace,
		FilesChanged: result.ChangedFiles,
		ExecutionID:  result.ExecutionID,
	}
	report := verifier.Run(ctx, qc)
	e.publishGateResults(report)
	if report.Passed || !e.cfg.Quality.AutoFix {
		return report
	}

	fixes := quality.AutoFix(ctx, qc, report)
	result.Fixes = &fixes
	if len(fixes.Actions) == 0 {
		return report
	}
	logging.EngineInfo("auto-fix applied %d action(s), re-verifying", len(fixes.Actions))
	report = verifier.Run(ctx, qc)
	e.publishGateResults(report)
	return report
}

// reflect retries the last failing task with a critique-driven agent. It
// reports whether the plan can be considered recovered.
func (e *Engine) reflect(ctx context.Context, result *ExecutionResult, planResult *swarm.PlanResult) bool {
	failing := lastFailingTask(planResult)
	if failing == "" {
		return false
	}
	planTask := result.Plan.Task(failing)
	if planTask == nil {
		return false
	}
	e.enterStage("reflexion")
	defer e.exitStage("reflexion", nil)

	strategy := reasoning.NewReflexion(reasoning.Config{
		Provider:      e.provider,
		Model:         e.cfg.LLM.Model,
		Ledger:        e.ledger,
		CostBudgetUSD: e.cfg.Limits.BudgetPerRunUSD,
		Agent: agent.Config{
			Role:          planTask.Role,
			Provider:      e.provider,
			Registry:      e.registry,
			ToolContext:   tools.ToolContext{WorkingDir: e.cfg.Workspace, ExecutionID: result.ExecutionID},
			MaxIterations: e.cfg.Limits.MaxIterations,
			Bus:           e.bus,
		},
	}, e.cfg.Quality.ReflexionMaxRetries, reasoning.TriggerFailure)

	retry := strategy.Execute(ctx, agent.Task{
		ID:            planTask.ID,
		Title:         planTask.Title,
		Description:   planTask.Description,
		Role:          planTask.Role,
		Priority:      planTask.Priority,
		Complexity:    planTask.Complexity,
		RequiredTools: planTask.RequiredTools,
		Context:       planTask.Context,
		WorkingDir:    e.cfg.Workspace,
	})
	result.Usage.InputTokens += retry.Usage.InputTokens
	result.Usage.OutputTokens += retry.Usage.OutputTokens
	logging.EngineInfo("reflexion on %s: success=%v", failing, retry.Success)

	// Only the retried task was recovered; other failures keep the plan failed.
	return retry.Success && failureCount(planResult) == 1
}

// recall fetches relevant memory and streams what was found.
func (e *Engine) recall(ctx context.Context, prompt string) string {
	if e.memory == nil {
		return ""
	}
	entries, err := e.memory.Recall(ctx, prompt, "", 3)
	if err != nil {
		logging.EngineError("memory recall failed: %v", err)
		return ""
	}
	e.bus.Publish("memory.recall.result", events.StagePayload{Data: map[string]any{
		"count": len(entries),
	}})
	joined := ""
	for _, entry := range entries {
		if entry.Similarity <= 0 {
			continue
		}
		if joined != "" {
			joined += "\n"
		}
		joined += "- " + entry.Content
	}
	return joined
}

// remember stores an episodic summary of the run.
func (e *Engine) remember(ctx context.Context, result *ExecutionResult) {
	if e.memory == nil {
		return
	}
	outcome := "succeeded"
	importance := 0.4
	if !result.Success {
		outcome = "failed: " + result.Error
		importance = 0.6
	}
	_, err := e.memory.Store(ctx, memory.Entry{
		Type:       memory.TypeEpisodic,
		Content:    fmt.Sprintf("request %q %s (%d file(s) changed)", result.Prompt, outcome, len(result.ChangedFiles)),
		Importance: importance,
	})
	if err != nil {
		logging.EngineError("episodic store failed: %v", err)
	}
}

// fail assembles a partial result for a fatal error and maps its exit code.
func (e *Engine) fail(result *ExecutionResult, err error) *ExecutionResult {
	result.Success = false
	result.Error = err.Error()
	switch errs.KindOf(err) {
	case errs.KindBudget:
		result.ExitCode = ExitBudget
	case errs.KindCancel, errs.KindTimeout, errs.KindQuality:
		result.ExitCode = ExitFailed
	default:
		result.ExitCode = ExitInternal
	}
	e.bus.Publish("engine.pipeline.error", events.StagePayload{Data: map[string]any{
		"execution_id": result.ExecutionID, "error": result.Error,
	}})
	logging.EngineError("execution %s failed: %s", result.ExecutionID, result.Error)
	return result
}

// finish tears down the stream once the result is final.
func (e *Engine) finish() {
	e.bridge.Stop()
	e.stream.Close()
}

func (e *Engine) enterStage(name string) {
	e.bus.Publish("engine.stage.enter", events.StagePayload{Stage: name})
	logging.EngineDebug("stage %s enter", name)
}

func (e *Engine) exitStage(name string, err error) {
	data := map[string]any{}
	if err != nil {
		data["error"] = err.Error()
	}
	e.bus.Publish("engine.stage.exit", events.StagePayload{Stage: name, Data: data})
	logging.EngineDebug("stage %s exit (err=%v)", name, err)
}

func (e *Engine) publishGateResults(report quality.Report) {
	for _, gr := range report.Results {
		e.bus.Publish("quality.gate.result", events.StagePayload{Stage: "verify", Data: gr})
	}
}

// changedFiles unions the file paths every task touched, sorted.
func changedFiles(planResult *swarm.PlanResult) []string {
	seen := map[string]bool{}
	var files []string
	for _, wave := range planResult.Waves {
		for _, res := range wave.Results {
			for _, fc := range res.FileChanges {
				if !seen[fc.Path] {
					seen[fc.Path] = true
					files = append(files, fc.Path)
				}
			}
		}
	}
	sort.Strings(files)
	return files
}

func lastFailingTask(planResult *swarm.PlanResult) string {
	last := ""
	for _, wave := range planResult.Waves {
		for _, res := range wave.Results {
			if !res.Success {
				last = res.TaskID
			}
		}
	}
	return last
}

func failureCount(planResult *swarm.PlanResult) int {
	n := 0
	for _, wave := range planResult.Waves {
		for _, res := range wave.Results {
			if !res.Success {
				n++
			}
		}
		for _, merge := range wave.Merges {
			if merge.Err != nil {
				n++
			}
		}
	}
	return n
}

func failureSummary(planOK bool, report quality.Report) string {
	switch {
	case !planOK && !report.Passed:
		return "plan failed and quality gates failed: " + joinIssues(report)
	case !planOK:
		return "one or more tasks failed"
	default:
		return "quality gates failed: " + joinIssues(report)
	}
}

func joinIssues(report quality.Report) string {
	issues := report.Errors()
	if len(issues) == 0 {
		return "no error detail"
	}
	out := issues[0].Message
	if len(issues) > 1 {
		out += fmt.Sprintf(" (and %d more)", len(issues)-1)
	}
	return out
}

func joinContext(existing, extra string) string {
	if existing == "" {
		return extra
	}
	return existing + "\n\n" + extra
}
