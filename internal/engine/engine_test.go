package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"cortexos/internal/config"
	"cortexos/internal/events"
	"cortexos/internal/llm"
	"cortexos/internal/memory"
	"cortexos/internal/sandbox"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testConfig disables everything nondeterministic: sandboxing (no git repo in
// a temp dir anyway), auto-fix and reflexion. Individual tests re-enable what
// they exercise.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default(t.TempDir())
	cfg.LLM.Provider = "mock"
	cfg.LLM.Model = "mock"
	cfg.Execution.Sandboxing = false
	cfg.Execution.MaxWorkers = 2
	cfg.Quality.AutoFix = false
	cfg.Quality.ReflexionEnabled = false
	return cfg
}

type eventLog struct {
	mu     sync.Mutex
	events []events.StreamEvent
}

func (l *eventLog) record(ev events.StreamEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) types() []events.Type {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]events.Type, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Type
	}
	return out
}

func (l *eventLog) has(typ events.Type) bool {
	for _, t := range l.types() {
		if t == typ {
			return true
		}
	}
	return false
}

func newTestEngine(t *testing.T, cfg *config.Config, provider llm.Provider, mem *memory.Store) (*Engine, *eventLog) {
	t.Helper()
	eng, err := New(cfg, Options{Provider: provider, Memory: mem})
	require.NoError(t, err)

	log := &eventLog{}
	eng.Stream().Subscribe(log.record)
	return eng, log
}

func toolCallResponse(id, tool, args string) *llm.Response {
	return &llm.Response{
		ToolCalls:    []llm.ToolCall{{ID: id, Name: tool, ArgumentsJSON: args}},
		Usage:        llm.Usage{InputTokens: 120, OutputTokens: 30},
		FinishReason: llm.FinishToolCalls,
		Model:        "mock",
	}
}

func TestPipelineHappyPath(t *testing.T) {
	cfg := testConfig(t)
	scripted := llm.NewScripted(nil)

	// Trivial prompt plans heuristically: implement then validate, one task
	// per wave. The developer writes the file, the validator signs off.
	scripted.Enqueue(toolCallResponse("call_1", "file_write",
		`{"path": "README.md", "content": "hello\n"}`))
	scripted.EnqueueText("Created README.md containing the greeting.")
	scripted.EnqueueText("Verified README.md exists and says hello.")

	eng, log := newTestEngine(t, cfg, scripted, nil)
	res := eng.Execute(context.Background(), "add a README with the word 'hello'")

	require.NotNil(t, res)
	assert.True(t, res.Success)
	assert.Equal(t, ExitOK, res.ExitCode)
	assert.Empty(t, res.Error)

	data, err := os.ReadFile(filepath.Join(cfg.Workspace, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))

	assert.Equal(t, []string{"README.md"}, res.ChangedFiles)
	require.NotNil(t, res.Plan)
	assert.Len(t, res.Waves, len(res.Plan.Waves))
	require.NotNil(t, res.Quality)
	assert.True(t, res.Quality.Passed)
	assert.Greater(t, res.CostUSD, 0.0)
	assert.Greater(t, res.Usage.OutputTokens, 0)

	types := log.types()
	require.NotEmpty(t, types)
	assert.Equal(t, events.TypePipelineStart, types[0])
	assert.Equal(t, events.TypePipelineComplete, types[len(types)-1])
	assert.True(t, log.has(events.TypeStageEnter))
	assert.True(t, log.has(events.TypeStageExit))
	assert.True(t, log.has(events.TypeAgentToolCall))
	assert.True(t, log.has(events.TypeGateStart))
	assert.True(t, log.has(events.TypeGateResult))
	assert.True(t, log.has(events.TypeCostUpdate))
	assert.True(t, eng.Stream().Closed())

	// The run is persisted for post-hoc accounting.
	_, err = os.Stat(filepath.Join(cfg.Workspace, ".cortexos", "usage.json"))
	assert.NoError(t, err)

	// Every path lock taken during the run was released at task end.
	locks, err := sandbox.NewFileLockManager(cfg.Workspace)
	require.NoError(t, err)
	assert.NoError(t, locks.Acquire(filepath.Join(cfg.Workspace, "README.md"), "post-run"))
}

func TestPipelineSharedWorkspaceLocking(t *testing.T) {
	cfg := testConfig(t)
	scripted := llm.NewScripted(nil)

	// Another task already holds the README lock, so the developer's write is
	// refused and the run finishes without touching the file.
	held, err := sandbox.NewFileLockManager(cfg.Workspace)
	require.NoError(t, err)
	target := filepath.Join(cfg.Workspace, "README.md")
	require.NoError(t, held.Acquire(target, "long-runner"))

	scripted.Enqueue(toolCallResponse("call_1", "file_write",
		`{"path": "README.md", "content": "hello\n"}`))
	scripted.EnqueueText("Could not write README.md, the file is locked.")
	scripted.EnqueueText("Nothing changed to validate.")

	eng, _ := newTestEngine(t, cfg, scripted, nil)
	res := eng.Execute(context.Background(), "add a README with the word 'hello'")

	assert.Empty(t, res.ChangedFiles)
	assert.NoFileExists(t, target)
	// The foreign lock is still in place afterwards.
	assert.True(t, held.IsLocked(target))
}

func TestPipelineStrategyReAct(t *testing.T) {
	cfg := testConfig(t)
	cfg.Execution.Strategy = "react"
	scripted := llm.NewScripted(nil)

	// Each task answers on its first thought with no tool call.
	scripted.EnqueueText("README.md created with the greeting.")
	scripted.EnqueueText("Looks correct.")

	eng, _ := newTestEngine(t, cfg, scripted, nil)
	res := eng.Execute(context.Background(), "add a README with the word 'hello'")

	assert.True(t, res.Success)
	assert.Equal(t, ExitOK, res.ExitCode)
	assert.Equal(t, 2, scripted.Calls())
	assert.Greater(t, res.CostUSD, 0.0, "deliberation spend lands on the ledger")
}

func TestPipelineBudgetRefusal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Limits.BudgetPerRunUSD = 0.0000001
	scripted := llm.NewScripted(nil)

	eng, log := newTestEngine(t, cfg, scripted, nil)
	res := eng.Execute(context.Background(), "add a README with the word 'hello'")

	assert.False(t, res.Success)
	assert.Equal(t, ExitBudget, res.ExitCode)
	assert.Contains(t, res.Error, "budget")
	assert.NotNil(t, res.Plan, "refusal still reports the plan it costed")
	assert.Empty(t, res.Waves)
	assert.Zero(t, scripted.Calls(), "no provider spend after refusal")

	assert.True(t, log.has(events.TypeCostUpdate))
	assert.True(t, log.has(events.TypePipelineError))
	assert.False(t, log.has(events.TypePipelineComplete))
}

func TestPipelineTaskFailure(t *testing.T) {
	cfg := testConfig(t)
	scripted := llm.NewScripted(nil)

	// Developer fails permanently; the validator wave still runs.
	scripted.EnqueueErr(errors.New("401 unauthorized"))
	scripted.EnqueueText("Nothing to validate.")

	eng, _ := newTestEngine(t, cfg, scripted, nil)
	res := eng.Execute(context.Background(), "add a README with the word 'hello'")

	assert.False(t, res.Success)
	assert.Equal(t, ExitFailed, res.ExitCode)
	assert.Contains(t, res.Error, "tasks failed")
	assert.Equal(t, 2, scripted.Calls())
}

func TestPipelineReflexionRecovery(t *testing.T) {
	cfg := testConfig(t)
	cfg.Quality.ReflexionEnabled = true
	scripted := llm.NewScripted(nil)

	// First attempt at the developer task fails; reflexion reruns it and the
	// fresh attempt succeeds immediately, so the run recovers.
	scripted.EnqueueErr(errors.New("401 unauthorized"))
	scripted.EnqueueText("Validation pass complete.")
	scripted.EnqueueText("Second attempt went through.")

	eng, _ := newTestEngine(t, cfg, scripted, nil)
	res := eng.Execute(context.Background(), "add a README with the word 'hello'")

	assert.True(t, res.Success)
	assert.Equal(t, ExitOK, res.ExitCode)
	assert.Equal(t, 3, scripted.Calls())
}

func TestPipelineAutoFixRecoversQuality(t *testing.T) {
	cfg := testConfig(t)
	cfg.Quality.AutoFix = true
	scripted := llm.NewScripted(nil)

	// The developer leaves a debugger statement behind; the lint gate flags
	// it, auto-fix strips the line and re-verification passes.
	scripted.Enqueue(toolCallResponse("call_1", "file_write",
		`{"path": "app.js", "content": "function greet() {\n  debugger;\n  return 'hello';\n}\n"}`))
	scripted.EnqueueText("Wrote app.js.")
	scripted.EnqueueText("Checked the change.")

	eng, _ := newTestEngine(t, cfg, scripted, nil)
	res := eng.Execute(context.Background(), "add a greeting helper")

	assert.True(t, res.Success)
	assert.Equal(t, ExitOK, res.ExitCode)
	require.NotNil(t, res.Quality)
	assert.True(t, res.Quality.Passed)
	require.NotNil(t, res.Fixes)
	assert.NotEmpty(t, res.Fixes.Actions)

	data, err := os.ReadFile(filepath.Join(cfg.Workspace, "app.js"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "debugger")
}

func TestPipelineMemoryRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	scripted := llm.NewScripted(nil)
	scripted.EnqueueText("Done.")
	scripted.EnqueueText("Validated.")

	mem, err := memory.New("", memory.Config{})
	require.NoError(t, err)
	defer mem.Close()

	ctx := context.Background()
	_, err = mem.Store(ctx, memory.Entry{
		Type:       memory.TypeSemantic,
		Content:    "the README convention here is plain markdown",
		Importance: 0.6,
	})
	require.NoError(t, err)

	eng, log := newTestEngine(t, cfg, scripted, mem)
	res := eng.Execute(ctx, "add a README with the word 'hello'")
	assert.True(t, res.Success)

	assert.True(t, log.has(events.TypeMemoryRecall))

	// The run leaves an episodic record behind.
	episodes, err := mem.Recall(ctx, "add a README", memory.TypeEpisodic, 5)
	require.NoError(t, err)
	require.Len(t, episodes, 1)
	assert.Contains(t, episodes[0].Content, "succeeded")
}

func TestPipelineCancelled(t *testing.T) {
	cfg := testConfig(t)
	scripted := llm.NewScripted(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eng, _ := newTestEngine(t, cfg, scripted, nil)
	res := eng.Execute(ctx, "add a README with the word 'hello'")

	assert.False(t, res.Success)
	assert.Equal(t, ExitFailed, res.ExitCode)
	assert.Contains(t, res.Error, "cancelled")
}
