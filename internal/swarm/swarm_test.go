package swarm

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"cortexos/internal/agent"
	"cortexos/internal/planner"
	"cortexos/internal/pool"
	"cortexos/internal/sandbox"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// twoWavePlan builds dev-then-tester: t1 in wave 0, t2 in wave 1.
func twoWavePlan() *planner.Plan {
	return &planner.Plan{
		ID: "plan-1",
		Tasks: []planner.DecomposedTask{
			{ID: "t1", Title: "implement", Role: "developer", Priority: 6},
			{ID: "t2", Title: "test", Role: "tester", Priority: 5, DependsOn: []string{"t1"}},
		},
		Waves: []planner.Wave{
			{Number: 0, TaskIDs: []string{"t1"}},
			{Number: 1, TaskIDs: []string{"t2"}},
		},
	}
}

func newTestPool(t *testing.T, runner pool.Runner) *pool.Pool {
	t.Helper()
	p := pool.New(pool.Config{MaxWorkers: 4, Runner: runner})
	t.Cleanup(p.Shutdown)
	return p
}

func TestExecuteHandsSummariesForward(t *testing.T) {
	var mu sync.Mutex
	received := map[string]agent.Task{}
	p := newTestPool(t, func(ctx context.Context, task agent.Task) agent.Result {
		mu.Lock()
		received[task.ID] = task
		mu.Unlock()
		return agent.Result{TaskID: task.ID, Success: true, Response: "done " + task.ID}
	})

	c := New(Config{Plan: twoWavePlan(), Pool: p, Workspace: t.TempDir()})
	result := c.Execute(context.Background())

	require.True(t, result.Success)
	require.Len(t, result.Waves, 2)
	assert.False(t, result.Cancelled)

	// Wave 2's task sees what wave 1 produced.
	assert.NotContains(t, received["t1"].Context, "t1 succeeded")
	assert.Contains(t, received["t2"].Context, "task t1 succeeded")
	assert.Contains(t, received["t2"].Context, "done t1")

	r1, ok := result.Result("t1")
	require.True(t, ok)
	assert.True(t, r1.Success)
}

func TestSiblingFailureDoesNotShortCircuit(t *testing.T) {
	p := newTestPool(t, func(ctx context.Context, task agent.Task) agent.Result {
		if task.ID == "bad" {
			return agent.Result{TaskID: task.ID, Error: "exploded"}
		}
		return agent.Result{TaskID: task.ID, Success: true}
	})

	plan := &planner.Plan{
		ID: "plan-2",
		Tasks: []planner.DecomposedTask{
			{ID: "good", Title: "a", Role: "developer"},
			{ID: "bad", Title: "b", Role: "developer"},
			{ID: "later", Title: "c", Role: "validator"},
		},
		Waves: []planner.Wave{
			// Deliberately unsorted to check result ordering.
			{Number: 0, TaskIDs: []string{"good", "bad"}, Parallelizable: true},
			{Number: 1, TaskIDs: []string{"later"}},
		},
	}
	c := New(Config{Plan: plan, Pool: p, Workspace: t.TempDir()})
	result := c.Execute(context.Background())

	assert.False(t, result.Success)
	require.Len(t, result.Waves, 2)

	wave := result.Waves[0]
	assert.True(t, wave.Failed)
	require.Len(t, wave.Results, 2)
	// Task-id order regardless of completion order.
	assert.Equal(t, "bad", wave.Results[0].TaskID)
	assert.Equal(t, "good", wave.Results[1].TaskID)
	assert.True(t, wave.Results[1].Success, "sibling must still run")

	// Later wave still ran despite the failure.
	assert.False(t, result.Waves[1].Failed)
	later, ok := result.Result("later")
	require.True(t, ok)
	assert.True(t, later.Success)
}

func TestExecuteCancelledBeforeStart(t *testing.T) {
	p := newTestPool(t, func(ctx context.Context, task agent.Task) agent.Result {
		t.Error("runner must not be called")
		return agent.Result{}
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(Config{Plan: twoWavePlan(), Pool: p, Workspace: t.TempDir()})
	result := c.Execute(ctx)

	assert.True(t, result.Cancelled)
	assert.False(t, result.Success)
	assert.Empty(t, result.Waves)
}

func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	mustGit(t, dir, "init", "-b", "main")
	mustGit(t, dir, "config", "user.email", "test@example.com")
	mustGit(t, dir, "config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shared.txt"), []byte("base\n"), 0644))
	mustGit(t, dir, "add", ".")
	mustGit(t, dir, "commit", "-m", "initial")
	return dir
}

func mustGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return string(out)
}

func TestSandboxedWaveWithMergeConflict(t *testing.T) {
	repo := initRepo(t)

	// Both tasks rewrite the same file with different content.
	p := newTestPool(t, func(ctx context.Context, task agent.Task) agent.Result {
		path := filepath.Join(task.WorkingDir, "shared.txt")
		err := os.WriteFile(path, []byte("written by "+task.ID+"\n"), 0644)
		require.NoError(t, err)
		return agent.Result{TaskID: task.ID, Success: true}
	})

	wm := sandbox.NewWorktreeManager(repo, "exec1", "cortexos")
	plan := &planner.Plan{
		ID: "plan-3",
		Tasks: []planner.DecomposedTask{
			{ID: "task-a", Title: "a", Role: "developer"},
			{ID: "task-b", Title: "b", Role: "developer"},
		},
		Waves: []planner.Wave{
			{Number: 0, TaskIDs: []string{"task-a", "task-b"}, Parallelizable: true},
		},
	}
	c := New(Config{
		Plan:      plan,
		Pool:      p,
		Worktrees: wm,
		Merger:    sandbox.NewMergeManager(wm),
		Workspace: repo,
	})
	result := c.Execute(context.Background())

	assert.False(t, result.Success, "conflict must fail the plan")
	require.Len(t, result.Waves, 1)
	wave := result.Waves[0]

	// Both agents succeeded; the merge step is where the conflict surfaces.
	require.Len(t, wave.Results, 2)
	assert.True(t, wave.Results[0].Success)
	assert.True(t, wave.Results[1].Success)

	require.Len(t, wave.Merges, 2)
	assert.Equal(t, "task-a", wave.Merges[0].TaskID)
	assert.True(t, wave.Merges[0].Merged)
	assert.False(t, wave.Merges[1].Merged)
	assert.Contains(t, wave.Merges[1].Conflicts, "shared.txt")

	// First write landed in the workspace.
	content, err := os.ReadFile(filepath.Join(repo, "shared.txt"))
	require.NoError(t, err)
	assert.Equal(t, "written by task-a\n", string(content))

	// The aborted merge leaves the tree clean and keeps the loser's worktree.
	status := mustGit(t, repo, "status", "--porcelain")
	assert.Empty(t, strings.TrimSpace(status))
	assert.Contains(t, wm.Active(), "task-b")
}

func TestSandboxedCleanWave(t *testing.T) {
	repo := initRepo(t)
	p := newTestPool(t, func(ctx context.Context, task agent.Task) agent.Result {
		path := filepath.Join(task.WorkingDir, task.ID+".txt")
		require.NoError(t, os.WriteFile(path, []byte("ok\n"), 0644))
		return agent.Result{TaskID: task.ID, Success: true}
	})

	wm := sandbox.NewWorktreeManager(repo, "exec2", "cortexos")
	plan := &planner.Plan{
		ID: "plan-4",
		Tasks: []planner.DecomposedTask{
			{ID: "one", Title: "one", Role: "developer"},
			{ID: "two", Title: "two", Role: "developer"},
		},
		Waves: []planner.Wave{
			{Number: 0, TaskIDs: []string{"one", "two"}, Parallelizable: true},
		},
	}
	c := New(Config{
		Plan: plan, Pool: p,
		Worktrees: wm, Merger: sandbox.NewMergeManager(wm),
		Workspace: repo,
	})
	result := c.Execute(context.Background())

	assert.True(t, result.Success)
	assert.FileExists(t, filepath.Join(repo, "one.txt"))
	assert.FileExists(t, filepath.Join(repo, "two.txt"))
	assert.Empty(t, wm.Active(), "merged worktrees are removed")
}
