// Package sandbox isolates task execution from the main working tree. Each
// task gets a git worktree on its own branch; results are merged back
// sequentially after the wave completes, and a lock manager serializes
// access to shared files when worktrees are unavailable.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cortexos/internal/errs"
	"cortexos/internal/logging"
)

// WorktreeInfo describes one active sandbox.
type WorktreeInfo struct {
	TaskID       string `json:"task_id"`
	BranchName   string `json:"branch_name"`
	WorktreePath string `json:"worktree_path"`
	BaseBranch   string `json:"base_branch"`
}

// WorktreeManager creates and removes per-task git worktrees. Branches are
// named <prefix>/<executionID>/<taskID>; worktree directories live under
// <workspace>/.cortexos/worktrees/.
type WorktreeManager struct {
	mu          sync.Mutex
	workspace   string
	executionID string
	prefix      string
	active      map[string]*WorktreeInfo
}

// NewWorktreeManager creates a manager scoped to one execution.
func NewWorktreeManager(workspace, executionID, branchPrefix string) *WorktreeManager {
	if branchPrefix == "" {
		branchPrefix = "cortexos"
	}
	return &WorktreeManager{
		workspace:   workspace,
		executionID: executionID,
		prefix:      branchPrefix,
		active:      make(map[string]*WorktreeInfo),
	}
}

// Available reports whether the workspace is a git repository with at least
// one commit, which worktree creation requires.
func (m *WorktreeManager) Available(ctx context.Context) bool {
	if _, err := git(ctx, m.workspace, "rev-parse", "--git-dir"); err != nil {
		return false
	}
	_, err := git(ctx, m.workspace, "rev-parse", "HEAD")
	return err == nil
}

// BaseBranch returns the currently checked-out branch.
func (m *WorktreeManager) BaseBranch(ctx context.Context) (string, error) {
	out, err := git(ctx, m.workspace, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Create makes a worktree for the task. A second Create for the same taskID
// returns the existing worktree.
func (m *WorktreeManager) Create(ctx context.Context, taskID string) (*WorktreeInfo, error) {
	m.mu.Lock()
	if info, ok := m.active[taskID]; ok {
		m.mu.Unlock()
		return info, nil
	}
	m.mu.Unlock()

	base, err := m.BaseBranch(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "failed to resolve base branch")
	}

	branch := fmt.Sprintf("%s/%s/%s", m.prefix, m.executionID, taskID)
	dir := filepath.Join(m.workspace, ".cortexos", "worktrees", taskID)
	if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "failed to create worktree root")
	}

	if _, err := git(ctx, m.workspace, "worktree", "add", "-b", branch, dir, base); err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "failed to create worktree for %s", taskID)
	}

	info := &WorktreeInfo{
		TaskID:       taskID,
		BranchName:   branch,
		WorktreePath: dir,
		BaseBranch:   base,
	}
	m.mu.Lock()
	m.active[taskID] = info
	m.mu.Unlock()

	logging.SandboxDebug("created worktree %s on %s", dir, branch)
	return info, nil
}

// Remove deletes the worktree and its branch. Safe to call for unknown IDs.
func (m *WorktreeManager) Remove(ctx context.Context, taskID string) error {
	m.mu.Lock()
	info, ok := m.active[taskID]
	delete(m.active, taskID)
	m.mu.Unlock()
	if !ok {
		return nil
	}

	if _, err := git(ctx, m.workspace, "worktree", "remove", "--force", info.WorktreePath); err != nil {
		logging.SandboxWarn("worktree remove failed for %s: %v", taskID, err)
		os.RemoveAll(info.WorktreePath)
		git(ctx, m.workspace, "worktree", "prune")
	}
	if _, err := git(ctx, m.workspace, "branch", "-D", info.BranchName); err != nil {
		logging.SandboxWarn("branch delete failed for %s: %v", info.BranchName, err)
	}
	return nil
}

// Active returns the active worktrees keyed by task ID.
func (m *WorktreeManager) Active() map[string]*WorktreeInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*WorktreeInfo, len(m.active))
	for id, info := range m.active {
		out[id] = info
	}
	return out
}

// RemoveAll cleans up every active worktree.
func (m *WorktreeManager) RemoveAll(ctx context.Context) {
	for taskID := range m.Active() {
		m.Remove(ctx, taskID)
	}
}

// git runs a git command in dir and returns combined output.
func git(ctx context.Context, dir string, args ...string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cctx, "git", args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("git %s failed: %w\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String(), nil
}
