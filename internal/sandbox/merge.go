package sandbox

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"cortexos/internal/errs"
	"cortexos/internal/logging"
)

// MergeResult reports the outcome of merging one task branch.
type MergeResult struct {
	TaskID    string   `json:"task_id"`
	Branch    string   `json:"branch"`
	Merged    bool     `json:"merged"`
	Conflicts []string `json:"conflicts,omitempty"`
	Err       error    `json:"-"`
}

// MergeManager folds task branches back into the base branch. Merges run
// strictly sequentially in task-ID order so the outcome is deterministic
// regardless of which task finished first.
type MergeManager struct {
	workspace string
	worktrees *WorktreeManager
}

// NewMergeManager creates a merge manager over the worktree manager's
// workspace.
func NewMergeManager(worktrees *WorktreeManager) *MergeManager {
	return &MergeManager{workspace: worktrees.workspace, worktrees: worktrees}
}

// MergeAll merges every listed task's branch. A conflicted merge is aborted,
// its worktree kept for inspection, and the remaining tasks still merge.
func (m *MergeManager) MergeAll(ctx context.Context, taskIDs []string) []MergeResult {
	ordered := make([]string, len(taskIDs))
	copy(ordered, taskIDs)
	sort.Strings(ordered)

	results := make([]MergeResult, 0, len(ordered))
	for _, taskID := range ordered {
		results = append(results, m.mergeOne(ctx, taskID))
	}
	return results
}

func (m *MergeManager) mergeOne(ctx context.Context, taskID string) MergeResult {
	result := MergeResult{TaskID: taskID}

	active := m.worktrees.Active()
	info, ok := active[taskID]
	if !ok {
		result.Err = errs.New(errs.KindMerge, "no worktree for task %s", taskID)
		return result
	}
	result.Branch = info.BranchName

	// Commit whatever the task left uncommitted so the merge sees it.
	if err := m.commitWorktree(ctx, info); err != nil {
		result.Err = err
		return result
	}

	if _, err := git(ctx, m.workspace, "merge", "--no-ff", "-m",
		fmt.Sprintf("merge task %s", taskID), info.BranchName); err != nil {

		conflicts := m.conflictPaths(ctx)
		if _, abortErr := git(ctx, m.workspace, "merge", "--abort"); abortErr != nil {
			logging.SandboxWarn("merge abort failed for %s: %v", taskID, abortErr)
		}
		result.Conflicts = conflicts
		result.Err = &errs.Error{
			Kind:    errs.KindMerge,
			Subkind: errs.SubConflict,
			TaskID:  taskID,
			Msg:     fmt.Sprintf("merge of %s conflicted: %s", info.BranchName, strings.Join(conflicts, ", ")),
		}
		logging.SandboxWarn("merge conflict on %s: %v", info.BranchName, conflicts)
		return result
	}

	result.Merged = true
	logging.SandboxDebug("merged %s", info.BranchName)
	m.worktrees.Remove(ctx, taskID)
	return result
}

// commitWorktree stages and commits all changes inside the worktree. A clean
// tree is not an error.
func (m *MergeManager) commitWorktree(ctx context.Context, info *WorktreeInfo) error {
	if _, err := git(ctx, info.WorktreePath, "add", "-A"); err != nil {
		return errs.Wrap(errs.KindMerge, err, "failed to stage changes for %s", info.TaskID)
	}
	status, err := git(ctx, info.WorktreePath, "status", "--porcelain")
	if err != nil {
		return errs.Wrap(errs.KindMerge, err, "failed to check worktree status for %s", info.TaskID)
	}
	if strings.TrimSpace(status) == "" {
		return nil
	}
	if _, err := git(ctx, info.WorktreePath, "commit", "-m",
		fmt.Sprintf("task %s changes", info.TaskID)); err != nil {
		return errs.Wrap(errs.KindMerge, err, "failed to commit changes for %s", info.TaskID)
	}
	return nil
}

// conflictPaths lists unmerged paths during an in-progress merge.
func (m *MergeManager) conflictPaths(ctx context.Context) []string {
	out, err := git(ctx, m.workspace, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil
	}
	var paths []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line != "" {
			paths = append(paths, line)
		}
	}
	sort.Strings(paths)
	return paths
}
