package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext(t *testing.T) ToolContext {
	t.Helper()
	return ToolContext{WorkingDir: t.TempDir(), ExecutionID: "exec-test"}
}

func TestFileWriteThenRead(t *testing.T) {
	r := NewDefaultRegistry()
	tc := testContext(t)

	res := r.Execute(context.Background(), tc, "file_write", map[string]any{
		"path":    "sub/dir/hello.txt",
		"content": "line1\nline2\nline3",
	})
	require.NoError(t, res.Error)
	require.Len(t, res.FileChanges, 1)
	assert.Equal(t, FileChange{Path: "sub/dir/hello.txt", Op: "create", Content: "line1\nline2\nline3"}, res.FileChanges[0])

	res = r.Execute(context.Background(), tc, "file_read", map[string]any{"path": "sub/dir/hello.txt"})
	require.NoError(t, res.Error)
	assert.Equal(t, "line1\nline2\nline3", res.Output)

	// Line range, JSON-style float args.
	res = r.Execute(context.Background(), tc, "file_read", map[string]any{
		"path": "sub/dir/hello.txt", "start_line": float64(2), "end_line": float64(2),
	})
	require.NoError(t, res.Error)
	assert.Equal(t, "line2", res.Output)

	// Overwrite reports modify.
	res = r.Execute(context.Background(), tc, "file_write", map[string]any{
		"path": "sub/dir/hello.txt", "content": "new",
	})
	require.NoError(t, res.Error)
	assert.Equal(t, "modify", res.FileChanges[0].Op)
}

// recordingLocker grants every acquisition and remembers who asked for what.
type recordingLocker struct {
	acquired []string
}

func (l *recordingLocker) Acquire(path, taskID string) error {
	l.acquired = append(l.acquired, taskID+":"+filepath.Base(path))
	return nil
}

// deniedLocker refuses every acquisition.
type deniedLocker struct{}

func (deniedLocker) Acquire(path, taskID string) error {
	return fmt.Errorf("file %s is locked", filepath.Base(path))
}

func TestFileToolsAcquirePathLocks(t *testing.T) {
	r := NewDefaultRegistry()
	tc := testContext(t)
	tc.TaskID = "task-1"
	locker := &recordingLocker{}
	tc.Locks = locker

	res := r.Execute(context.Background(), tc, "file_write", map[string]any{
		"path": "notes.txt", "content": "draft",
	})
	require.NoError(t, res.Error)

	res = r.Execute(context.Background(), tc, "file_edit", map[string]any{
		"path": "notes.txt", "old_text": "draft", "new_text": "final",
	})
	require.NoError(t, res.Error)

	res = r.Execute(context.Background(), tc, "file_delete", map[string]any{"path": "notes.txt"})
	require.NoError(t, res.Error)

	assert.Equal(t, []string{
		"task-1:notes.txt", "task-1:notes.txt", "task-1:notes.txt",
	}, locker.acquired)

	// Reads never take locks.
	res = r.Execute(context.Background(), tc, "list_dir", map[string]any{})
	require.NoError(t, res.Error)
	assert.Len(t, locker.acquired, 3)
}

func TestFileWriteRefusedWhenPathLocked(t *testing.T) {
	r := NewDefaultRegistry()
	tc := testContext(t)
	tc.TaskID = "task-2"
	tc.Locks = deniedLocker{}

	res := r.Execute(context.Background(), tc, "file_write", map[string]any{
		"path": "shared.txt", "content": "mine now",
	})
	require.Error(t, res.Error)
	assert.Contains(t, res.Error.Error(), "locked")
	assert.Empty(t, res.FileChanges)
	assert.NoFileExists(t, filepath.Join(tc.WorkingDir, "shared.txt"))
}

func TestFileEdit(t *testing.T) {
	r := NewDefaultRegistry()
	tc := testContext(t)
	path := filepath.Join(tc.WorkingDir, "code.go")
	require.NoError(t, os.WriteFile(path, []byte("foo bar foo"), 0644))

	res := r.Execute(context.Background(), tc, "file_edit", map[string]any{
		"path": "code.go", "old_text": "foo", "new_text": "baz",
	})
	require.NoError(t, res.Error)
	data, _ := os.ReadFile(path)
	assert.Equal(t, "baz bar foo", string(data))

	res = r.Execute(context.Background(), tc, "file_edit", map[string]any{
		"path": "code.go", "old_text": "foo", "new_text": "baz", "all": true,
	})
	require.NoError(t, res.Error)
	data, _ = os.ReadFile(path)
	assert.Equal(t, "baz bar baz", string(data))

	res = r.Execute(context.Background(), tc, "file_edit", map[string]any{
		"path": "code.go", "old_text": "absent", "new_text": "x",
	})
	require.Error(t, res.Error)
	assert.Contains(t, res.Error.Error(), "not found")
}

func TestFileDelete(t *testing.T) {
	r := NewDefaultRegistry()
	tc := testContext(t)
	path := filepath.Join(tc.WorkingDir, "gone.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	res := r.Execute(context.Background(), tc, "file_delete", map[string]any{"path": "gone.txt"})
	require.NoError(t, res.Error)
	assert.Equal(t, "delete", res.FileChanges[0].Op)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Directories are refused.
	require.NoError(t, os.Mkdir(filepath.Join(tc.WorkingDir, "d"), 0755))
	res = r.Execute(context.Background(), tc, "file_delete", map[string]any{"path": "d"})
	require.Error(t, res.Error)
}

func TestListDir(t *testing.T) {
	r := NewDefaultRegistry()
	tc := testContext(t)
	require.NoError(t, os.WriteFile(filepath.Join(tc.WorkingDir, "b.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tc.WorkingDir, "a.txt"), []byte("x"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(tc.WorkingDir, "sub"), 0755))

	res := r.Execute(context.Background(), tc, "list_dir", map[string]any{})
	require.NoError(t, res.Error)
	assert.Equal(t, "a.txt\nb.txt\nsub/", res.Output)
}

func TestPathEscapeRejected(t *testing.T) {
	r := NewDefaultRegistry()
	tc := testContext(t)

	for _, path := range []string{"../outside.txt", "sub/../../outside.txt", "/etc/passwd"} {
		res := r.Execute(context.Background(), tc, "file_read", map[string]any{"path": path})
		require.Error(t, res.Error, path)
		assert.Contains(t, res.Error.Error(), "escapes working directory", path)
	}
}

func TestShellRunsInWorkingDir(t *testing.T) {
	r := NewDefaultRegistry()
	tc := testContext(t)
	require.NoError(t, os.WriteFile(filepath.Join(tc.WorkingDir, "marker.txt"), []byte("x"), 0644))

	res := r.Execute(context.Background(), tc, "shell", map[string]any{"command": "ls"})
	require.NoError(t, res.Error)
	assert.Contains(t, res.Output, "marker.txt")
}

func TestShellDenyList(t *testing.T) {
	r := NewDefaultRegistry()
	tc := testContext(t)

	for _, cmd := range []string{
		"rm -rf / --no-preserve-root",
		":(){ :|:& };:",
		"mkfs.ext4 /dev/sda1",
		"dd if=/dev/zero of=/dev/sda",
		"echo pwned > /dev/sda",
	} {
		res := r.Execute(context.Background(), tc, "shell", map[string]any{"command": cmd})
		require.Error(t, res.Error, cmd)
		assert.Contains(t, res.Error.Error(), "blocked", cmd)
	}
}

func TestShellCapturesStderrAndFailure(t *testing.T) {
	r := NewDefaultRegistry()
	tc := testContext(t)

	res := r.Execute(context.Background(), tc, "shell", map[string]any{
		"command": "echo out; echo err >&2; exit 3",
	})
	require.Error(t, res.Error)
	assert.Contains(t, res.Output, "out")
	assert.Contains(t, res.Output, "err")
}
