package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cortexos/internal/logging"
)

// Builtins returns every built-in tool.
func Builtins() []*Tool {
	return []*Tool{
		FileReadTool(),
		FileWriteTool(),
		FileEditTool(),
		FileDeleteTool(),
		ListDirTool(),
		ShellTool(),
		GitStatusTool(),
	}
}

// resolvePath joins a tool path argument onto the working directory and
// rejects paths that escape it.
func resolvePath(tc ToolContext, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	root := tc.WorkingDir
	if root == "" {
		root = "."
	}
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(root, path)
	}
	full = filepath.Clean(full)

	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes working directory: %s", path)
	}
	return full, nil
}

// FileReadTool reads a file, optionally a line range.
func FileReadTool() *Tool {
	return &Tool{
		Name:        "file_read",
		Description: "Read the contents of a file, optionally a line range",
		Schema: Schema{
			Required: []string{"path"},
			Properties: map[string]Property{
				"path":       {Type: "string", Description: "File path relative to the working directory"},
				"start_line": {Type: "integer", Description: "First line to include (1-indexed)"},
				"end_line":   {Type: "integer", Description: "Last line to include (inclusive)"},
			},
		},
		Execute: executeFileRead,
	}
}

func executeFileRead(ctx context.Context, tc ToolContext, args map[string]any) (string, []FileChange, error) {
	path, err := resolvePath(tc, argString(args, "path"))
	if err != nil {
		return "", nil, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read file: %w", err)
	}
	result := string(content)

	start, hasStart := argInt(args, "start_line")
	end, hasEnd := argInt(args, "end_line")
	if hasStart || hasEnd {
		lines := strings.Split(result, "\n")
		if !hasStart || start < 1 {
			start = 1
		}
		if !hasEnd || end > len(lines) {
			end = len(lines)
		}
		if start > end {
			return "", nil, fmt.Errorf("start_line %d is past end_line %d", start, end)
		}
		result = strings.Join(lines[start-1:end], "\n")
	}

	logging.ToolsDebug("file_read %s (%d bytes)", path, len(result))
	return result, nil, nil
}

// FileWriteTool writes a file, creating parent directories.
func FileWriteTool() *Tool {
	return &Tool{
		Name:        "file_write",
		Description: "Write content to a file, creating it and its parent directories if needed",
		Schema: Schema{
			Required: []string{"path", "content"},
			Properties: map[string]Property{
				"path":    {Type: "string", Description: "File path relative to the working directory"},
				"content": {Type: "string", Description: "Full file content to write"},
			},
		},
		Execute: executeFileWrite,
	}
}

func executeFileWrite(ctx context.Context, tc ToolContext, args map[string]any) (string, []FileChange, error) {
	path, err := resolvePath(tc, argString(args, "path"))
	if err != nil {
		return "", nil, err
	}
	if err := lockForWrite(tc, path); err != nil {
		return "", nil, err
	}
	content := argString(args, "content")

	op := "modify"
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		op = "create"
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", nil, fmt.Errorf("failed to create directories: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", nil, fmt.Errorf("failed to write file: %w", err)
	}

	logging.ToolsDebug("file_write %s (%d bytes, %s)", path, len(content), op)
	return fmt.Sprintf("Wrote %d bytes to %s", len(content), argString(args, "path")),
		[]FileChange{{Path: argString(args, "path"), Op: op, Content: content}}, nil
}

// FileEditTool replaces text in a file.
func FileEditTool() *Tool {
	return &Tool{
		Name:        "file_edit",
		Description: "Edit a file by replacing old_text with new_text",
		Schema: Schema{
			Required: []string{"path", "old_text", "new_text"},
			Properties: map[string]Property{
				"path":     {Type: "string", Description: "File path relative to the working directory"},
				"old_text": {Type: "string", Description: "Exact text to replace"},
				"new_text": {Type: "string", Description: "Replacement text"},
				"all":      {Type: "boolean", Description: "Replace every occurrence (default: first only)"},
			},
		},
		Execute: executeFileEdit,
	}
}

func executeFileEdit(ctx context.Context, tc ToolContext, args map[string]any) (string, []FileChange, error) {
	path, err := resolvePath(tc, argString(args, "path"))
	if err != nil {
		return "", nil, err
	}
	if err := lockForWrite(tc, path); err != nil {
		return "", nil, err
	}
	oldText := argString(args, "old_text")
	newText := argString(args, "new_text")
	if oldText == "" {
		return "", nil, fmt.Errorf("old_text is required")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read file: %w", err)
	}
	text := string(content)

	count := strings.Count(text, oldText)
	if count == 0 {
		return "", nil, fmt.Errorf("old_text not found in %s", argString(args, "path"))
	}

	replaced := 1
	if all, _ := args["all"].(bool); all {
		text = strings.ReplaceAll(text, oldText, newText)
		replaced = count
	} else {
		text = strings.Replace(text, oldText, newText, 1)
	}

	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return "", nil, fmt.Errorf("failed to write file: %w", err)
	}

	logging.ToolsDebug("file_edit %s (%d replacement(s))", path, replaced)
	return fmt.Sprintf("Replaced %d occurrence(s) in %s", replaced, argString(args, "path")),
		[]FileChange{{Path: argString(args, "path"), Op: "modify"}}, nil
}

// FileDeleteTool removes a file.
func FileDeleteTool() *Tool {
	return &Tool{
		Name:        "file_delete",
		Description: "Delete a file",
		Schema: Schema{
			Required: []string{"path"},
			Properties: map[string]Property{
				"path": {Type: "string", Description: "File path relative to the working directory"},
			},
		},
		Execute: executeFileDelete,
	}
}

func executeFileDelete(ctx context.Context, tc ToolContext, args map[string]any) (string, []FileChange, error) {
	path, err := resolvePath(tc, argString(args, "path"))
	if err != nil {
		return "", nil, err
	}
	if err := lockForWrite(tc, path); err != nil {
		return "", nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return "", nil, fmt.Errorf("refusing to delete directory: %s", argString(args, "path"))
	}
	if err := os.Remove(path); err != nil {
		return "", nil, fmt.Errorf("failed to delete file: %w", err)
	}
	return "Deleted " + argString(args, "path"),
		[]FileChange{{Path: argString(args, "path"), Op: "delete"}}, nil
}

// ListDirTool lists a directory.
func ListDirTool() *Tool {
	return &Tool{
		Name:        "list_dir",
		Description: "List the entries of a directory",
		Schema: Schema{
			Required: []string{},
			Properties: map[string]Property{
				"path": {Type: "string", Description: "Directory path (default: working directory root)"},
			},
		},
		Execute: executeListDir,
	}
}

func executeListDir(ctx context.Context, tc ToolContext, args map[string]any) (string, []FileChange, error) {
	rel := argString(args, "path")
	if rel == "" {
		rel = "."
	}
	path, err := resolvePath(tc, rel)
	if err != nil {
		return "", nil, err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "\n"), nil, nil
}

// lockForWrite takes the advisory lock for path on behalf of the running
// task. A nil locker means the task has its own worktree and needs none.
func lockForWrite(tc ToolContext, path string) error {
	if tc.Locks == nil {
		return nil
	}
	return tc.Locks.Acquire(path, tc.TaskID)
}

func argString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func argInt(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}
