// Package tools provides the tool registry and the built-in tools agents
// use to act on a sandbox working tree. Arguments are validated against each
// tool's declared schema both at registration and at call time, and tool
// output is truncated before it re-enters an agent's context window.
package tools

import (
	"context"
	"fmt"
)

// MaxOutputBytes bounds the tool output returned to the agent. Longer
// output is cut and marked.
const MaxOutputBytes = 16 * 1024

// TruncationMarker is appended to output cut at MaxOutputBytes.
const TruncationMarker = "\n...[output truncated]"

// ToolContext carries the execution scope a tool runs in. Paths in tool
// arguments are resolved relative to WorkingDir and may not escape it. When
// Locks is set, file-mutating tools must hold the path lock before writing.
type ToolContext struct {
	WorkingDir  string
	ExecutionID string
	TaskID      string
	Locks       PathLocker
}

// PathLocker serializes writes to shared paths when tasks run directly in
// the workspace instead of isolated worktrees. Acquire is idempotent for the
// same task and fails when another task holds the path.
type PathLocker interface {
	Acquire(path, taskID string) error
}

// FileChange records a file mutation a tool performed, so the agent result
// can report exactly what changed in the sandbox.
type FileChange struct {
	Path    string `json:"path"`
	Op      string `json:"op"` // create, modify, delete
	Content string `json:"content,omitempty"`
}

// Property describes one argument in a tool schema. The supported subset is
// type, description, enum and array items.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Enum        []any  `json:"enum,omitempty"`
	Items       *Items `json:"items,omitempty"`
}

// Items describes array element types.
type Items struct {
	Type string `json:"type"`
}

// Schema declares a tool's arguments.
type Schema struct {
	Required   []string            `json:"required"`
	Properties map[string]Property `json:"properties"`
}

// ExecuteFunc runs a tool. It returns the textual output plus any file
// changes made.
type ExecuteFunc func(ctx context.Context, tc ToolContext, args map[string]any) (string, []FileChange, error)

// Tool is one registered capability.
type Tool struct {
	Name        string
	Description string
	Schema      Schema
	Execute     ExecuteFunc
}

// Result wraps one tool execution with metadata.
type Result struct {
	ToolName    string       `json:"tool_name"`
	Output      string       `json:"output"`
	FileChanges []FileChange `json:"file_changes,omitempty"`
	Truncated   bool         `json:"truncated,omitempty"`
	DurationMs  int64        `json:"duration_ms"`
	Error       error        `json:"-"`
}

// IsSuccess reports whether the tool executed without error.
func (r *Result) IsSuccess() bool { return r.Error == nil }

var validTypes = map[string]bool{
	"string": true, "number": true, "integer": true,
	"boolean": true, "array": true, "object": true,
}

// Validate checks the tool definition, including its schema. Called at
// registration so malformed tools fail fast instead of at first use.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("tool name is empty")
	}
	if t.Execute == nil {
		return fmt.Errorf("tool %s has no execute function", t.Name)
	}
	for name, prop := range t.Schema.Properties {
		if !validTypes[prop.Type] {
			return fmt.Errorf("tool %s: property %s has invalid type %q", t.Name, name, prop.Type)
		}
		if prop.Type == "array" && prop.Items == nil {
			return fmt.Errorf("tool %s: array property %s needs items", t.Name, name)
		}
	}
	for _, req := range t.Schema.Required {
		if _, ok := t.Schema.Properties[req]; !ok {
			return fmt.Errorf("tool %s: required property %s is not declared", t.Name, req)
		}
	}
	return nil
}

// InputSchema renders the schema as a JSON-schema object map for provider
// tool definitions.
func (t *Tool) InputSchema() map[string]any {
	props := make(map[string]any, len(t.Schema.Properties))
	for name, p := range t.Schema.Properties {
		entry := map[string]any{"type": p.Type}
		if p.Description != "" {
			entry["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			entry["enum"] = p.Enum
		}
		if p.Items != nil {
			entry["items"] = map[string]any{"type": p.Items.Type}
		}
		props[name] = entry
	}
	required := make([]any, len(t.Schema.Required))
	for i, r := range t.Schema.Required {
		required[i] = r
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}
