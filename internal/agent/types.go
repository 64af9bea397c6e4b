// Package agent implements the tool-calling agent loop: one role-specialized
// conversation with the provider that turns a task into file changes through
// the tool registry.
package agent

import (
	"cortexos/internal/llm"
	"cortexos/internal/tools"
)

// Task is the runtime unit handed to an agent: a planner task plus the
// working directory and tool allowance it executes with.
type Task struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Role          string   `json:"role"`
	Priority      int      `json:"priority"`
	Complexity    float64  `json:"complexity"`
	RequiredTools []string `json:"required_tools,omitempty"`
	Context       string   `json:"context,omitempty"`
	WorkingDir    string   `json:"working_dir,omitempty"`
}

// TraceStep is one step of a reasoning strategy's record.
type TraceStep struct {
	Kind    string `json:"kind"` // thought, action, observation, critique, score, argument, verdict
	Content string `json:"content"`
}

// Trace records how a reasoning strategy arrived at a result.
type Trace struct {
	Strategy string      `json:"strategy"`
	Steps    []TraceStep `json:"steps"`
	Ended    string      `json:"ended"` // completed, budget-exceeded, retries-exhausted
}

// Result is the outcome of one agent execution.
type Result struct {
	TaskID      string             `json:"task_id"`
	Success     bool               `json:"success"`
	Response    string             `json:"response"`
	FileChanges []tools.FileChange `json:"file_changes,omitempty"`
	Usage       llm.Usage          `json:"usage"`
	Error       string             `json:"error,omitempty"`
	Iterations  int                `json:"iterations"`
	DurationMs  int64              `json:"duration_ms"`
	Trace       *Trace             `json:"trace,omitempty"`
}

// Summary renders the short form injected as context into later waves.
func (r *Result) Summary() string {
	status := "succeeded"
	if !r.Success {
		status = "failed: " + r.Error
	}
	s := "task " + r.TaskID + " " + status
	if len(r.FileChanges) > 0 {
		s += "; changed:"
		for _, fc := range r.FileChanges {
			s += " " + fc.Path + "(" + fc.Op + ")"
		}
	}
	if r.Response != "" {
		text := r.Response
		if len(text) > 400 {
			text = text[:400] + "..."
		}
		s += "\n" + text
	}
	return s
}
