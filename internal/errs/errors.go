// Package errs defines the closed set of error kinds used across the
// execution pipeline. Every failure that crosses a package boundary is
// classified into one of these kinds so the engine can decide whether to
// retry, fail closed, or surface a partial result.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind string

const (
	KindConfig   Kind = "config"
	KindProvider Kind = "provider"
	KindBudget   Kind = "budget"
	KindTool     Kind = "tool"
	KindMemory   Kind = "memory"
	KindQuality  Kind = "quality"
	KindAgent    Kind = "agent"
	KindMerge    Kind = "merge"
	KindCancel   Kind = "cancelled"
	KindTimeout  Kind = "timeout"
	KindInternal Kind = "internal"
)

// Subkinds refine Provider, Agent and Merge errors.
const (
	SubTransient       = "transient"
	SubPermanent       = "permanent"
	SubIterationLimit  = "iteration_limit"
	SubInvalidResponse = "invalid_response"
	SubConflict        = "conflict"
	SubOther           = "other"
)

// Error is the pipeline error type. Stage, TaskID and Gate attribute the
// failure for user-visible reporting; any of them may be empty.
type Error struct {
	Kind    Kind
	Subkind string
	Stage   string
	TaskID  string
	Gate    string
	Msg     string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Subkind != "" {
		return fmt.Sprintf("%s/%s: %s", e.Kind, e.Subkind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. A nil err yields nil.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// WithStage returns a copy attributed to a pipeline stage.
func (e *Error) WithStage(stage string) *Error {
	clone := *e
	clone.Stage = stage
	return &clone
}

// WithTask returns a copy attributed to a task.
func (e *Error) WithTask(taskID string) *Error {
	clone := *e
	clone.TaskID = taskID
	return &clone
}

// WithSubkind returns a copy with the subkind set.
func (e *Error) WithSubkind(sub string) *Error {
	clone := *e
	clone.Subkind = sub
	return &clone
}

// KindOf returns the kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsTransient reports whether err is a transient provider error that the
// agent loop may retry with backoff.
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindProvider && e.Subkind == SubTransient
	}
	return false
}
