// Package quality runs pluggable verification gates over the files an
// execution changed, and auto-fixes the two classes of issue that are safe
// to fix mechanically: lint-rule violations and leftover debugger lines.
package quality

import (
	"context"
	"time"

	"cortexos/internal/logging"
)

// Severity ranks an issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Issue is one finding from a gate.
type Issue struct {
	Severity    Severity `json:"severity"`
	Message     string   `json:"message"`
	File        string   `json:"file,omitempty"`
	Line        int      `json:"line,omitempty"`
	Column      int      `json:"column,omitempty"`
	Rule        string   `json:"rule,omitempty"`
	AutoFixable bool     `json:"auto_fixable,omitempty"`
	Suggestion  string   `json:"suggestion,omitempty"`
}

// GateResult is the outcome of one gate run. Passed means no error-severity
// issues were found.
type GateResult struct {
	Gate       string  `json:"gate"`
	Passed     bool    `json:"passed"`
	Skipped    bool    `json:"skipped,omitempty"`
	Issues     []Issue `json:"issues,omitempty"`
	DurationMs int64   `json:"duration_ms"`
}

// QualityContext scopes a verification run.
type QualityContext struct {
	WorkingDir   string
	FilesChanged []string
	ExecutionID  string
}

// Gate is one named quality check.
type Gate interface {
	Name() string
	Description() string
	Run(ctx context.Context, qc QualityContext) GateResult
}

// Report aggregates a full verifier run.
type Report struct {
	Passed  bool         `json:"passed"`
	Results []GateResult `json:"results"`
}

// Errors returns every error-severity issue across all gates.
func (r *Report) Errors() []Issue {
	var out []Issue
	for _, res := range r.Results {
		for _, issue := range res.Issues {
			if issue.Severity == SeverityError {
				out = append(out, issue)
			}
		}
	}
	return out
}

// Verifier runs gates in configured order. A failing gate marked fatal stops
// the run; otherwise all gates execute and their results are collected.
type Verifier struct {
	gates []Gate
	fatal map[string]bool

	// OnGateStart, when set, observes each gate name just before it runs.
	OnGateStart func(name string)
}

// NewVerifier builds a verifier over the named built-in gates, in the given
// order. Unknown names are ignored.
func NewVerifier(gateNames []string, threshold int) *Verifier {
	available := map[string]Gate{
		"typecheck":  &TypecheckGate{},
		"tests":      &TestsGate{},
		"lint":       &LintGate{},
		"security":   &SecurityGate{},
		"complexity": &ComplexityGate{Threshold: threshold},
	}
	v := &Verifier{fatal: make(map[string]bool)}
	for _, name := range gateNames {
		if gate, ok := available[name]; ok {
			v.gates = append(v.gates, gate)
		}
	}
	return v
}

// SetFatal marks a gate as fatal: its failure stops the run.
func (v *Verifier) SetFatal(name string) {
	v.fatal[name] = true
}

// Gates returns the configured gate names in run order.
func (v *Verifier) Gates() []string {
	names := make([]string, len(v.gates))
	for i, g := range v.gates {
		names[i] = g.Name()
	}
	return names
}

// Run executes the configured gates over the changed files.
func (v *Verifier) Run(ctx context.Context, qc QualityContext) Report {
	report := Report{Passed: true}
	for _, gate := range v.gates {
		if v.OnGateStart != nil {
			v.OnGateStart(gate.Name())
		}
		start := time.Now()
		result := gate.Run(ctx, qc)
		result.Gate = gate.Name()
		if result.DurationMs == 0 {
			result.DurationMs = time.Since(start).Milliseconds()
		}
		report.Results = append(report.Results, result)

		logging.QualityInfo("gate %s: passed=%v issues=%d (%dms)",
			gate.Name(), result.Passed, len(result.Issues), result.DurationMs)

		if !result.Passed {
			report.Passed = false
			if v.fatal[gate.Name()] {
				logging.QualityInfo("fatal gate %s failed, stopping verification", gate.Name())
				break
			}
		}
	}
	return report
}

// resultFromIssues derives Passed from issue severities.
func resultFromIssues(issues []Issue) GateResult {
	result := GateResult{Passed: true, Issues: issues}
	for _, issue := range issues {
		if issue.Severity == SeverityError {
			result.Passed = false
			break
		}
	}
	return result
}

func skipResult() GateResult {
	return GateResult{Passed: true, Skipped: true}
}
