package quality

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ComplexityGate estimates cyclomatic complexity per function in changed
// source files. Functions above Threshold warn, above twice Threshold error.
type ComplexityGate struct {
	Threshold int
}

func (g *ComplexityGate) Name() string        { return "complexity" }
func (g *ComplexityGate) Description() string { return "Per-function cyclomatic complexity estimate" }

var (
	goFuncStart = regexp.MustCompile(`^func\s+(?:\([^)]*\)\s*)?([A-Za-z_]\w*)\s*\(`)
	jsFuncStart = regexp.MustCompile(`(?:^|\s)(?:async\s+)?function\s+([A-Za-z_$][\w$]*)\s*\(|` +
		`(?:^|\s)(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*=\s*(?:async\s*)?(?:\([^)]*\)|[A-Za-z_$][\w$]*)\s*=>`)

	// One branch token adds one to the initial complexity of 1.
	branchToken = regexp.MustCompile(`\bif\b|\bwhile\b|\bfor\b|\bcase\b|\bcatch\b|&&|\|\||\?\?|\?[^.?:]+:`)
)

func (g *ComplexityGate) Run(ctx context.Context, qc QualityContext) GateResult {
	threshold := g.Threshold
	if threshold <= 0 {
		threshold = 10
	}

	var issues []Issue
	for _, rel := range qc.FilesChanged {
		if !hasSuffix(rel, ".go", ".ts", ".tsx", ".js", ".jsx") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(qc.WorkingDir, rel))
		if err != nil {
			continue
		}
		for _, fn := range measureFunctions(string(data), strings.HasSuffix(rel, ".go")) {
			if fn.complexity <= threshold {
				continue
			}
			severity := SeverityWarning
			if fn.complexity > 2*threshold {
				severity = SeverityError
			}
			issues = append(issues, Issue{
				Severity:   severity,
				File:       rel,
				Line:       fn.line,
				Rule:       "complexity",
				Message:    fmt.Sprintf("function %s has estimated complexity %d (threshold %d)", fn.name, fn.complexity, threshold),
				Suggestion: "split the function into smaller pieces",
			})
		}
	}
	return resultFromIssues(issues)
}

type functionMetric struct {
	name       string
	line       int
	complexity int
}

// measureFunctions walks the source line by line, opening a function scope
// at each function declaration and counting branch tokens until its braces
// close. Nested function literals count toward the enclosing function.
func measureFunctions(source string, isGo bool) []functionMetric {
	var metrics []functionMetric
	var current *functionMetric
	depth := 0

	start := goFuncStart
	if !isGo {
		start = jsFuncStart
	}

	for lineNo, line := range strings.Split(source, "\n") {
		if current == nil {
			if m := start.FindStringSubmatch(line); m != nil {
				name := m[1]
				if name == "" && len(m) > 2 {
					name = m[2]
				}
				current = &functionMetric{name: name, line: lineNo + 1, complexity: 1}
				depth = 0
			}
		}
		if current == nil {
			continue
		}

		current.complexity += len(branchToken.FindAllString(line, -1))
		depth += strings.Count(line, "{") - strings.Count(line, "}")
		if depth <= 0 && strings.Contains(line, "}") {
			metrics = append(metrics, *current)
			current = nil
		}
	}
	if current != nil {
		metrics = append(metrics, *current)
	}
	return metrics
}
