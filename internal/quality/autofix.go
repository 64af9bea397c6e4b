package quality

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"cortexos/internal/logging"
)

// debuggerLine matches statements that exist only for interactive debugging.
var debuggerLine = regexp.MustCompile(`^\s*(debugger\s*;?|console\.(trace|debug)\s*\(.*\)\s*;?)\s*$`)

// ScanDebuggerLines finds leftover debugger and trace statements in changed
// script files. Each finding is auto-fixable by deleting the line.
func ScanDebuggerLines(workingDir string, files []string) []Issue {
	var issues []Issue
	for _, rel := range files {
		if !hasSuffix(rel, ".ts", ".tsx", ".js", ".jsx") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(workingDir, rel))
		if err != nil {
			continue
		}
		for lineNo, line := range strings.Split(string(data), "\n") {
			if debuggerLine.MatchString(line) {
				issues = append(issues, Issue{
					Severity:    SeverityError,
					File:        rel,
					Line:        lineNo + 1,
					Rule:        "no-debugger",
					Message:     "debugger statement left in source",
					AutoFixable: true,
				})
			}
		}
	}
	return issues
}

// FixAction describes one remediation the auto-fixer performed.
type FixAction struct {
	Type   string `json:"type"` // lint-fix, remove-debugger
	File   string `json:"file,omitempty"`
	Detail string `json:"detail"`
}

// FixResult reports everything the auto-fixer changed.
type FixResult struct {
	Actions       []FixAction `json:"actions"`
	FilesModified []string    `json:"files_modified"`
}

// AutoFix remediates the fixable issues from a failed report: rule-attributed
// lint issues go to the lint runner's fix mode, debugger lines are deleted
// in place. Running it on an already-clean tree changes nothing.
func AutoFix(ctx context.Context, qc QualityContext, report Report) FixResult {
	var result FixResult
	modified := map[string]bool{}

	// Debugger statements first so the linter sees the cleaned files.
	var debuggerIssues []Issue
	lintFixable := false
	for _, res := range report.Results {
		for _, issue := range res.Issues {
			switch {
			case issue.Rule == "no-debugger" && issue.AutoFixable:
				debuggerIssues = append(debuggerIssues, issue)
			case res.Gate == "lint" && issue.Rule != "":
				lintFixable = true
			}
		}
	}

	for _, file := range removeLines(qc.WorkingDir, debuggerIssues) {
		modified[file] = true
		result.Actions = append(result.Actions, FixAction{
			Type:   "remove-debugger",
			File:   file,
			Detail: "removed debugger/trace statements",
		})
	}

	if lintFixable {
		if runner, args := detectLinter(qc.WorkingDir); runner != "" {
			args = append(args, "--fix")
			if out, ok := runCmd(ctx, qc.WorkingDir, runner, args...); !ok {
				logging.QualityDebug("lint --fix left residual issues: %s", firstLines(out, 3))
			}
			result.Actions = append(result.Actions, FixAction{
				Type:   "lint-fix",
				Detail: runner + " fix mode",
			})
		}
	}

	for file := range modified {
		result.FilesModified = append(result.FilesModified, file)
	}
	sort.Strings(result.FilesModified)
	return result
}

// removeLines deletes the flagged lines per file, highest line number first
// so earlier deletions do not shift the later indices. Returns the files
// actually rewritten.
func removeLines(workingDir string, issues []Issue) []string {
	byFile := map[string][]int{}
	for _, issue := range issues {
		if issue.Line > 0 {
			byFile[issue.File] = append(byFile[issue.File], issue.Line)
		}
	}

	var files []string
	for rel, lineNos := range byFile {
		path := filepath.Join(workingDir, rel)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		lines := strings.Split(string(data), "\n")

		sort.Sort(sort.Reverse(sort.IntSlice(lineNos)))
		removed := false
		for _, lineNo := range lineNos {
			idx := lineNo - 1
			if idx < 0 || idx >= len(lines) {
				continue
			}
			lines = append(lines[:idx], lines[idx+1:]...)
			removed = true
		}
		if !removed {
			continue
		}
		if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0644); err != nil {
			logging.QualityDebug("auto-fix write failed for %s: %v", rel, err)
			continue
		}
		files = append(files, rel)
	}
	sort.Strings(files)
	return files
}
