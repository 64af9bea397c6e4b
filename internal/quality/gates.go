package quality

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// runCmd runs a command in dir and returns combined output and exit success.
func runCmd(ctx context.Context, dir string, name string, args ...string) (string, bool) {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	cmd := exec.CommandContext(cctx, name, args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err == nil
}

func fileExists(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}

func hasSuffix(path string, suffixes ...string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(path, s) {
			return true
		}
	}
	return false
}

// TypecheckGate runs the TypeScript compiler when the project is typed and
// typed sources changed. Projects without a typechecker config skip-pass.
type TypecheckGate struct{}

func (g *TypecheckGate) Name() string        { return "typecheck" }
func (g *TypecheckGate) Description() string { return "Static type checking of changed sources" }

// tscLine matches `src/a.ts(3,7): error TS2304: Cannot find name 'x'.`
var tscLine = regexp.MustCompile(`^(.+)\((\d+),(\d+)\): error (TS\d+): (.+)$`)

func (g *TypecheckGate) Run(ctx context.Context, qc QualityContext) GateResult {
	if !fileExists(qc.WorkingDir, "tsconfig.json") {
		return skipResult()
	}
	typed := false
	for _, f := range qc.FilesChanged {
		if hasSuffix(f, ".ts", ".tsx") {
			typed = true
			break
		}
	}
	if !typed {
		return skipResult()
	}

	out, ok := runCmd(ctx, qc.WorkingDir, "npx", "tsc", "--noEmit")
	if ok {
		return GateResult{Passed: true}
	}

	var issues []Issue
	for _, line := range strings.Split(out, "\n") {
		m := tscLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		lineNo, _ := strconv.Atoi(m[2])
		col, _ := strconv.Atoi(m[3])
		issues = append(issues, Issue{
			Severity: SeverityError,
			File:     m[1],
			Line:     lineNo,
			Column:   col,
			Rule:     m[4],
			Message:  m[5],
		})
	}
	if len(issues) == 0 {
		issues = append(issues, Issue{Severity: SeverityError, Message: "type check failed: " + firstLines(out, 5)})
	}
	return resultFromIssues(issues)
}

// TestsGate auto-detects the project's test runner and runs it. Exit code
// zero means pass; no recognizable runner skip-passes.
type TestsGate struct{}

func (g *TestsGate) Name() string        { return "tests" }
func (g *TestsGate) Description() string { return "Project test suite" }

func (g *TestsGate) Run(ctx context.Context, qc QualityContext) GateResult {
	name, args := detectTestRunner(qc.WorkingDir)
	if name == "" {
		return skipResult()
	}

	out, ok := runCmd(ctx, qc.WorkingDir, name, args...)
	if ok {
		return GateResult{Passed: true}
	}
	return resultFromIssues([]Issue{{
		Severity: SeverityError,
		Message:  "tests failed: " + firstLines(out, 10),
	}})
}

func detectTestRunner(dir string) (string, []string) {
	if fileExists(dir, "go.mod") {
		return "go", []string{"test", "./..."}
	}
	for _, cfg := range []string{"vitest.config.ts", "vitest.config.js", "vitest.config.mts"} {
		if fileExists(dir, cfg) {
			return "npx", []string{"vitest", "run"}
		}
	}
	for _, cfg := range []string{"jest.config.js", "jest.config.ts", "jest.config.json"} {
		if fileExists(dir, cfg) {
			return "npx", []string{"jest", "--ci"}
		}
	}
	// Fall back to the package manifest's test script.
	if script := manifestScript(dir, "test"); script != "" {
		return "npm", []string{"test", "--silent"}
	}
	return "", nil
}

func manifestScript(dir, name string) string {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return ""
	}
	var manifest struct {
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return ""
	}
	return manifest.Scripts[name]
}

// LintGate runs the ecosystem-standard linter when configured; without
// config it still scans changed sources for debugger and trace statements so
// leftover debug output never merges silently.
type LintGate struct{}

func (g *LintGate) Name() string        { return "lint" }
func (g *LintGate) Description() string { return "Linter plus debugger-statement scan" }

func (g *LintGate) Run(ctx context.Context, qc QualityContext) GateResult {
	var issues []Issue

	if runner, args := detectLinter(qc.WorkingDir); runner != "" {
		if out, ok := runCmd(ctx, qc.WorkingDir, runner, args...); !ok {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Message:  "lint failed: " + firstLines(out, 10),
			})
		}
	}

	issues = append(issues, ScanDebuggerLines(qc.WorkingDir, qc.FilesChanged)...)
	return resultFromIssues(issues)
}

func detectLinter(dir string) (string, []string) {
	for _, cfg := range []string{".golangci.yml", ".golangci.yaml", ".golangci.toml"} {
		if fileExists(dir, cfg) {
			return "golangci-lint", []string{"run"}
		}
	}
	for _, cfg := range []string{".eslintrc.json", ".eslintrc.js", ".eslintrc.yml", "eslint.config.js", "eslint.config.mjs"} {
		if fileExists(dir, cfg) {
			return "npx", []string{"eslint", "."}
		}
	}
	return "", nil
}

func firstLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}
