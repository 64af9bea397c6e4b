package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"cortexos/internal/logging"
)

// denyPatterns blocks commands that would destroy the host rather than act
// on the sandbox working tree. Substring match on the raw command.
var denyPatterns = []string{
	"rm -rf /",
	":(){",
	"mkfs",
	"dd if=",
	"> /dev/sda",
}

// ShellTool executes a shell command inside the working directory.
func ShellTool() *Tool {
	return &Tool{
		Name:        "shell",
		Description: "Execute a shell command in the working directory and return its output",
		Schema: Schema{
			Required: []string{"command"},
			Properties: map[string]Property{
				"command":         {Type: "string", Description: "The command to execute"},
				"timeout_seconds": {Type: "integer", Description: "Timeout in seconds (default: 60)"},
			},
		},
		Execute: executeShell,
	}
}

func executeShell(ctx context.Context, tc ToolContext, args map[string]any) (string, []FileChange, error) {
	command := argString(args, "command")
	if command == "" {
		return "", nil, fmt.Errorf("command is required")
	}

	for _, pattern := range denyPatterns {
		if strings.Contains(command, pattern) {
			logging.ToolsWarn("shell command blocked by deny list: %s", command)
			return "", nil, fmt.Errorf("command blocked: matches denied pattern %q", pattern)
		}
	}

	timeout := 60
	if t, ok := argInt(args, "timeout_seconds"); ok && t > 0 {
		timeout = t
	}

	execCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "sh", "-c", command)
	cmd.Dir = tc.WorkingDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logging.ToolsDebug("shell: cmd=%s dir=%s timeout=%ds", command, tc.WorkingDir, timeout)
	err := cmd.Run()

	output := stdout.String()
	if stderr.Len() > 0 {
		if output != "" {
			output += "\n--- stderr ---\n"
		}
		output += stderr.String()
	}

	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return output, nil, fmt.Errorf("command timed out after %d seconds", timeout)
		}
		return output, nil, fmt.Errorf("command failed: %w", err)
	}
	return output, nil, nil
}

// GitStatusTool reports the porcelain status of the working tree.
func GitStatusTool() *Tool {
	return &Tool{
		Name:        "git_status",
		Description: "Show the git status of the working directory",
		Schema:      Schema{Required: []string{}, Properties: map[string]Property{}},
		Execute:     executeGitStatus,
	}
}

func executeGitStatus(ctx context.Context, tc ToolContext, args map[string]any) (string, []FileChange, error) {
	execCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "git", "status", "--porcelain", "--branch")
	cmd.Dir = tc.WorkingDir

	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), nil, fmt.Errorf("git status failed: %w", err)
	}
	return string(out), nil, nil
}
