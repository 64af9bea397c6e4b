package pool

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"cortexos/internal/agent"
	"cortexos/internal/config"
	"cortexos/internal/errs"
	"cortexos/internal/llm"
	"cortexos/internal/logging"
	"cortexos/internal/tools"
)

// ipcMessage is one JSON-framed line on a worker's stdin or stdout.
type ipcMessage struct {
	Type         string            `json:"type"` // ready, execute, progress, result, error
	Task         *agent.Task       `json:"task,omitempty"`
	Tools        []string          `json:"tools,omitempty"`
	WorkingDir   string            `json:"working_dir,omitempty"`
	Provider     *config.LLMConfig `json:"provider,omitempty"`
	SystemPrompt string            `json:"system_prompt,omitempty"`
	Progress     float64           `json:"progress,omitempty"`
	Status       string            `json:"status,omitempty"`
	Result       *agent.Result     `json:"result,omitempty"`
	Message      string            `json:"message,omitempty"`
}

// runForked executes one task in a fresh worker process. The worker is the
// same binary re-invoked with the "worker" subcommand; messages are JSON
// lines. Context expiry sends TERM.
func (p *Pool) runForked(ctx context.Context, task agent.Task) agent.Result {
	self, err := os.Executable()
	if err != nil {
		return failedResult(task.ID, errs.Wrap(errs.KindInternal, err, "cannot locate own binary"))
	}

	cmd := exec.Command(self, "worker")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return failedResult(task.ID, errs.Wrap(errs.KindInternal, err, "worker stdin"))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return failedResult(task.ID, errs.Wrap(errs.KindInternal, err, "worker stdout"))
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return failedResult(task.ID, errs.Wrap(errs.KindInternal, err, "failed to start worker"))
	}

	// TERM the worker when the task deadline or shutdown hits; escalate to
	// KILL if it ignores the signal.
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cmd.Process.Signal(syscall.SIGTERM)
			select {
			case <-watchDone:
			case <-time.After(5 * time.Second):
				cmd.Process.Kill()
			}
		case <-watchDone:
		}
	}()
	defer close(watchDone)
	defer cmd.Wait()

	result := p.driveWorker(ctx, task, stdin, stdout)
	stdin.Close()
	return result
}

// driveWorker speaks the IPC protocol from the pool side.
func (p *Pool) driveWorker(ctx context.Context, task agent.Task, stdin io.Writer, stdout io.Reader) agent.Result {
	enc := json.NewEncoder(stdin)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	sent := false
	for scanner.Scan() {
		if ctx.Err() != nil {
			return failedResult(task.ID, errs.Wrap(errs.KindTimeout, ctx.Err(), "worker timed out"))
		}

		var msg ipcMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			logging.PoolWarn("dropping malformed worker message: %v", err)
			continue
		}

		switch msg.Type {
		case "ready":
			if sent {
				continue
			}
			sent = true
			spec, _ := agent.Role(task.Role)
			err := enc.Encode(ipcMessage{
				Type:         "execute",
				Task:         &task,
				Tools:        task.RequiredTools,
				WorkingDir:   task.WorkingDir,
				Provider:     &p.cfg.Provider,
				SystemPrompt: spec.SystemPrompt,
			})
			if err != nil {
				return failedResult(task.ID, errs.Wrap(errs.KindInternal, err, "failed to send task to worker"))
			}
		case "progress":
			// status=="ready" is the transport-level handshake echo, not
			// task progress.
			if msg.Status != "ready" {
				logging.PoolDebug("task %s progress %.0f%% (%s)", task.ID, msg.Progress*100, msg.Status)
			}
		case "result":
			if msg.Result == nil {
				return failedResult(task.ID, errs.New(errs.KindInternal, "worker sent empty result"))
			}
			return *msg.Result
		case "error":
			return failedResult(task.ID, errs.New(errs.KindAgent, "worker failed: %s", msg.Message))
		}
	}

	if ctx.Err() != nil {
		return failedResult(task.ID, errs.Wrap(errs.KindTimeout, ctx.Err(), "worker timed out"))
	}
	return failedResult(task.ID, errs.New(errs.KindInternal, "worker exited without a result"))
}

// RunWorker is the worker-process side, invoked by the "worker" subcommand.
// It announces readiness, executes exactly one task, reports the result and
// exits.
func RunWorker(in io.Reader, out io.Writer) error {
	enc := json.NewEncoder(out)
	if err := enc.Encode(ipcMessage{Type: "ready", Status: "ready"}); err != nil {
		return err
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var msg ipcMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			enc.Encode(ipcMessage{Type: "error", Message: fmt.Sprintf("malformed message: %v", err)})
			continue
		}
		if msg.Type != "execute" || msg.Task == nil {
			continue
		}

		provider, err := llm.New(providerConfig(msg))
		if err != nil {
			enc.Encode(ipcMessage{Type: "error", Message: err.Error()})
			return nil
		}

		enc.Encode(ipcMessage{Type: "progress", Progress: 0, Status: "executing"})
		a := agent.New(agent.Config{
			Role:         msg.Task.Role,
			Provider:     provider,
			Registry:     tools.NewDefaultRegistry(),
			ToolContext:  tools.ToolContext{WorkingDir: msg.WorkingDir, ExecutionID: msg.Task.ID},
			SystemPrompt: msg.SystemPrompt,
		})
		result := a.Execute(context.Background(), *msg.Task)
		return enc.Encode(ipcMessage{Type: "result", Result: &result})
	}
	return scanner.Err()
}

func providerConfig(msg ipcMessage) config.LLMConfig {
	if msg.Provider != nil {
		return *msg.Provider
	}
	return config.LLMConfig{Provider: "mock"}
}

func failedResult(taskID string, err error) agent.Result {
	return agent.Result{TaskID: taskID, Error: err.Error()}
}
