package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cortexos/internal/errs"
	"cortexos/internal/events"
	"cortexos/internal/llm"
	"cortexos/internal/logging"
	"cortexos/internal/tools"
)

const maxProviderAttempts = 3

// Config assembles one agent.
type Config struct {
	Role          string
	Provider      llm.Provider
	Registry      *tools.Registry
	ToolContext   tools.ToolContext
	SystemPrompt  string
	Model         string
	Temperature   float64
	MaxIterations int
	Bus           *events.Bus // optional; emits agent.chunk / agent.tool_call
}

// Agent runs the completion/tool loop for one role.
type Agent struct {
	cfg Config
}

// New creates an agent. Role-book defaults fill any zero fields when the
// role is known.
func New(cfg Config) *Agent {
	if spec, ok := Role(cfg.Role); ok {
		if cfg.SystemPrompt == "" {
			cfg.SystemPrompt = spec.SystemPrompt
		}
		if cfg.Model == "" {
			cfg.Model = spec.Model
		}
		if cfg.Temperature == 0 {
			cfg.Temperature = spec.Temperature
		}
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 10
	}
	return &Agent{cfg: cfg}
}

// Execute runs the loop for one task. It always returns a Result; failures
// are reported in Result.Error with Success=false.
func (a *Agent) Execute(ctx context.Context, task Task) Result {
	start := time.Now()
	result := Result{TaskID: task.ID}

	toolCtx := a.cfg.ToolContext
	if task.WorkingDir != "" {
		toolCtx.WorkingDir = task.WorkingDir
	}

	allowed := task.RequiredTools
	if len(allowed) == 0 {
		if spec, ok := Role(a.cfg.Role); ok {
			allowed = spec.Tools
		}
	}
	var defs []llm.ToolDefinition
	if a.cfg.Registry != nil {
		defs = a.cfg.Registry.Definitions(allowed)
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: a.cfg.SystemPrompt},
		{Role: llm.RoleUser, Content: taskPrompt(task)},
	}

	for iteration := 0; iteration < a.cfg.MaxIterations; iteration++ {
		result.Iterations = iteration + 1

		resp, err := a.complete(ctx, llm.Request{
			Messages:    messages,
			Model:       a.cfg.Model,
			Temperature: a.cfg.Temperature,
			Tools:       defs,
		})
		if err != nil {
			result.Error = err.Error()
			result.DurationMs = time.Since(start).Milliseconds()
			return result
		}
		result.Usage.InputTokens += resp.Usage.InputTokens
		result.Usage.OutputTokens += resp.Usage.OutputTokens

		if resp.Content != "" {
			a.publish("agent.chunk", events.StagePayload{Stage: "execute", Data: map[string]any{
				"task_id": task.ID, "content": resp.Content,
			}})
		}

		if len(resp.ToolCalls) == 0 {
			result.Success = true
			result.Response = resp.Content
			result.DurationMs = time.Since(start).Milliseconds()
			logging.AgentDebug("task %s done in %d iteration(s), %d file change(s)",
				task.ID, result.Iterations, len(result.FileChanges))
			return result
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			messages = append(messages, a.runTool(ctx, toolCtx, task, call, &result))
		}
	}

	limitErr := &errs.Error{
		Kind:    errs.KindAgent,
		Subkind: errs.SubIterationLimit,
		TaskID:  task.ID,
		Msg:     fmt.Sprintf("agent exceeded %d iterations", a.cfg.MaxIterations),
	}
	result.Error = limitErr.Error()
	result.DurationMs = time.Since(start).Milliseconds()
	return result
}

// complete calls the provider, retrying transient failures with exponential
// backoff. Permanent failures return immediately.
func (a *Agent) complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	var lastErr error
	for attempt := 0; attempt < maxProviderAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(llm.Backoff(attempt - 1)):
			case <-ctx.Done():
				return nil, errs.Wrap(errs.KindCancel, ctx.Err(), "agent cancelled during backoff")
			}
		}

		resp, err := a.cfg.Provider.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		err = llm.Classify(a.cfg.Provider.Name(), err)
		if !errs.IsTransient(err) {
			return nil, err
		}
		logging.AgentWarn("transient provider error (attempt %d/%d): %v", attempt+1, maxProviderAttempts, err)
		lastErr = err
	}
	return nil, lastErr
}

// runTool executes one tool call and renders it as a tool message bound to
// the call ID. Tool errors become message content so the model can react;
// they never abort the loop.
func (a *Agent) runTool(ctx context.Context, toolCtx tools.ToolContext, task Task, call llm.ToolCall, result *Result) llm.Message {
	a.publish("agent.tool_call", events.StagePayload{Stage: "execute", Data: map[string]any{
		"task_id": task.ID, "tool": call.Name,
	}})

	args, err := decodeArgs(call.ArgumentsJSON)
	if err != nil {
		return llm.Message{
			Role:       llm.RoleTool,
			ToolCallID: call.ID,
			Content:    fmt.Sprintf("error: invalid tool arguments: %v", err),
		}
	}

	res := a.cfg.Registry.Execute(ctx, toolCtx, call.Name, args)
	result.FileChanges = append(result.FileChanges, res.FileChanges...)

	content := res.Output
	if res.Error != nil {
		content = fmt.Sprintf("error: %v", res.Error)
		if res.Output != "" {
			content += "\n" + res.Output
		}
	}
	return llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Content: content}
}

func (a *Agent) publish(name string, payload events.StagePayload) {
	if a.cfg.Bus != nil {
		a.cfg.Bus.Publish(name, payload)
	}
}

func decodeArgs(argsJSON string) (map[string]any, error) {
	if argsJSON == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func taskPrompt(task Task) string {
	prompt := "Task: " + task.Title
	if task.Description != "" {
		prompt += "\n\n" + task.Description
	}
	if task.Context != "" {
		prompt += "\n\nContext:\n" + task.Context
	}
	return prompt
}
