package reasoning

import (
	"context"
	"encoding/json"
	"fmt"

	"cortexos/internal/agent"
	"cortexos/internal/errs"
	"cortexos/internal/llm"
	"cortexos/internal/logging"
	"cortexos/internal/tools"
)

const defaultMaxThoughts = 8

const reactInstructions = `Work through the task step by step. On each turn,
state your reasoning, then either call exactly one tool to gather an
observation or, once you have enough evidence, give the final answer with no
tool call.`

// ReAct interleaves thought, action and observation steps. Every iteration
// is one provider call that either calls a tool or answers.
type ReAct struct {
	cfg         Config
	maxThoughts int
}

func NewReAct(cfg Config, maxThoughts int) *ReAct {
	if maxThoughts <= 0 {
		maxThoughts = defaultMaxThoughts
	}
	return &ReAct{cfg: cfg, maxThoughts: maxThoughts}
}

func (r *ReAct) Name() string { return "react" }

func (r *ReAct) Execute(ctx context.Context, task agent.Task) agent.Result {
	s := newSession(r.cfg, "react")
	result := agent.Result{TaskID: task.ID}

	toolCtx := r.cfg.Agent.ToolContext
	if task.WorkingDir != "" {
		toolCtx.WorkingDir = task.WorkingDir
	}
	var defs []llm.ToolDefinition
	if r.cfg.Agent.Registry != nil {
		defs = r.cfg.Agent.Registry.Definitions(task.RequiredTools)
	}

	system := reactInstructions
	if r.cfg.Agent.SystemPrompt != "" {
		system = r.cfg.Agent.SystemPrompt + "\n\n" + reactInstructions
	}
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: taskPrompt(task)},
	}

	for i := 0; i < r.maxThoughts; i++ {
		result.Iterations = i + 1

		resp, err := s.complete(ctx, messages, defs)
		if err != nil {
			if errs.IsKind(err, errs.KindBudget) {
				logging.ReasonDebug("react stopped by budget after %d thought(s)", i)
				result.Error = err.Error()
				return s.close(result, "budget-exceeded")
			}
			result.Error = err.Error()
			return s.close(result, "completed")
		}
		if resp.Content != "" {
			s.step("thought", resp.Content)
		}

		if len(resp.ToolCalls) == 0 {
			result.Success = true
			result.Response = resp.Content
			return s.close(result, "completed")
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			s.step("action", call.Name)
			observation := r.observe(ctx, toolCtx, call, &result)
			s.step("observation", observation)
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
				Content:    observation,
			})
		}
	}

	result.Error = fmt.Sprintf("no answer within %d thoughts", r.maxThoughts)
	return s.close(result, "retries-exhausted")
}

// observe runs one tool call. Failures become observation text the model can
// react to on the next thought.
func (r *ReAct) observe(ctx context.Context, toolCtx tools.ToolContext, call llm.ToolCall, result *agent.Result) string {
	args, err := decodeArgs(call.ArgumentsJSON)
	if err != nil {
		return fmt.Sprintf("error: invalid tool arguments: %v", err)
	}
	res := r.cfg.Agent.Registry.Execute(ctx, toolCtx, call.Name, args)
	result.FileChanges = append(result.FileChanges, res.FileChanges...)
	if res.Error != nil {
		out := fmt.Sprintf("error: %v", res.Error)
		if res.Output != "" {
			out += "\n" + res.Output
		}
		return out
	}
	return res.Output
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
