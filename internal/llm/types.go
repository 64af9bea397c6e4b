// Package llm defines the provider contract used by agents and reasoning
// strategies, plus the retry classification for provider failures. Concrete
// providers (Gemini) live here; the rest of the system depends only on the
// Provider interface.
package llm

import "context"

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of an agent's append-only history.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ArgumentsJSON string `json:"arguments_json"`
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Usage captures token counts for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// FinishReason tells why the model stopped.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
	FinishError     FinishReason = "error"
)

// Request is a completion request.
type Request struct {
	Messages    []Message        `json:"messages"`
	Model       string           `json:"model"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
}

// Response is a completion response.
type Response struct {
	Content      string       `json:"content"`
	ToolCalls    []ToolCall   `json:"tool_calls,omitempty"`
	Usage        Usage        `json:"usage"`
	FinishReason FinishReason `json:"finish_reason"`
	Model        string       `json:"model"`
}

// Chunk is one piece of a streamed completion.
type Chunk struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
	Usage   *Usage `json:"usage,omitempty"`
	Err     error  `json:"-"`
}

// Provider is the LLM provider contract. Implementations must be safe to
// call concurrently.
type Provider interface {
	// Complete performs one completion call.
	Complete(ctx context.Context, req Request) (*Response, error)
	// Stream returns a lazily produced sequence of chunks. The channel is
	// closed after the final chunk (Done=true) or an error chunk.
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
	// IsAvailable reports whether the provider is configured and reachable.
	IsAvailable() bool
	// Name identifies the provider for pricing lookups.
	Name() string
}
