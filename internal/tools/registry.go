package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"cortexos/internal/errs"
	"cortexos/internal/llm"
	"cortexos/internal/logging"
)

// Registry holds all available tools. Thread-safe; tools can be registered
// at runtime.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// NewDefaultRegistry creates a registry with every built-in tool registered.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, t := range Builtins() {
		r.MustRegister(t)
	}
	return r
}

// Register adds a tool, validating its definition and schema.
func (r *Registry) Register(tool *Tool) error {
	if err := tool.Validate(); err != nil {
		return errs.Wrap(errs.KindTool, err, "invalid tool")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return errs.New(errs.KindTool, "tool already registered: %s", tool.Name)
	}
	r.tools[tool.Name] = tool

	logging.ToolsDebug("registered tool: %s", tool.Name)
	return nil
}

// MustRegister registers a tool and panics on error. For static
// registration at startup.
func (r *Registry) MustRegister(tool *Tool) {
	if err := r.Register(tool); err != nil {
		panic(fmt.Sprintf("failed to register tool %s: %v", tool.Name, err))
	}
}

// Get returns a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	return r.Get(name) != nil
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions renders provider tool definitions for the named tools.
// Unknown names are skipped; an empty list means every registered tool.
func (r *Registry) Definitions(names []string) []llm.ToolDefinition {
	if len(names) == 0 {
		names = r.Names()
	}
	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, name := range names {
		tool := r.Get(name)
		if tool == nil {
			continue
		}
		defs = append(defs, llm.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema(),
		})
	}
	return defs
}

// Execute runs a tool by name. It never panics outward and never returns a
// nil Result; failures are reported in Result.Error so the agent loop can
// feed them back to the model.
func (r *Registry) Execute(ctx context.Context, tc ToolContext, name string, args map[string]any) *Result {
	start := time.Now()
	result := &Result{ToolName: name}

	tool := r.Get(name)
	if tool == nil {
		result.Error = errs.New(errs.KindTool, "unknown tool: %s", name)
		result.DurationMs = time.Since(start).Milliseconds()
		return result
	}

	if err := validateArgs(tool, args); err != nil {
		result.Error = err
		result.DurationMs = time.Since(start).Milliseconds()
		return result
	}

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				result.Error = errs.New(errs.KindTool, "tool %s panicked: %v", name, rec)
			}
		}()
		output, changes, err := tool.Execute(ctx, tc, args)
		if len(output) > MaxOutputBytes {
			output = output[:MaxOutputBytes] + TruncationMarker
			result.Truncated = true
		}
		result.Output = output
		result.FileChanges = changes
		if err != nil {
			result.Error = errs.Wrap(errs.KindTool, err, "tool %s failed", name)
		}
	}()

	result.DurationMs = time.Since(start).Milliseconds()
	logging.ToolsDebug("executed %s in %dms (success=%v, truncated=%v)",
		name, result.DurationMs, result.IsSuccess(), result.Truncated)
	return result
}

// validateArgs checks required presence, argument types and enum membership
// against the tool schema.
func validateArgs(tool *Tool, args map[string]any) error {
	for _, req := range tool.Schema.Required {
		if _, ok := args[req]; !ok {
			return errs.New(errs.KindTool, "tool %s: missing required argument %q", tool.Name, req)
		}
	}
	for name, value := range args {
		prop, declared := tool.Schema.Properties[name]
		if !declared {
			return errs.New(errs.KindTool, "tool %s: unknown argument %q", tool.Name, name)
		}
		if value == nil {
			continue
		}
		if !typeMatches(prop.Type, value) {
			return errs.New(errs.KindTool, "tool %s: argument %q should be %s, got %T",
				tool.Name, name, prop.Type, value)
		}
		if len(prop.Enum) > 0 && !enumContains(prop.Enum, value) {
			return errs.New(errs.KindTool, "tool %s: argument %q not in allowed values", tool.Name, name)
		}
	}
	return nil
}

// typeMatches accepts both native Go values and the types produced by
// encoding/json (float64 for all numbers).
func typeMatches(schemaType string, value any) bool {
	switch schemaType {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "number":
		switch value.(type) {
		case float64, float32, int, int32, int64:
			return true
		}
		return false
	case "integer":
		switch v := value.(type) {
		case int, int32, int64:
			return true
		case float64:
			return v == float64(int64(v))
		}
		return false
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	}
	return false
}

func enumContains(enum []any, value any) bool {
	for _, allowed := range enum {
		if fmt.Sprintf("%v", allowed) == fmt.Sprintf("%v", value) {
			return true
		}
	}
	return false
}
