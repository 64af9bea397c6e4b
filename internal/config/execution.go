package config

import "fmt"

// ExecutionConfig configures the agent pool and coordinator.
type ExecutionConfig struct {
	// Mode selects the pool execution mode: "inprocess" or "forked".
	Mode string `json:"mode"`

	MaxWorkers int `json:"max_workers"`

	// Strategy wraps every task agent in a deliberation strategy: "react",
	// "reflexion", "tree-of-thought" or "debate". Empty runs the plain loop.
	Strategy string `json:"strategy"`

	// Sandboxing controls per-task git worktree isolation. When the project
	// is not a git repository the engine falls back to advisory per-file
	// locks, so concurrent tasks never write the same path.
	Sandboxing bool `json:"sandboxing"`

	// BranchPrefix is the prefix for sandbox branches:
	// <prefix>/<executionId>/<taskId>.
	BranchPrefix string `json:"branch_prefix"`

	// HeartbeatMs is the stream heartbeat interval in milliseconds.
	HeartbeatMs int `json:"heartbeat_ms"`
}

// DefaultExecution returns the built-in execution defaults.
func DefaultExecution() ExecutionConfig {
	return ExecutionConfig{
		Mode:         "inprocess",
		MaxWorkers:   4,
		Sandboxing:   true,
		BranchPrefix: "cortexos",
		HeartbeatMs:  15000,
	}
}

// Validate checks execution settings.
func (e ExecutionConfig) Validate() error {
	switch e.Mode {
	case "inprocess", "forked":
	default:
		return fmt.Errorf("execution.mode must be inprocess or forked, got %q", e.Mode)
	}
	if e.MaxWorkers < 1 {
		return fmt.Errorf("execution.max_workers must be >= 1")
	}
	switch e.Strategy {
	case "", "react", "reflexion", "tree-of-thought", "tot", "debate":
	default:
		return fmt.Errorf("execution.strategy must be react, reflexion, tree-of-thought or debate, got %q", e.Strategy)
	}
	return nil
}
