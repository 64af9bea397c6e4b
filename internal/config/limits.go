package config

import (
	"fmt"
	"time"
)

// Limits enforces system-wide resource and budget constraints.
type Limits struct {
	BudgetPerRunUSD float64 `json:"budget_per_run_usd"`
	BudgetPerDayUSD float64 `json:"budget_per_day_usd"`

	MaxIterations int `json:"max_iterations"` // Agent loop cap
	MaxThoughts   int `json:"max_thoughts"`   // ReAct cap
	MaxRetries    int `json:"max_retries"`    // Reflexion cap

	TaskTimeoutSec int `json:"task_timeout_sec"` // Per-task hard timeout
}

// DefaultLimits returns the built-in limit defaults.
func DefaultLimits() Limits {
	return Limits{
		BudgetPerRunUSD: 5.0,
		BudgetPerDayUSD: 50.0,
		MaxIterations:   10,
		MaxThoughts:     6,
		MaxRetries:      2,
		TaskTimeoutSec:  120,
	}
}

// Validate checks that limits are within acceptable ranges.
func (l Limits) Validate() error {
	if l.BudgetPerRunUSD < 0 {
		return fmt.Errorf("budget_per_run_usd must be >= 0")
	}
	if l.BudgetPerDayUSD < 0 {
		return fmt.Errorf("budget_per_day_usd must be >= 0")
	}
	if l.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be >= 1")
	}
	if l.TaskTimeoutSec < 1 {
		return fmt.Errorf("task_timeout_sec must be >= 1")
	}
	return nil
}

// TaskTimeout returns the per-task hard timeout as a duration.
func (l Limits) TaskTimeout() time.Duration {
	return time.Duration(l.TaskTimeoutSec) * time.Second
}
