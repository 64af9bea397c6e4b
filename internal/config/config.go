// Package config loads and validates CortexOS configuration. Configuration is
// read from <workspace>/.cortexos/config.json, merged over defaults, with
// CORTEXOS_* environment variables taking final precedence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all CortexOS configuration.
type Config struct {
	Workspace string `json:"-"` // Set by the loader, not persisted

	LLM       LLMConfig       `json:"llm"`
	Limits    Limits          `json:"limits"`
	Execution ExecutionConfig `json:"execution"`
	Memory    MemoryConfig    `json:"memory"`
	Quality   QualityConfig   `json:"quality"`
	Webhook   WebhookConfig   `json:"webhook"`
	Logging   LoggingConfig   `json:"logging"`
}

// LLMConfig configures the LLM provider.
type LLMConfig struct {
	Provider    string  `json:"provider"` // gemini, mock
	APIKey      string  `json:"api_key"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// MemoryConfig configures the memory store.
type MemoryConfig struct {
	DatabasePath       string  `json:"database_path"`
	MaxEntries         int     `json:"max_entries"`
	ProtectedThreshold float64 `json:"protected_threshold"`
}

// QualityConfig configures the quality verifier.
type QualityConfig struct {
	Gates               []string `json:"gates"`
	AutoFix             bool     `json:"auto_fix"`
	ReflexionEnabled    bool     `json:"reflexion_enabled"`
	ReflexionMaxRetries int      `json:"reflexion_max_retries"`
	ComplexityThreshold int      `json:"complexity_threshold"`
}

// WebhookConfig configures the webhook receiver.
type WebhookConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
	Secret  string `json:"secret"`
	Addr    string `json:"addr"`
}

// LoggingConfig mirrors internal/logging's file config section.
type LoggingConfig struct {
	DebugMode  bool            `json:"debug_mode"`
	Categories map[string]bool `json:"categories"`
	Level      string          `json:"level"`
	JSONFormat bool            `json:"json_format"`
}

// Default returns the built-in defaults for a workspace.
func Default(workspace string) *Config {
	return &Config{
		Workspace: workspace,
		LLM: LLMConfig{
			Provider:    "gemini",
			Model:       "gemini-2.5-flash",
			Temperature: 0.2,
			MaxTokens:   8192,
		},
		Limits:    DefaultLimits(),
		Execution: DefaultExecution(),
		Memory: MemoryConfig{
			DatabasePath:       filepath.Join(workspace, ".cortexos", "memory", "memory.sqlite"),
			MaxEntries:         1000,
			ProtectedThreshold: 0.9,
		},
		Quality: QualityConfig{
			Gates:               []string{"typecheck", "tests", "lint", "security", "complexity"},
			AutoFix:             true,
			ReflexionEnabled:    true,
			ReflexionMaxRetries: 2,
			ComplexityThreshold: 10,
		},
		Webhook: WebhookConfig{
			Path: "/hooks/execute",
			Addr: ":8799",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads config from <workspace>/.cortexos/config.json, merges it over
// defaults and applies environment overrides. A missing file is not an error.
func Load(workspace string) (*Config, error) {
	cfg := Default(workspace)

	path := filepath.Join(workspace, ".cortexos", "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.Workspace = workspace

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies CORTEXOS_* environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CORTEXOS_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("CORTEXOS_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("CORTEXOS_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("CORTEXOS_BUDGET_PER_RUN"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Limits.BudgetPerRunUSD = f
		}
	}
	if v := os.Getenv("CORTEXOS_BUDGET_PER_DAY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Limits.BudgetPerDayUSD = f
		}
	}
	if v := os.Getenv("CORTEXOS_STRATEGY"); v != "" {
		cfg.Execution.Strategy = v
	}
	if v := os.Getenv("CORTEXOS_MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Execution.MaxWorkers = n
		}
	}
	if v := os.Getenv("CORTEXOS_WEBHOOK_SECRET"); v != "" {
		cfg.Webhook.Secret = v
	}
}

// Validate checks the merged configuration.
func (c *Config) Validate() error {
	if err := c.Limits.Validate(); err != nil {
		return err
	}
	if err := c.Execution.Validate(); err != nil {
		return err
	}
	if c.Memory.ProtectedThreshold < 0 || c.Memory.ProtectedThreshold > 1 {
		return fmt.Errorf("memory.protected_threshold must be in [0,1]")
	}
	return nil
}

// StateDir returns the workspace-scoped state directory.
func (c *Config) StateDir() string {
	return filepath.Join(c.Workspace, ".cortexos")
}
