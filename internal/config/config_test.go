package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	ws := t.TempDir()
	cfg := Default(ws)

	assert.Equal(t, ws, cfg.Workspace)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, 5.0, cfg.Limits.BudgetPerRunUSD)
	assert.Equal(t, "inprocess", cfg.Execution.Mode)
	assert.True(t, cfg.Execution.Sandboxing)
	assert.Equal(t, []string{"typecheck", "tests", "lint", "security", "complexity"}, cfg.Quality.Gates)
	assert.Equal(t, filepath.Join(ws, ".cortexos"), cfg.StateDir())
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	ws := t.TempDir()

	cfg, err := Load(ws)
	require.NoError(t, err)
	assert.Equal(t, Default(ws).LLM.Model, cfg.LLM.Model)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	ws := t.TempDir()
	writeConfig(t, ws, `{
		"llm": {"provider": "mock", "model": "mock-small"},
		"limits": {"budget_per_run_usd": 2.5, "budget_per_day_usd": 50, "max_iterations": 10, "task_timeout_sec": 120},
		"execution": {"mode": "forked", "max_workers": 2, "branch_prefix": "cortexos", "heartbeat_ms": 15000},
		"quality": {"gates": ["tests"], "auto_fix": false}
	}`)

	cfg, err := Load(ws)
	require.NoError(t, err)

	assert.Equal(t, "mock", cfg.LLM.Provider)
	assert.Equal(t, "mock-small", cfg.LLM.Model)
	assert.Equal(t, 2.5, cfg.Limits.BudgetPerRunUSD)
	assert.Equal(t, "forked", cfg.Execution.Mode)
	assert.Equal(t, 2, cfg.Execution.MaxWorkers)
	assert.Equal(t, []string{"tests"}, cfg.Quality.Gates)
	assert.False(t, cfg.Quality.AutoFix)
	assert.Equal(t, ws, cfg.Workspace)
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	ws := t.TempDir()
	writeConfig(t, ws, `{"llm": `)

	_, err := Load(ws)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}

func TestLoadEnvOverrides(t *testing.T) {
	ws := t.TempDir()
	writeConfig(t, ws, `{"llm": {"model": "from-file"}}`)

	t.Setenv("CORTEXOS_MODEL", "from-env")
	t.Setenv("CORTEXOS_API_KEY", "sk-test")
	t.Setenv("GEMINI_API_KEY", "should-lose")
	t.Setenv("CORTEXOS_BUDGET_PER_RUN", "0.75")
	t.Setenv("CORTEXOS_MAX_WORKERS", "8")

	cfg, err := Load(ws)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.LLM.Model)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, 0.75, cfg.Limits.BudgetPerRunUSD)
	assert.Equal(t, 8, cfg.Execution.MaxWorkers)
}

func TestGeminiKeyFallback(t *testing.T) {
	ws := t.TempDir()
	t.Setenv("CORTEXOS_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "gm-key")

	cfg, err := Load(ws)
	require.NoError(t, err)
	assert.Equal(t, "gm-key", cfg.LLM.APIKey)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		errSub string
	}{
		{"negative run budget", func(c *Config) { c.Limits.BudgetPerRunUSD = -1 }, "budget_per_run_usd"},
		{"zero iterations", func(c *Config) { c.Limits.MaxIterations = 0 }, "max_iterations"},
		{"zero timeout", func(c *Config) { c.Limits.TaskTimeoutSec = 0 }, "task_timeout_sec"},
		{"bad mode", func(c *Config) { c.Execution.Mode = "remote" }, "execution.mode"},
		{"bad strategy", func(c *Config) { c.Execution.Strategy = "guess" }, "execution.strategy"},
		{"zero workers", func(c *Config) { c.Execution.MaxWorkers = 0 }, "execution.max_workers"},
		{"threshold out of range", func(c *Config) { c.Memory.ProtectedThreshold = 1.5 }, "protected_threshold"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default(t.TempDir())
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errSub)
		})
	}
}

func TestStrategyKnob(t *testing.T) {
	for _, name := range []string{"", "react", "reflexion", "tree-of-thought", "tot", "debate"} {
		cfg := Default(t.TempDir())
		cfg.Execution.Strategy = name
		assert.NoError(t, cfg.Validate(), name)
	}

	ws := t.TempDir()
	t.Setenv("CORTEXOS_STRATEGY", "debate")
	cfg, err := Load(ws)
	require.NoError(t, err)
	assert.Equal(t, "debate", cfg.Execution.Strategy)
}

func TestLoadRejectsInvalidFileValues(t *testing.T) {
	ws := t.TempDir()
	writeConfig(t, ws, `{"execution": {"mode": "inprocess", "max_workers": -3}}`)

	_, err := Load(ws)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_workers")
}

func writeConfig(t *testing.T, workspace, body string) {
	t.Helper()
	dir := filepath.Join(workspace, ".cortexos")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(body), 0o644))
}
