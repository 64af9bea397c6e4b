package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"cortexos/internal/config"
	"cortexos/internal/logging"
)

var (
	// Global flags
	workspace string
	debugMode bool

	// Loaded in PersistentPreRunE, shared by subcommands.
	cfg    *config.Config
	logger *zap.Logger

	// Exit code propagated from subcommands that distinguish failure modes.
	exitCode int
)

var rootCmd = &cobra.Command{
	Use:   "cortexos",
	Short: "CortexOS - agent orchestration runtime",
	Long: `CortexOS turns a natural-language software request into a plan of
role-specialized agent tasks, executes them in parallel waves across a worker
pool with git-worktree isolation, verifies the result through quality gates
and keeps every dollar of LLM spend on a budget ledger.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if workspace == "" {
			wd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("cannot resolve working directory: %w", err)
			}
			workspace = wd
		}

		var err error
		cfg, err = config.Load(workspace)
		if err != nil {
			return err
		}
		if debugMode {
			cfg.Logging.DebugMode = true
			cfg.Logging.Level = "debug"
		}

		zcfg := zap.NewProductionConfig()
		zcfg.OutputPaths = []string{"stderr"}
		if debugMode {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if err := logging.Initialize(workspace); err != nil {
			logger.Warn("category logging unavailable", zap.Error(err))
		}
		logger.Debug("configuration loaded",
			zap.String("workspace", workspace),
			zap.String("provider", cfg.LLM.Provider),
			zap.String("model", cfg.LLM.Model))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Close()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace directory (default: current directory)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging to .cortexos/logs/")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if exitCode == 0 {
			exitCode = 3
		}
	}
	os.Exit(exitCode)
}
