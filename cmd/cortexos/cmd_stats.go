package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"cortexos/internal/cost"
	"cortexos/internal/memory"
)

var statsWindow time.Duration

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show LLM spend and memory usage for this workspace",
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().DurationVar(&statsWindow, "window", 24*time.Hour, "trailing window for spend aggregation (0 = all time)")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	ledger, err := cost.NewLedger(cfg.Workspace, cost.Budgets{
		PerRunUSD: cfg.Limits.BudgetPerRunUSD,
		PerDayUSD: cfg.Limits.BudgetPerDayUSD,
	})
	if err != nil {
		return err
	}

	summary := ledger.Summary(statsWindow)
	if statsWindow > 0 {
		fmt.Printf("spend over the last %s:\n", statsWindow)
	} else {
		fmt.Println("spend, all time:")
	}
	fmt.Printf("  calls:  %d\n", summary.Calls)
	fmt.Printf("  tokens: %d in / %d out\n", summary.InputTokens, summary.OutputTokens)
	fmt.Printf("  cost:   $%.4f (budgets: $%.2f/run, $%.2f/day)\n",
		summary.TotalCostUSD, cfg.Limits.BudgetPerRunUSD, cfg.Limits.BudgetPerDayUSD)

	models := make([]string, 0, len(summary.ByModel))
	for m := range summary.ByModel {
		models = append(models, m)
	}
	sort.Strings(models)
	for _, m := range models {
		fmt.Printf("    %-40s $%.4f\n", m, summary.ByModel[m])
	}

	mem, err := memory.New(cfg.Workspace, memory.Config{
		MaxEntries:         cfg.Memory.MaxEntries,
		ProtectedThreshold: cfg.Memory.ProtectedThreshold,
	})
	if err != nil {
		fmt.Printf("memory: unavailable (%v)\n", err)
		return nil
	}
	defer mem.Close()

	count, err := mem.Count(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("memory: %d entries (cap %d)\n", count, cfg.Memory.MaxEntries)
	return nil
}
