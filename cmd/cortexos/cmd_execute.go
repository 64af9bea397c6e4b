package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"cortexos/internal/engine"
	"cortexos/internal/events"
	"cortexos/internal/memory"
)

var (
	execModel     string
	execBudget    float64
	execWorkers   int
	execStrategy  string
	execNoSandbox bool
	execJSON      bool
)

var executeCmd = &cobra.Command{
	Use:   "execute \"<request>\"",
	Short: "Run one request through the full pipeline",
	Long: `Execute analyzes the request, plans a task DAG, pre-authorizes its
estimated cost against the run budget and executes it wave by wave. Progress
streams to stdout; the final summary includes cost, quality and changed files.

Exit codes: 0 success, 1 plan or quality failure, 2 budget exceeded,
3 system error.`,
	Args: cobra.ExactArgs(1),
	RunE: runExecute,
}

func init() {
	executeCmd.Flags().StringVar(&execModel, "model", "", "override the configured model")
	executeCmd.Flags().Float64Var(&execBudget, "budget", 0, "override the per-run budget in USD")
	executeCmd.Flags().IntVar(&execWorkers, "workers", 0, "override the worker count")
	executeCmd.Flags().StringVar(&execStrategy, "strategy", "", "deliberation strategy: react, reflexion, tree-of-thought or debate")
	executeCmd.Flags().BoolVar(&execNoSandbox, "no-sandbox", false, "run tasks directly in the workspace, skipping worktree isolation")
	executeCmd.Flags().BoolVar(&execJSON, "json", false, "print the final result as JSON instead of a summary")
	rootCmd.AddCommand(executeCmd)
}

func runExecute(cmd *cobra.Command, args []string) error {
	if execModel != "" {
		cfg.LLM.Model = execModel
	}
	if execBudget > 0 {
		cfg.Limits.BudgetPerRunUSD = execBudget
	}
	if execWorkers > 0 {
		cfg.Execution.MaxWorkers = execWorkers
	}
	if execStrategy != "" {
		cfg.Execution.Strategy = execStrategy
		if err := cfg.Execution.Validate(); err != nil {
			return err
		}
	}
	if execNoSandbox {
		cfg.Execution.Sandboxing = false
	}

	mem, err := memory.New(cfg.Workspace, memory.Config{
		MaxEntries:         cfg.Memory.MaxEntries,
		ProtectedThreshold: cfg.Memory.ProtectedThreshold,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: memory store unavailable: %v\n", err)
	} else {
		defer mem.Close()
	}

	eng, err := engine.New(cfg, engine.Options{Memory: mem})
	if err != nil {
		return err
	}
	if !execJSON {
		eng.Stream().Subscribe(renderEvent)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res := eng.Execute(ctx, args[0])
	exitCode = res.ExitCode

	if execJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printSummary(res)
	return nil
}

// renderEvent prints one stream event as a progress line. Agent chunks and
// heartbeats are deliberately quiet.
func renderEvent(ev events.StreamEvent) {
	switch ev.Type {
	case events.TypePipelineStart:
		fmt.Println("▸ pipeline started")
	case events.TypeStageEnter:
		fmt.Printf("▸ %s\n", ev.Stage)
	case events.TypeStageProgress:
		if m, ok := dataMap(ev.Data); ok {
			if phase, ok := m["phase"].(string); ok {
				fmt.Printf("  · %s\n", phase)
			}
		}
	case events.TypeAgentToolCall:
		if m, ok := dataMap(ev.Data); ok {
			fmt.Printf("  · [%v] %v\n", m["task_id"], m["tool"])
		}
	case events.TypeGateResult:
		fmt.Printf("  · gate %s\n", renderGate(ev.Data))
	case events.TypeCostUpdate:
		if m, ok := dataMap(ev.Data); ok {
			if total, ok := m["run_total_usd"].(float64); ok {
				fmt.Printf("  · spent $%.4f\n", total)
			}
		}
	case events.TypePipelineError:
		if m, ok := dataMap(ev.Data); ok {
			fmt.Printf("✗ %v\n", m["error"])
		}
	case events.TypePipelineComplete:
		fmt.Println("▸ pipeline complete")
	}
}

// dataMap normalizes payload data: engine-side events carry StagePayload
// whose Data is a map, relayed through the bridge as-is.
func dataMap(data any) (map[string]any, bool) {
	if payload, ok := data.(events.StagePayload); ok {
		data = payload.Data
	}
	m, ok := data.(map[string]any)
	return m, ok
}

func renderGate(data any) string {
	if payload, ok := data.(events.StagePayload); ok {
		data = payload.Data
	}
	// GateResult comes through typed; fall back to its JSON form.
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	var gr struct {
		Gate    string `json:"gate"`
		Passed  bool   `json:"passed"`
		Skipped bool   `json:"skipped"`
	}
	if json.Unmarshal(b, &gr) != nil || gr.Gate == "" {
		return strings.TrimSpace(string(b))
	}
	switch {
	case gr.Skipped:
		return gr.Gate + ": skipped"
	case gr.Passed:
		return gr.Gate + ": passed"
	default:
		return gr.Gate + ": FAILED"
	}
}

func printSummary(res *engine.ExecutionResult) {
	fmt.Println()
	if res.Success {
		fmt.Printf("✓ done in %dms\n", res.DurationMs)
	} else {
		fmt.Printf("✗ failed: %s\n", res.Error)
	}
	fmt.Printf("  cost: $%.4f (%d in / %d out tokens)\n",
		res.CostUSD, res.Usage.InputTokens, res.Usage.OutputTokens)
	if len(res.ChangedFiles) > 0 {
		fmt.Printf("  changed: %s\n", strings.Join(res.ChangedFiles, ", "))
	}
	if res.Plan != nil {
		fmt.Printf("  plan: %d task(s) in %d wave(s)\n", len(res.Plan.Tasks), len(res.Plan.Waves))
	}
}
