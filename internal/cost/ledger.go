// Package cost implements per-call token and dollar accounting with run and
// day budget enforcement. Every LLM call in the engine is pre-authorized
// against the budgets before it is made and recorded after it completes.
package cost

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cortexos/internal/errs"
	"cortexos/internal/logging"
)

// SafetyMargin is the pessimistic multiplier applied to estimated tokens
// during pre-authorization.
const SafetyMargin = 1.2

// Entry is one ledger record, appended in call-completion order.
type Entry struct {
	Timestamp    time.Time `json:"timestamp"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
}

// Summary aggregates ledger entries over a window.
type Summary struct {
	Calls        int     `json:"calls"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	ByModel      map[string]float64
}

// Budgets bounds spending per engine run and per calendar day.
type Budgets struct {
	PerRunUSD float64
	PerDayUSD float64
}

// Ledger records calls and enforces budgets. Safe for concurrent use; all
// mutation funnels through a single mutex so records keep completion order.
type Ledger struct {
	mu       sync.Mutex
	entries  []Entry
	budgets  Budgets
	runTotal float64

	filePath string
	dirty    bool
}

// NewLedger creates a ledger persisting to <workspace>/.cortexos/usage.json.
// An empty workspace disables persistence (used by tests and forked workers).
func NewLedger(workspace string, budgets Budgets) (*Ledger, error) {
	l := &Ledger{budgets: budgets}
	if workspace == "" {
		return l, nil
	}
	dir := filepath.Join(workspace, ".cortexos")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	l.filePath = filepath.Join(dir, "usage.json")
	if err := l.load(); err != nil {
		logging.CostWarn("usage ledger load failed, starting empty: %v", err)
	}
	return l, nil
}

func (l *Ledger) load() error {
	data, err := os.ReadFile(l.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &l.entries)
}

// Save writes the ledger to disk.
func (l *Ledger) Save() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.saveLocked()
}

func (l *Ledger) saveLocked() error {
	if l.filePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(l.entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(l.filePath, data, 0644)
}

// RecordCall appends the actual usage of a completed call.
func (l *Ledger) RecordCall(provider, model string, inputTokens, outputTokens int) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Entry{
		Timestamp:    time.Now(),
		Provider:     provider,
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      CostUSD(provider, model, inputTokens, outputTokens),
	}
	l.entries = append(l.entries, entry)
	l.runTotal += entry.CostUSD

	logging.CostDebug("recorded %s/%s in=%d out=%d $%.6f (run total $%.4f)",
		provider, model, inputTokens, outputTokens, entry.CostUSD, l.runTotal)

	// Debounced auto-save, matching the usage tracker it replaces.
	if l.filePath != "" && !l.dirty {
		l.dirty = true
		time.AfterFunc(5*time.Second, func() {
			l.mu.Lock()
			l.saveLocked()
			l.dirty = false
			l.mu.Unlock()
		})
	}
	return entry
}

// PreAuthorize rejects a call whose pessimistic cost would push the run or
// day total above its budget. Callers pass raw estimates; the 1.2x safety
// margin is applied here.
func (l *Ledger) PreAuthorize(estInput, estOutput int, provider, model string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	est := CostUSD(provider, model,
		int(float64(estInput)*SafetyMargin),
		int(float64(estOutput)*SafetyMargin))

	if l.budgets.PerRunUSD > 0 && l.runTotal+est > l.budgets.PerRunUSD {
		return &errs.Error{
			Kind: errs.KindBudget,
			Msg: fmt.Sprintf("run budget $%.2f exhausted: spent $%.4f, call would add $%.4f",
				l.budgets.PerRunUSD, l.runTotal, est),
		}
	}
	if l.budgets.PerDayUSD > 0 {
		day := l.totalSinceLocked(startOfDay(time.Now()))
		if day+est > l.budgets.PerDayUSD {
			return &errs.Error{
				Kind: errs.KindBudget,
				Msg: fmt.Sprintf("day budget $%.2f exhausted: spent $%.4f, call would add $%.4f",
					l.budgets.PerDayUSD, day, est),
			}
		}
	}
	return nil
}

// PreAuthorizeUSD checks a pre-computed dollar estimate (used for whole-plan
// authorization before execution starts).
func (l *Ledger) PreAuthorizeUSD(estUSD float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	est := estUSD * SafetyMargin
	if l.budgets.PerRunUSD > 0 && l.runTotal+est > l.budgets.PerRunUSD {
		return &errs.Error{
			Kind: errs.KindBudget,
			Msg: fmt.Sprintf("run budget $%.2f exhausted: spent $%.4f, plan estimate $%.4f",
				l.budgets.PerRunUSD, l.runTotal, est),
		}
	}
	if l.budgets.PerDayUSD > 0 {
		day := l.totalSinceLocked(startOfDay(time.Now()))
		if day+est > l.budgets.PerDayUSD {
			return &errs.Error{
				Kind: errs.KindBudget,
				Msg: fmt.Sprintf("day budget $%.2f exhausted: spent $%.4f, plan estimate $%.4f",
					l.budgets.PerDayUSD, day, est),
			}
		}
	}
	return nil
}

// Summary aggregates entries within the trailing window. A zero window
// aggregates everything.
func (l *Ledger) Summary(window time.Duration) Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Time{}
	if window > 0 {
		cutoff = time.Now().Add(-window)
	}

	s := Summary{ByModel: make(map[string]float64)}
	for _, e := range l.entries {
		if !cutoff.IsZero() && e.Timestamp.Before(cutoff) {
			continue
		}
		s.Calls++
		s.InputTokens += e.InputTokens
		s.OutputTokens += e.OutputTokens
		s.TotalCostUSD += e.CostUSD
		s.ByModel[priceKey(e.Provider, e.Model)] += e.CostUSD
	}
	return s
}

// RunTotal returns the total spent in this run.
func (l *Ledger) RunTotal() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.runTotal
}

// ResetRun zeroes the per-run total, keeping history for day budgets.
func (l *Ledger) ResetRun() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runTotal = 0
}

func (l *Ledger) totalSinceLocked(since time.Time) float64 {
	total := 0.0
	for _, e := range l.entries {
		if !e.Timestamp.Before(since) {
			total += e.CostUSD
		}
	}
	return total
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
