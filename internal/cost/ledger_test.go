package cost

import (
	"sync"
	"testing"

	"cortexos/internal/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummaryTotalsAreExact(t *testing.T) {
	l, err := NewLedger("", Budgets{})
	require.NoError(t, err)

	want := 0.0
	for i := 0; i < 100; i++ {
		e := l.RecordCall("gemini", "gemini-2.5-flash", 1000+i, 500+i)
		want += e.CostUSD
	}

	s := l.Summary(0)
	assert.Equal(t, 100, s.Calls)
	assert.InDelta(t, want, s.TotalCostUSD, 1e-9)
	assert.InDelta(t, want, l.RunTotal(), 1e-9)
}

func TestUnknownModelUsesPessimisticDefault(t *testing.T) {
	p := Price("acme", "frontier-9000")
	assert.Equal(t, defaultPrice, p)

	// The default must be at least as expensive as every known model so
	// unknown models never slip under a budget.
	for key, known := range pricingTable {
		assert.GreaterOrEqual(t, defaultPrice.InputPerMTok, known.InputPerMTok, key)
		assert.GreaterOrEqual(t, defaultPrice.OutputPerMTok, known.OutputPerMTok, key)
	}
}

func TestPreAuthorizeRejectsOverRunBudget(t *testing.T) {
	l, err := NewLedger("", Budgets{PerRunUSD: 0.01})
	require.NoError(t, err)

	// 100k in + 100k out of flash is ~$0.28, far above one cent even
	// before the 1.2x margin.
	err = l.PreAuthorize(100_000, 100_000, "gemini", "gemini-2.5-flash")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindBudget))
	assert.Contains(t, err.Error(), "run budget $0.01")

	// Tiny call passes.
	assert.NoError(t, l.PreAuthorize(100, 100, "gemini", "gemini-2.5-flash"))
}

func TestPreAuthorizeAccountsForSpend(t *testing.T) {
	l, err := NewLedger("", Budgets{PerRunUSD: 0.001})
	require.NoError(t, err)

	// Spend most of the budget, then a call that alone would fit must now
	// be rejected.
	l.RecordCall("gemini", "gemini-2.5-pro", 500, 50)
	err = l.PreAuthorize(200, 20, "gemini", "gemini-2.5-pro")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindBudget))
}

func TestPreAuthorizeUSDAppliesMargin(t *testing.T) {
	l, err := NewLedger("", Budgets{PerRunUSD: 1.0})
	require.NoError(t, err)

	// 0.9 * 1.2 = 1.08 > 1.0
	err = l.PreAuthorizeUSD(0.9)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindBudget))

	// 0.8 * 1.2 = 0.96 <= 1.0
	assert.NoError(t, l.PreAuthorizeUSD(0.8))
}

func TestDayBudgetCoversHistory(t *testing.T) {
	l, err := NewLedger("", Budgets{PerDayUSD: 0.001})
	require.NoError(t, err)

	l.RecordCall("gemini", "gemini-2.5-pro", 500, 50)
	l.ResetRun() // Run total cleared, day history remains.

	err = l.PreAuthorize(200, 20, "gemini", "gemini-2.5-pro")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "day budget")
}

func TestConcurrentRecordKeepsEveryEntry(t *testing.T) {
	l, err := NewLedger("", Budgets{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.RecordCall("mock", "mock", 10, 10)
			}
		}()
	}
	wg.Wait()

	s := l.Summary(0)
	assert.Equal(t, 400, s.Calls)
	assert.InDelta(t, 400*CostUSD("mock", "mock", 10, 10), s.TotalCostUSD, 1e-9)
}
