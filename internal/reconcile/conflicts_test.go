package reconcile

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/equity-research/internal/model"
)

func reference(price, marketCap, pe string) model.Snapshot {
	return model.Snapshot{
		"quote": model.Group(model.Snapshot{"05. price": model.String(price)}),
		"overview": model.Group(model.Snapshot{
			"MarketCapitalization": model.String(marketCap),
			"PERatio":              model.String(pe),
		}),
	}
}

func TestDiffPercent_Symmetric(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(3, 5))
	for i := 0; i < 1000; i++ {
		a := (rng.Float64() - 0.2) * 1e4
		b := (rng.Float64() - 0.2) * 1e4
		ab, okAB := DiffPercent(a, b)
		ba, okBA := DiffPercent(b, a)
		require.Equal(t, okAB, okBA)
		require.InDelta(t, ab, ba, 1e-9)
		require.GreaterOrEqual(t, ab, 0.0)
	}

	_, ok := DiffPercent(0, 0)
	assert.False(t, ok)
	_, ok = DiffPercent(5, -5)
	assert.False(t, ok)
}

func TestDetectConflicts_ScenarioB(t *testing.T) {
	t.Parallel()

	primary := model.Snapshot{"current_price": model.Number(100.0)}
	v := DetectConflicts(DefaultCatalog(), primary, reference("102.5", "None", "None"))

	require.Len(t, v.Conflicts, 1)
	c := v.Conflicts[0]
	assert.Equal(t, "current_price", c.Metric)
	assert.Equal(t, 100.0, c.PrimaryValue)
	assert.Equal(t, 102.5, c.ReferenceValue)
	assert.InDelta(t, 2.469, c.DiffPercent, 0.001)
	assert.False(t, v.Verified())
	assert.Contains(t, v.Report, "Price Mismatch")
	assert.Contains(t, v.Report, "1 Conflict(s) Detected")
	assert.Contains(t, v.Report, "Market Cap Skipped: unavailable")
}

func TestDetectConflicts_ScenarioC(t *testing.T) {
	t.Parallel()

	primary := model.Snapshot{"trailing_pe": model.Number(30)}
	v := DetectConflicts(DefaultCatalog(), primary, reference("", "", "32"))

	assert.Empty(t, v.Conflicts)
	assert.True(t, v.Verified())
	assert.Contains(t, v.Report, "P/E Verified: 30 vs 32 (6.45%)")
	assert.Contains(t, v.Report, "No significant discrepancies found.")
}

func TestDetectConflicts_MarketCapTolerance(t *testing.T) {
	t.Parallel()

	primary := model.Snapshot{
		"current_price": model.Number(190.0),
		"market_cap":    model.Number(3.0e12),
	}
	v := DetectConflicts(DefaultCatalog(), primary, reference("190.5", "3100000000000", "28"))
	assert.Empty(t, v.Conflicts)

	v = DetectConflicts(DefaultCatalog(), primary, reference("190.5", "3300000000000", "28"))
	require.Len(t, v.Conflicts, 1)
	assert.Equal(t, "market_cap", v.Conflicts[0].Metric)
	assert.Contains(t, v.Report, "3,300,000,000,000")
}

func TestDetectConflicts_AbsenceIsNotConflict(t *testing.T) {
	t.Parallel()

	v := DetectConflicts(DefaultCatalog(), model.Snapshot{}, reference("100", "5", "10"))
	assert.Empty(t, v.Conflicts)

	v = DetectConflicts(DefaultCatalog(), model.Snapshot{"current_price": model.Number(100)}, model.Snapshot{})
	assert.Empty(t, v.Conflicts)
}

func TestDetectConflicts_ConfiguredTolerance(t *testing.T) {
	t.Parallel()

	cat := DefaultCatalog().WithTolerances(map[string]float64{"current_price": 3.0})
	primary := model.Snapshot{"current_price": model.Number(100.0)}
	v := DetectConflicts(cat, primary, reference("102.5", "", ""))
	assert.Empty(t, v.Conflicts)

	assert.Equal(t, 1.0, DefaultCatalog().Comparisons[0].TolerancePct)
}
