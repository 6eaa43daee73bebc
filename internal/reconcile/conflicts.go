package reconcile

import (
	"math"
	"strings"

	"github.com/sells-group/equity-research/internal/model"
)

// DiffPercent is the symmetric mean-percentage difference between a and b.
// The result does not depend on operand order. It reports false when the
// mean is zero and the difference is undefined.
func DiffPercent(a, b float64) (float64, bool) {
	mean := math.Abs(a+b) / 2
	if mean == 0 {
		return 0, false
	}
	return 100 * math.Abs(a-b) / mean, true
}

// Verification is the result of comparing a primary snapshot against a
// reference snapshot.
type Verification struct {
	Conflicts []model.Conflict
	Report    string
}

// Verified reports whether no comparison exceeded its tolerance.
func (v Verification) Verified() bool { return len(v.Conflicts) == 0 }

// DetectConflicts compares every catalog comparison where both sides parse to
// finite numbers. Pairs with a missing side are skipped; absence is never a
// conflict.
func DetectConflicts(cat *Catalog, primary, reference model.Snapshot) Verification {
	conflicts := []model.Conflict{}
	lines := []string{"### Cross-Source Verification", ""}

	for _, cmp := range cat.Comparisons {
		label := cmp.Label
		if label == "" {
			label = cmp.Metric
		}
		a, okA := primary.Get(cmp.Metric).Float()
		b, okB := reference.Lookup(cmp.Reference).Float()
		if !okA || !okB {
			lines = append(lines, printer.Sprintf("- %s Skipped: unavailable", label))
			continue
		}
		diff, ok := DiffPercent(a, b)
		if !ok {
			lines = append(lines, printer.Sprintf("- %s Skipped: undefined difference", label))
			continue
		}
		if diff > cmp.TolerancePct {
			conflicts = append(conflicts, model.Conflict{
				Metric:         cmp.Metric,
				PrimaryValue:   a,
				ReferenceValue: b,
				DiffPercent:    diff,
			})
			lines = append(lines, printer.Sprintf("- **%s Mismatch**: %s vs %s (%.2f%% > %.1f%%)",
				label, formatNumber(a), formatNumber(b), diff, cmp.TolerancePct))
			continue
		}
		lines = append(lines, printer.Sprintf("- %s Verified: %s vs %s (%.2f%%)",
			label, formatNumber(a), formatNumber(b), diff))
	}

	lines = append(lines, "")
	if len(conflicts) == 0 {
		lines = append(lines, "No significant discrepancies found.")
	} else {
		lines = append(lines, printer.Sprintf("**%d Conflict(s) Detected** - User Review Required.", len(conflicts)))
	}

	return Verification{Conflicts: conflicts, Report: strings.Join(lines, "\n")}
}
