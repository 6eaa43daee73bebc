package reconcile

import (
	"fmt"
	"strings"

	"github.com/sells-group/equity-research/internal/model"
)

// Confidence thresholds, checked in order.
const (
	highCriticalPct   = 90.0
	highScore         = 80
	mediumCriticalPct = 70.0
	mediumScore       = 60
)

// ConfidenceFor maps critical percentage and completeness score to a
// confidence level. The first matching row wins.
func ConfidenceFor(criticalPct float64, score int) model.Confidence {
	switch {
	case criticalPct >= highCriticalPct && score >= highScore:
		return model.ConfidenceHigh
	case criticalPct >= mediumCriticalPct && score >= mediumScore:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

// Completeness scores the availability of every catalog metric in s. It is
// deterministic and has no side effects.
func Completeness(cat *Catalog, s model.Snapshot) model.ValidationReport {
	availCrit, missCrit := tally(cat.Critical, s)
	availOpt, missOpt := tally(cat.Optional, s)
	availAdv, missAdv := tally(cat.Advanced, s)

	total := cat.Total()
	available := availCrit + availOpt + availAdv

	score := 0
	if total > 0 {
		score = available * 100 / total
	}
	critPct := 100.0
	if len(cat.Critical) > 0 {
		critPct = 100 * float64(availCrit) / float64(len(cat.Critical))
	}

	return model.ValidationReport{
		CompletenessScore:  score,
		CriticalPercentage: critPct,
		ConfidenceLevel:    ConfidenceFor(critPct, score),
		AvailableCritical:  availCrit,
		AvailableOptional:  availOpt,
		AvailableAdvanced:  availAdv,
		TotalCritical:      len(cat.Critical),
		TotalOptional:      len(cat.Optional),
		TotalAdvanced:      len(cat.Advanced),
		AvailableMetrics:   available,
		TotalMetrics:       total,
		MissingCritical:    missCrit,
		MissingOptional:    missOpt,
		MissingAdvanced:    missAdv,
		Warnings:           warnings(missCrit, missAdv, critPct),
		Conflicts:          []model.Conflict{},
	}
}

func tally(names []string, s model.Snapshot) (int, []string) {
	missing := []string{}
	n := 0
	for _, name := range names {
		if s.Has(name) {
			n++
		} else {
			missing = append(missing, name)
		}
	}
	return n, missing
}

func warnings(missingCritical, missingAdvanced []string, critPct float64) []string {
	out := []string{}
	if n := len(missingCritical); n > 0 {
		names := missingCritical
		suffix := ""
		if n > 3 {
			names = names[:3]
			suffix = ", ..."
		}
		out = append(out, fmt.Sprintf("Missing %d critical metric(s): %s%s", n, strings.Join(names, ", "), suffix))
	}
	if critPct < mediumCriticalPct {
		out = append(out, fmt.Sprintf("Only %d%% of critical metrics available - analysis may be unreliable", int(critPct)))
	}
	for _, m := range missingAdvanced {
		switch m {
		case "technicals":
			out = append(out, "Technical analysis not available (no historical price data)")
		case "financial_trends":
			out = append(out, "Trend analysis not available (no quarterly data)")
		}
	}
	return out
}
