package reconcile

import (
	"math"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/equity-research/internal/model"
)

var printer = message.NewPrinter(language.English)

// formatNumber renders large values with thousands separators and small
// values with up to four decimals.
func formatNumber(f float64) string {
	if math.Abs(f) >= 1e6 {
		return printer.Sprintf("%.0f", f)
	}
	s := printer.Sprintf("%.4f", f)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}
	return s
}

// FormatValidationReport renders a report as markdown.
func FormatValidationReport(r model.ValidationReport, ticker string) string {
	var b strings.Builder

	printer.Fprintf(&b, "## Data Quality Report for %s\n\n", ticker)
	printer.Fprintf(&b, "**Completeness Score:** %d%% | **Confidence Level:** %s\n\n", r.CompletenessScore, r.ConfidenceLevel)
	printer.Fprintf(&b, "- Critical Metrics: %d/%d available\n", r.AvailableCritical, r.TotalCritical)
	printer.Fprintf(&b, "- Optional Metrics: %d/%d available\n", r.AvailableOptional, r.TotalOptional)
	printer.Fprintf(&b, "- Advanced Metrics: %d/%d available\n\n", r.AvailableAdvanced, r.TotalAdvanced)

	if len(r.Warnings) > 0 {
		b.WriteString("### Warnings\n\n")
		for _, w := range r.Warnings {
			b.WriteString(w)
			b.WriteString("\n\n")
		}
	}

	if len(r.MissingCritical) > 0 {
		b.WriteString("### Missing Critical Metrics\n\n")
		for _, m := range r.MissingCritical {
			printer.Fprintf(&b, "- `%s`\n", m)
		}
		b.WriteString("\n")
	}

	return b.String()
}
