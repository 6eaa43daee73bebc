package reconcile

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/sells-group/equity-research/internal/model"
)

// Trend labels.
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
	TrendUnknown    = "unknown"
)

// trendThreshold is the relative change between the older and newer half of
// a series beyond which it is no longer stable.
const trendThreshold = 0.05

// DetectTrend compares the mean of the older half of a chronological series
// (oldest first) with the mean of the newer half. The change is relative to
// the older mean, floored at 1 so near-zero series stay stable.
func DetectTrend(chronological []float64) string {
	n := len(chronological)
	if n < 2 {
		return TrendUnknown
	}
	older := average(chronological[:n/2])
	newer := average(chronological[n/2:])
	change := (newer - older) / math.Max(math.Abs(older), 1)
	switch {
	case change > trendThreshold:
		return TrendIncreasing
	case change < -trendThreshold:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

func average(vs []float64) float64 {
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

// growthPct is the percentage change from older to newer, rounded to two
// places. It reports false when older is zero.
func growthPct(newer, older float64) (float64, bool) {
	if older == 0 {
		return 0, false
	}
	pct, _ := decimal.NewFromFloat(newer - older).
		Div(decimal.NewFromFloat(math.Abs(older))).
		Mul(decimal.NewFromInt(100)).
		Round(2).
		Float64()
	return pct, true
}

// trendSeries is one statement line tracked across periods.
type trendSeries struct {
	name      string
	statement string
	value     func(report model.Snapshot) (float64, bool)
}

func reportField(name string) func(model.Snapshot) (float64, bool) {
	return func(r model.Snapshot) (float64, bool) { return r.Get(name).Float() }
}

var financialSeries = []trendSeries{
	{"revenue", "income_statement", reportField("totalRevenue")},
	{"net_income", "income_statement", reportField("netIncome")},
	{"free_cash_flow", "cash_flow", func(r model.Snapshot) (float64, bool) {
		ocf, ok := r.Get("operatingCashflow").Float()
		if !ok {
			return 0, false
		}
		capex, _ := r.Get("capitalExpenditures").Float()
		return ocf - math.Abs(capex), true
	}},
	{"debt", "balance_sheet", func(r model.Snapshot) (float64, bool) {
		if v, ok := r.Get("shortLongTermDebtTotal").Float(); ok {
			return v, true
		}
		return r.Get("longTermDebt").Float()
	}},
}

// FinancialTrends builds quarterly and annual statement trends from the
// reference history: per-period revenue, net income, free cash flow and debt
// (newest first), a trend label per line and the latest period-over-period
// revenue growth. The result is absent when no line has two periods.
func FinancialTrends(reference model.Snapshot) model.Value {
	history := reference.Get("history").Group()
	if history == nil {
		return model.Absent()
	}

	out := model.Snapshot{}
	out.Set("quarterly", periodTrends(history, "quarterly"))
	out.Set("annual", periodTrends(history, "annual"))
	if len(out) == 0 {
		return model.Absent()
	}
	return model.Group(out)
}

func periodTrends(history model.Snapshot, frequency string) model.Value {
	// fiscalDateEnding -> statement -> report
	byDate := map[string]map[string]model.Snapshot{}
	for _, statement := range []string{"income_statement", "balance_sheet", "cash_flow"} {
		for _, r := range history.Get(statement).Group().Get(frequency).List() {
			report := r.Group()
			date := report.Get("fiscalDateEnding").Str()
			if date == "" {
				continue
			}
			if byDate[date] == nil {
				byDate[date] = map[string]model.Snapshot{}
			}
			byDate[date][statement] = report
		}
	}

	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	limit := 4
	if frequency == "annual" {
		limit = 3
	}
	if len(dates) > limit {
		dates = dates[:limit]
	}

	g := model.Snapshot{}
	usable := false
	for _, s := range financialSeries {
		values := make([]model.Value, len(dates))
		var chronological []float64
		for i := len(dates) - 1; i >= 0; i-- {
			report, ok := byDate[dates[i]][s.statement]
			if !ok {
				continue
			}
			if v, ok := s.value(report); ok {
				values[i] = model.Number(v)
				chronological = append(chronological, v)
			}
		}
		if len(chronological) == 0 {
			continue
		}
		g.Set(s.name, model.List(values...))
		g.Set(s.name+"_trend", model.String(DetectTrend(chronological)))
		if len(chronological) >= 2 {
			usable = true
		}
	}
	if !usable {
		return model.Absent()
	}

	periods := make([]model.Value, len(dates))
	for i, d := range dates {
		periods[i] = model.String(d)
	}
	g.Set("periods", model.List(periods...))

	if rev := g.Get("revenue").List(); len(rev) >= 2 {
		newer, okN := rev[0].Float()
		older, okO := rev[1].Float()
		if okN && okO {
			if pct, ok := growthPct(newer, older); ok {
				g.Set("revenue_growth_pct", model.Number(pct))
			}
		}
	}
	return model.Group(g)
}

// DividendTrends reports cash dividends paid per fiscal year (newest first)
// from the annual cash flow history, with the latest year-over-year
// direction. The result is absent when no dividends were paid.
func DividendTrends(reference model.Snapshot) model.Value {
	reports := reference.Lookup("history.cash_flow.annual").List()

	var years, paid []model.Value
	var amounts []float64
	for _, r := range reports {
		report := r.Group()
		amount, ok := report.Get("dividendPayout").Float()
		if !ok {
			amount, ok = report.Get("dividendPayoutCommonStock").Float()
		}
		date := report.Get("fiscalDateEnding").Str()
		if !ok || len(date) < 4 {
			continue
		}
		amount = math.Abs(amount)
		years = append(years, model.String(date[:4]))
		paid = append(paid, model.Number(amount))
		amounts = append(amounts, amount)
	}

	anyPaid := false
	for _, a := range amounts {
		if a > 0 {
			anyPaid = true
		}
	}
	if !anyPaid {
		return model.Absent()
	}

	trend := TrendUnknown
	if len(amounts) >= 2 {
		switch {
		case amounts[0] > amounts[1]:
			trend = TrendIncreasing
		case amounts[0] < amounts[1]:
			trend = TrendDecreasing
		default:
			trend = TrendStable
		}
	}

	return model.Group(model.Snapshot{
		"dividend_years":   model.List(years...),
		"annual_dividends": model.List(paid...),
		"dividend_trend":   model.String(trend),
	})
}
