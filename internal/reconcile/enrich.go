package reconcile

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sells-group/equity-research/internal/model"
)

// directFills maps a snapshot metric to the reference field it is copied from
// when the reference already reports it.
var directFills = []struct {
	metric string
	path   string
}{
	{"current_price", "quote.05. price"},
	{"market_cap", "overview.MarketCapitalization"},
	{"revenue_growth", "overview.QuarterlyRevenueGrowthYOY"},
	{"profit_margins", "overview.ProfitMargin"},
	{"trailing_pe", "overview.PERatio"},
	{"return_on_equity", "overview.ReturnOnEquityTTM"},
	{"forward_pe", "overview.ForwardPE"},
	{"peg_ratio", "overview.PEGRatio"},
	{"dividend_yield", "overview.DividendYield"},
	{"payout_ratio", "overview.PayoutRatio"},
	{"return_on_assets", "overview.ReturnOnAssetsTTM"},
	{"operating_cashflow", "cash_flow.operatingCashflow"},
}

// Enrichment is the result of gap-filling.
type Enrichment struct {
	Snapshot model.Snapshot
	Filled   []string
	Summary  string
}

// Fill derives metrics missing from primary out of the reference snapshot.
// Present metrics are never overwritten, so Fill is idempotent for the same
// reference. The input snapshot is not modified.
func Fill(primary, reference model.Snapshot) Enrichment {
	out := primary.Clone()
	if out == nil {
		out = model.Snapshot{}
	}
	filled := []string{}
	lines := []string{}

	set := func(metric string, v float64, note string) {
		out.Set(metric, model.Number(v))
		filled = append(filled, metric)
		lines = append(lines, printer.Sprintf("- Filled `%s`: %s%s", metric, formatNumber(v), note))
	}

	if !out.Has("debt_to_equity") {
		if ratio, ok := debtToEquity(reference.Get("balance_sheet").Group()); ok {
			set("debt_to_equity", ratio, " (balance sheet)")
		}
	}

	if !out.Has("free_cash_flow") {
		cf := reference.Get("cash_flow").Group()
		if ocf, ok := cf.Get("operatingCashflow").Float(); ok {
			capex, _ := cf.Get("capitalExpenditures").Float()
			set("free_cash_flow", ocf-math.Abs(capex), " (operating cash flow - capex)")
		}
	}

	if !out.Has("financial_trends") {
		if v := FinancialTrends(reference); v.Available() {
			out.Set("financial_trends", v)
			filled = append(filled, "financial_trends")
			lines = append(lines, "- Filled `financial_trends`: "+periodSummary(v.Group()))
		}
	}

	if !out.Has("dividend_trends") {
		if v := DividendTrends(reference); v.Available() {
			out.Set("dividend_trends", v)
			filled = append(filled, "dividend_trends")
			lines = append(lines, fmt.Sprintf("- Filled `dividend_trends`: %d fiscal year(s), %s",
				len(v.Group().Get("annual_dividends").List()), v.Group().Get("dividend_trend").Str()))
		}
	}

	for _, d := range directFills {
		if out.Has(d.metric) {
			continue
		}
		v, ok := reference.Lookup(d.path).Float()
		if !ok || v == 0 {
			continue
		}
		set(d.metric, v, "")
	}

	summary := "No missing metrics could be filled"
	if len(filled) > 0 {
		summary = fmt.Sprintf("%d metric(s) enriched: %s", len(filled), strings.Join(filled, ", "))
	}
	report := "### Data Enrichment\n\n" + summary
	if len(lines) > 0 {
		report += "\n\n" + strings.Join(lines, "\n")
	}

	return Enrichment{Snapshot: out, Filled: filled, Summary: report}
}

func periodSummary(trends model.Snapshot) string {
	var parts []string
	for _, freq := range []string{"quarterly", "annual"} {
		if n := len(trends.Get(freq).Group().Get("periods").List()); n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s period(s)", n, freq))
		}
	}
	return strings.Join(parts, ", ") + " (statements)"
}

// debtToEquity computes total debt over shareholder equity, rounded to four
// places. Total debt prefers the combined field, then long-term debt, then
// short plus long-term debt.
func debtToEquity(bs model.Snapshot) (float64, bool) {
	equity, ok := bs.Get("totalShareholderEquity").Float()
	if !ok || equity <= 0 {
		return 0, false
	}

	debt, ok := bs.Get("shortLongTermDebtTotal").Float()
	if !ok || debt == 0 {
		debt, ok = bs.Get("longTermDebt").Float()
	}
	if !ok || debt == 0 {
		short, okS := bs.Get("shortTermDebt").Float()
		long, okL := bs.Get("longTermDebt").Float()
		if !okS && !okL {
			return 0, false
		}
		debt = short + long
	}

	ratio, _ := decimal.NewFromFloat(debt).
		Div(decimal.NewFromFloat(equity)).
		Round(4).
		Float64()
	return ratio, true
}
