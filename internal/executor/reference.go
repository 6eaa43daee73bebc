package executor

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/equity-research/internal/model"
	"github.com/sells-group/equity-research/pkg/alphavantage"
)

// AlphaVantageReference adapts the Alpha Vantage client to ReferenceProvider.
type AlphaVantageReference struct {
	client alphavantage.Client
}

// NewAlphaVantageReference creates a reference provider backed by c.
func NewAlphaVantageReference(c alphavantage.Client) *AlphaVantageReference {
	return &AlphaVantageReference{client: c}
}

// Fetch returns the reference snapshot. Per-section failures are carried in
// Reference.Errors; only a failed fetch as a whole returns an error.
func (a *AlphaVantageReference) Fetch(ctx context.Context, ticker string) (*Reference, error) {
	res, err := a.client.Fetch(ctx, ticker)
	if err != nil {
		return nil, eris.Wrapf(err, "executor: fetch reference for %s", ticker)
	}

	snap := model.Snapshot{}
	for name, section := range map[string]map[string]string{
		"overview":         res.Data.Overview,
		"quote":            res.Data.Quote,
		"balance_sheet":    res.Data.BalanceSheet,
		"income_statement": res.Data.IncomeStatement,
		"cash_flow":        res.Data.CashFlow,
	} {
		if len(section) == 0 {
			continue
		}
		snap[name] = model.Group(stringGroup(section))
	}

	history := model.Snapshot{}
	for name, st := range res.Data.History {
		g := model.Snapshot{}
		g.Set("quarterly", reportList(st.Quarterly))
		g.Set("annual", reportList(st.Annual))
		if len(g) > 0 {
			history[name] = model.Group(g)
		}
	}
	if len(history) > 0 {
		snap["history"] = model.Group(history)
	}

	return &Reference{
		Status:   res.Status,
		Snapshot: snap,
		Errors:   res.Errors,
	}, nil
}

func stringGroup(fields map[string]string) model.Snapshot {
	g := make(model.Snapshot, len(fields))
	for k, v := range fields {
		g[k] = model.String(v)
	}
	return g
}

// reportList keeps report order (newest first). An empty series is absent.
func reportList(reports []map[string]string) model.Value {
	if len(reports) == 0 {
		return model.Absent()
	}
	out := make([]model.Value, len(reports))
	for i, r := range reports {
		out[i] = model.Group(stringGroup(r))
	}
	return model.List(out...)
}
