package yahoo

import (
	"math"

	"github.com/shopspring/decimal"
)

// tradingDaysPerYear annualizes daily volatility.
const tradingDaysPerYear = 252

// Technicals are price-trend indicators derived from daily closes.
type Technicals struct {
	CurrentPrice float64  `json:"current_price"`
	SMA50        *float64 `json:"sma_50"`
	SMA200       *float64 `json:"sma_200"`
	Change52W    *float64 `json:"change_52w"`
}

// RiskMetrics describe the dispersion of daily returns.
type RiskMetrics struct {
	VolatilityAnnualized float64 `json:"volatility_annualized"`
	MaxDrawdown          float64 `json:"max_drawdown"`
}

// VolumeTrends compare recent volume with longer averages.
type VolumeTrends struct {
	Latest  int64    `json:"latest"`
	Avg10D  *float64 `json:"avg_10d"`
	Avg50D  *float64 `json:"avg_50d"`
	Avg200D *float64 `json:"avg_200d"`
	Spike   bool     `json:"spike"`
	Trend   string   `json:"trend"`
}

// Volume trend labels.
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
)

// closes returns the adjusted close of each bar, falling back to close.
func closes(bars []Bar) []decimal.Decimal {
	out := make([]decimal.Decimal, 0, len(bars))
	for _, b := range bars {
		c := b.AdjClose
		if c.IsZero() {
			c = b.Close
		}
		if c.IsPositive() {
			out = append(out, c)
		}
	}
	return out
}

// mean of the last n values, nil when fewer than n are available.
func tailMean(vals []decimal.Decimal, n int) *float64 {
	if n <= 0 || len(vals) < n {
		return nil
	}
	sum := decimal.Zero
	for _, v := range vals[len(vals)-n:] {
		sum = sum.Add(v)
	}
	f, _ := sum.Div(decimal.NewFromInt(int64(n))).Round(4).Float64()
	return &f
}

// ComputeTechnicals derives moving averages and the 52-week change. It
// returns nil when there is no usable price history.
func ComputeTechnicals(bars []Bar) *Technicals {
	cs := closes(bars)
	if len(cs) == 0 {
		return nil
	}
	last := cs[len(cs)-1]
	price, _ := last.Round(4).Float64()

	t := &Technicals{
		CurrentPrice: price,
		SMA50:        tailMean(cs, 50),
		SMA200:       tailMean(cs, 200),
	}
	if len(cs) > tradingDaysPerYear {
		base := cs[len(cs)-1-tradingDaysPerYear]
		chg, _ := last.Sub(base).Div(base).Mul(decimal.NewFromInt(100)).Round(2).Float64()
		t.Change52W = &chg
	}
	return t
}

// ComputeRisk derives annualized volatility and maximum drawdown, both as
// percentages. It needs at least two closes.
func ComputeRisk(bars []Bar) *RiskMetrics {
	cs := closes(bars)
	if len(cs) < 2 {
		return nil
	}

	returns := make([]decimal.Decimal, 0, len(cs)-1)
	for i := 1; i < len(cs); i++ {
		returns = append(returns, cs[i].Sub(cs[i-1]).Div(cs[i-1]))
	}
	n := decimal.NewFromInt(int64(len(returns)))
	mean := decimal.Zero
	for _, r := range returns {
		mean = mean.Add(r)
	}
	mean = mean.Div(n)
	variance := decimal.Zero
	for _, r := range returns {
		d := r.Sub(mean)
		variance = variance.Add(d.Mul(d))
	}
	if len(returns) > 1 {
		variance = variance.Div(decimal.NewFromInt(int64(len(returns) - 1)))
	}
	v, _ := variance.Float64()
	vol := math.Sqrt(v) * math.Sqrt(tradingDaysPerYear) * 100

	peak := cs[0]
	maxDD := decimal.Zero
	for _, c := range cs {
		if c.GreaterThan(peak) {
			peak = c
		}
		dd := peak.Sub(c).Div(peak)
		if dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	dd, _ := maxDD.Mul(decimal.NewFromInt(-100)).Round(2).Float64()

	return &RiskMetrics{
		VolatilityAnnualized: math.Round(vol*100) / 100,
		MaxDrawdown:          dd,
	}
}

// ComputeVolume derives volume averages, a spike flag (latest above twice
// the 50-day average) and a trend comparing the 10-day with the 50-day
// average.
func ComputeVolume(bars []Bar) *VolumeTrends {
	vols := make([]decimal.Decimal, 0, len(bars))
	for _, b := range bars {
		if b.Volume > 0 {
			vols = append(vols, decimal.NewFromInt(b.Volume))
		}
	}
	if len(vols) == 0 {
		return nil
	}

	latest := vols[len(vols)-1]
	vt := &VolumeTrends{
		Latest:  latest.IntPart(),
		Avg10D:  tailMean(vols, 10),
		Avg50D:  tailMean(vols, 50),
		Avg200D: tailMean(vols, 200),
		Trend:   TrendStable,
	}
	if vt.Avg50D != nil && *vt.Avg50D > 0 {
		vt.Spike = latest.GreaterThan(decimal.NewFromFloat(*vt.Avg50D).Mul(decimal.NewFromInt(2)))
		if vt.Avg10D != nil {
			ratio := *vt.Avg10D / *vt.Avg50D
			switch {
			case ratio > 1.1:
				vt.Trend = TrendIncreasing
			case ratio < 0.9:
				vt.Trend = TrendDecreasing
			}
		}
	}
	return vt
}
