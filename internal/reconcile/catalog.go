package reconcile

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Catalog partitions metrics into tiers and lists the metrics compared
// against the reference source.
type Catalog struct {
	Critical    []string     `yaml:"critical"`
	Optional    []string     `yaml:"optional"`
	Advanced    []string     `yaml:"advanced"`
	Comparisons []Comparison `yaml:"comparisons"`
}

// Comparison is one cross-source check. Reference is a dotted path into the
// reference snapshot.
type Comparison struct {
	Metric       string  `yaml:"metric"`
	Label        string  `yaml:"label"`
	Reference    string  `yaml:"reference"`
	TolerancePct float64 `yaml:"tolerance_pct"`
}

// DefaultCatalog returns the standard 8/6/5 metric partition and the price,
// market cap and trailing P/E comparisons.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Critical: []string{
			"current_price",
			"market_cap",
			"revenue_growth",
			"profit_margins",
			"trailing_pe",
			"debt_to_equity",
			"free_cash_flow",
			"return_on_equity",
		},
		Optional: []string{
			"forward_pe",
			"peg_ratio",
			"dividend_yield",
			"payout_ratio",
			"return_on_assets",
			"operating_cashflow",
		},
		Advanced: []string{
			"technicals",
			"risk_metrics",
			"financial_trends",
			"volume_trends",
			"dividend_trends",
		},
		Comparisons: []Comparison{
			{Metric: "current_price", Label: "Price", Reference: "quote.05. price", TolerancePct: 1.0},
			{Metric: "market_cap", Label: "Market Cap", Reference: "overview.MarketCapitalization", TolerancePct: 5.0},
			{Metric: "trailing_pe", Label: "P/E", Reference: "overview.PERatio", TolerancePct: 10.0},
		},
	}
}

// LoadCatalog reads a catalog from a YAML file. Tiers or comparisons left
// out of the file keep their default values.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "reconcile: read catalog %s", path)
	}

	var wrapper struct {
		Catalog Catalog `yaml:"catalog"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "reconcile: parse catalog")
	}

	cat := DefaultCatalog()
	if len(wrapper.Catalog.Critical) > 0 {
		cat.Critical = wrapper.Catalog.Critical
	}
	if len(wrapper.Catalog.Optional) > 0 {
		cat.Optional = wrapper.Catalog.Optional
	}
	if len(wrapper.Catalog.Advanced) > 0 {
		cat.Advanced = wrapper.Catalog.Advanced
	}
	if len(wrapper.Catalog.Comparisons) > 0 {
		cat.Comparisons = wrapper.Catalog.Comparisons
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return cat, nil
}

// Validate checks that tiers are disjoint and comparisons are usable.
func (c *Catalog) Validate() error {
	if len(c.Critical) == 0 {
		return eris.New("reconcile: catalog needs at least one critical metric")
	}
	seen := make(map[string]string)
	for tier, names := range map[string][]string{"critical": c.Critical, "optional": c.Optional, "advanced": c.Advanced} {
		for _, n := range names {
			if prev, ok := seen[n]; ok {
				return eris.Errorf("reconcile: metric %q listed in both %s and %s", n, prev, tier)
			}
			seen[n] = tier
		}
	}
	for _, cmp := range c.Comparisons {
		if cmp.Metric == "" || cmp.Reference == "" {
			return eris.Errorf("reconcile: comparison %q needs metric and reference", cmp.Label)
		}
		if cmp.TolerancePct < 0 {
			return eris.Errorf("reconcile: comparison %s has negative tolerance", cmp.Metric)
		}
	}
	return nil
}

// WithTolerances returns a copy whose comparison tolerances are replaced by
// the non-zero entries in overrides, keyed by metric name.
func (c *Catalog) WithTolerances(overrides map[string]float64) *Catalog {
	out := *c
	out.Comparisons = make([]Comparison, len(c.Comparisons))
	for i, cmp := range c.Comparisons {
		if t, ok := overrides[cmp.Metric]; ok && t > 0 {
			cmp.TolerancePct = t
		}
		out.Comparisons[i] = cmp
	}
	return &out
}

// Total is the number of scored metrics across all tiers.
func (c *Catalog) Total() int {
	return len(c.Critical) + len(c.Optional) + len(c.Advanced)
}
