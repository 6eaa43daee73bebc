// Package reconcile scores snapshot completeness, detects cross-source
// conflicts and fills gaps from a reference source. Everything here is a pure
// function of its inputs.
package reconcile

import (
	"strings"

	"github.com/sells-group/equity-research/internal/model"
)

// Engine runs reconciliation against a fixed catalog.
type Engine struct {
	catalog *Catalog
}

// NewEngine creates an Engine. A nil catalog uses DefaultCatalog.
func NewEngine(cat *Catalog) *Engine {
	if cat == nil {
		cat = DefaultCatalog()
	}
	return &Engine{catalog: cat}
}

// Catalog returns the engine's catalog.
func (e *Engine) Catalog() *Catalog { return e.catalog }

// Result is the combined output of one reconciliation.
type Result struct {
	Report       model.ValidationReport
	Text         string
	Verification *Verification
	Enrichment   *Enrichment
}

// Snapshot returns the enriched snapshot when enrichment filled anything,
// else primary.
func (r Result) Snapshot(primary model.Snapshot) model.Snapshot {
	if r.Enrichment != nil && len(r.Enrichment.Filled) > 0 {
		return r.Enrichment.Snapshot
	}
	return primary
}

// Reconcile scores primary and, when reference is non-nil, verifies it
// against reference and fills gaps. Conflicts are detected on the primary
// data as collected; completeness is scored after enrichment.
func (e *Engine) Reconcile(ticker string, primary, reference model.Snapshot) Result {
	scored := primary
	var res Result

	if reference != nil {
		v := DetectConflicts(e.catalog, primary, reference)
		enr := Fill(primary, reference)
		res.Verification = &v
		res.Enrichment = &enr
		scored = enr.Snapshot
	}

	res.Report = Completeness(e.catalog, scored)
	if res.Verification != nil {
		res.Report.Conflicts = res.Verification.Conflicts
	}

	parts := []string{FormatValidationReport(res.Report, ticker)}
	if res.Enrichment != nil {
		parts = append(parts, res.Enrichment.Summary)
	}
	if res.Verification != nil {
		parts = append(parts, res.Verification.Report)
	}
	res.Text = strings.Join(parts, "\n\n")
	return res
}
