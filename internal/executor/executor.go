// Package executor implements the phase executors the pipeline drives: data
// collection, reference fetching, analysis and report synthesis. Executors
// return errors; turning them into phase results is the pipeline's job.
package executor

import (
	"context"
	"time"

	"github.com/sells-group/equity-research/internal/model"
)

// Collector gathers the primary snapshot, narrative text and news for a
// ticker.
type Collector interface {
	Collect(ctx context.Context, ticker string) (model.CollectionPayload, error)
}

// Reference is the outcome of a secondary-source fetch. Snapshot groups the
// provider's sections (overview, quote, balance_sheet, income_statement,
// cash_flow) as string fields.
type Reference struct {
	Status   string         `json:"status"`
	Snapshot model.Snapshot `json:"snapshot"`
	Errors   []string       `json:"errors,omitempty"`
}

// OK reports whether the reference carries any data.
func (r *Reference) OK() bool {
	return r != nil && r.Status == "success" && len(r.Snapshot) > 0
}

// ReferenceProvider fetches an independently sourced snapshot used for
// conflict detection and gap-filling.
type ReferenceProvider interface {
	Fetch(ctx context.Context, ticker string) (*Reference, error)
}

// Analyzer turns a snapshot and narrative into an analysis.
type Analyzer interface {
	Analyze(ctx context.Context, ticker string, snap model.Snapshot, rawText string) (model.AnalysisPayload, error)
}

// SynthesisInput is everything the synthesizer composes the report from.
type SynthesisInput struct {
	Ticker           string
	CompanyName      string
	Analysis         string
	ValidationReport string
	DataSummary      string
	Date             time.Time
}

// Synthesizer composes the final markdown report.
type Synthesizer interface {
	Compose(ctx context.Context, in SynthesisInput) (string, error)
}
