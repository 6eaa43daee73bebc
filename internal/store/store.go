// Package store persists run records, checkpoints of suspended runs, and
// final reports.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/equity-research/internal/model"
)

var (
	// ErrNotFound is returned when a run, checkpoint or report does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrNotSuspended is returned by ResumeCheckpoint when the run has no
	// checkpoint to consume, either because it never suspended or because it
	// was already resumed.
	ErrNotSuspended = eris.New("store: run is not suspended")
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Ticker       string          `json:"ticker,omitempty"`
	Status       model.RunStatus `json:"status,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the research pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, ticker string) (*model.Run, error)
	UpdateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	RecordPhase(ctx context.Context, runID string, result model.PhaseResult) error

	// Checkpoints. SaveCheckpoint overwrites any previous checkpoint of the
	// run atomically; ResumeCheckpoint reads and deletes it in one
	// transaction so a checkpoint is consumed at most once.
	SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error
	LoadCheckpoint(ctx context.Context, runID string) (*model.Checkpoint, error)
	ResumeCheckpoint(ctx context.Context, runID string) (*model.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, runID string) error
	ListCheckpoints(ctx context.Context, createdBefore time.Time) ([]model.Checkpoint, error)

	// Reports. Persisted reports are never updated; PersistReport prunes
	// all but the newest retained reports for the ticker.
	PersistReport(ctx context.Context, runID, ticker, body string) (*model.Report, error)
	LatestReport(ctx context.Context, ticker string) (*model.Report, error)
	ListReports(ctx context.Context, ticker string, limit int) ([]model.Report, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Option configures a store.
type Option func(*options)

type options struct {
	retention int
}

// WithReportRetention keeps only the n most recent reports per ticker.
// Zero disables pruning.
func WithReportRetention(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.retention = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{retention: 3}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func listLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
