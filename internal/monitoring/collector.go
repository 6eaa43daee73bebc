// Package monitoring watches run health: it summarizes recent runs, flags
// runs stuck in review and posts alerts to a webhook.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/equity-research/internal/model"
	"github.com/sells-group/equity-research/internal/store"
)

// MetricsSnapshot holds a point-in-time view of run health.
type MetricsSnapshot struct {
	// Runs created within the lookback window.
	RunsTotal     int     `json:"runs_total"`
	RunsDone      int     `json:"runs_done"`
	RunsDegraded  int     `json:"runs_degraded"`
	RunsAborted   int     `json:"runs_aborted"`
	RunsSuspended int     `json:"runs_suspended"`
	RunsRunning   int     `json:"runs_running"`
	AbortRate     float64 `json:"abort_rate"`
	DegradedRate  float64 `json:"degraded_rate"`
	AvgScore      float64 `json:"avg_completeness_score"`

	Confidence map[model.Confidence]int `json:"confidence"`

	// Suspended runs waiting longer than the stale threshold, regardless of
	// the lookback window.
	StaleReviews []string `json:"stale_reviews,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunSource is the store access the collector needs.
type RunSource interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
	ListCheckpoints(ctx context.Context, createdBefore time.Time) ([]model.Checkpoint, error)
}

// Collector gathers metrics from the run store.
type Collector struct {
	store      RunSource
	staleAfter time.Duration
	now        func() time.Time
}

// NewCollector creates a collector. Suspended runs older than staleAfter are
// reported as stale; zero disables the check.
func NewCollector(st RunSource, staleAfter time.Duration) *Collector {
	return &Collector{store: st, staleAfter: staleAfter, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		Confidence:    map[model.Confidence]int{},
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		CreatedAfter: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	var totalScore, scored int
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusDone:
			snap.RunsDone++
			if r.Degraded {
				snap.RunsDegraded++
			}
		case model.RunStatusAborted:
			snap.RunsAborted++
		case model.RunStatusSuspended:
			snap.RunsSuspended++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
		if r.Confidence != "" {
			snap.Confidence[r.Confidence]++
			totalScore += r.Score
			scored++
		}
	}

	if finished := snap.RunsDone + snap.RunsAborted; finished > 0 {
		snap.AbortRate = float64(snap.RunsAborted) / float64(finished)
	}
	if snap.RunsDone > 0 {
		snap.DegradedRate = float64(snap.RunsDegraded) / float64(snap.RunsDone)
	}
	if scored > 0 {
		snap.AvgScore = float64(totalScore) / float64(scored)
	}

	if c.staleAfter > 0 {
		cps, err := c.store.ListCheckpoints(ctx, now.Add(-c.staleAfter))
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list checkpoints")
		}
		for _, cp := range cps {
			if cp.Phase == model.PhaseHumanReview {
				snap.StaleReviews = append(snap.StaleReviews, cp.RunID)
			}
		}
	}

	return snap, nil
}
