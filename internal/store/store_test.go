package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/equity-research/internal/model"
)

func newTestSQLite(t *testing.T, opts ...Option) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func suspendedState(runID string) model.RunState {
	return model.RunState{
		RunID:  runID,
		Ticker: "AAPL",
		Phase:  model.PhaseHumanReview,
		Snapshot: model.Snapshot{
			"current_price": model.Number(100),
			"market_cap":    model.Number(3.2e12),
		},
		Conflicts: []model.Conflict{
			{Metric: "current_price", PrimaryValue: 100, ReferenceValue: 102.5, DiffPercent: 2.469},
		},
	}
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndGetRun", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, "AAPL")
		require.NoError(t, err)
		assert.NotEmpty(t, run.ID)
		assert.Equal(t, model.PhaseCollecting, run.Phase)
		assert.Equal(t, model.RunStatusRunning, run.Status)

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, run.ID, got.ID)
		assert.Equal(t, "AAPL", got.Ticker)
		assert.Equal(t, model.PhaseCollecting, got.Phase)
		assert.WithinDuration(t, run.CreatedAt, got.CreatedAt, time.Millisecond)
	})

	t.Run("GetRunNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetRun(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("UpdateRun", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, "MSFT")
		require.NoError(t, err)

		run.Phase = model.PhaseDone
		run.Status = model.RunStatusDone
		run.Degraded = true
		run.Score = 68
		run.Confidence = model.ConfidenceMedium
		require.NoError(t, s.UpdateRun(ctx, run))

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.PhaseDone, got.Phase)
		assert.Equal(t, model.RunStatusDone, got.Status)
		assert.True(t, got.Degraded)
		assert.Equal(t, 68, got.Score)
		assert.Equal(t, model.ConfidenceMedium, got.Confidence)
	})

	t.Run("UpdateRunNotFound", func(t *testing.T) {
		s := newStore(t)
		err := s.UpdateRun(context.Background(), &model.Run{ID: "nope", Phase: model.PhaseDone})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("RecordPhaseOrder", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, "AAPL")
		require.NoError(t, err)

		ok, err := model.NewPhaseResult("collecting", map[string]string{"raw_text": "x"})
		require.NoError(t, err)
		ok.Duration = 120
		require.NoError(t, s.RecordPhase(ctx, run.ID, ok))
		require.NoError(t, s.RecordPhase(ctx, run.ID, model.PhaseResult{Name: "analyzing", Status: model.PhaseStatusError, Error: "timeout"}))

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		require.Len(t, got.Phases, 2)
		assert.Equal(t, "collecting", got.Phases[0].Name)
		assert.Equal(t, int64(120), got.Phases[0].Duration)
		assert.JSONEq(t, `{"raw_text":"x"}`, string(got.Phases[0].Payload))
		assert.Equal(t, model.PhaseStatusError, got.Phases[1].Status)
		assert.Equal(t, "timeout", got.Phases[1].Error)
		assert.Empty(t, got.Phases[1].Payload)
	})

	t.Run("ListRunsFilter", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a, err := s.CreateRun(ctx, "AAPL")
		require.NoError(t, err)
		_, err = s.CreateRun(ctx, "MSFT")
		require.NoError(t, err)
		a.Status = model.RunStatusSuspended
		a.Phase = model.PhaseHumanReview
		require.NoError(t, s.UpdateRun(ctx, a))

		all, err := s.ListRuns(ctx, RunFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 2)

		byTicker, err := s.ListRuns(ctx, RunFilter{Ticker: "MSFT"})
		require.NoError(t, err)
		require.Len(t, byTicker, 1)
		assert.Equal(t, "MSFT", byTicker[0].Ticker)

		suspended, err := s.ListRuns(ctx, RunFilter{Status: model.RunStatusSuspended})
		require.NoError(t, err)
		require.Len(t, suspended, 1)
		assert.Equal(t, a.ID, suspended[0].ID)

		future, err := s.ListRuns(ctx, RunFilter{CreatedAfter: time.Now().Add(time.Hour)})
		require.NoError(t, err)
		assert.Empty(t, future)

		limited, err := s.ListRuns(ctx, RunFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("CheckpointSaveLoadOverwrite", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		cp := model.Checkpoint{RunID: "run-1", State: suspendedState("run-1"), Phase: model.PhaseHumanReview}
		require.NoError(t, s.SaveCheckpoint(ctx, cp))

		got, err := s.LoadCheckpoint(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, model.PhaseHumanReview, got.Phase)
		assert.Equal(t, "AAPL", got.State.Ticker)
		require.Len(t, got.State.Conflicts, 1)
		assert.Equal(t, "current_price", got.State.Conflicts[0].Metric)
		price, ok := got.State.Snapshot.Get("current_price").Float()
		require.True(t, ok)
		assert.InDelta(t, 100.0, price, 0.0001)

		cp.State.Snapshot.Set("current_price", model.Number(101))
		require.NoError(t, s.SaveCheckpoint(ctx, cp))

		got, err = s.LoadCheckpoint(ctx, "run-1")
		require.NoError(t, err)
		price, _ = got.State.Snapshot.Get("current_price").Float()
		assert.InDelta(t, 101.0, price, 0.0001)

		all, err := s.ListCheckpoints(ctx, time.Time{})
		require.NoError(t, err)
		assert.Len(t, all, 1, "overwrite keeps a single record per run")
	})

	t.Run("LoadCheckpointNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.LoadCheckpoint(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ResumeConsumesOnce", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SaveCheckpoint(ctx, model.Checkpoint{RunID: "run-2", State: suspendedState("run-2"), Phase: model.PhaseHumanReview}))

		cp, err := s.ResumeCheckpoint(ctx, "run-2")
		require.NoError(t, err)
		assert.Equal(t, "run-2", cp.RunID)

		_, err = s.ResumeCheckpoint(ctx, "run-2")
		assert.ErrorIs(t, err, ErrNotSuspended)
		_, err = s.LoadCheckpoint(ctx, "run-2")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ResumeConcurrent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SaveCheckpoint(ctx, model.Checkpoint{RunID: "run-3", State: suspendedState("run-3"), Phase: model.PhaseHumanReview}))

		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.ResumeCheckpoint(ctx, "run-3"); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("ListCheckpointsCreatedBefore", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		old := model.Checkpoint{RunID: "old", State: suspendedState("old"), Phase: model.PhaseHumanReview, CreatedAt: time.Now().Add(-2 * time.Hour)}
		fresh := model.Checkpoint{RunID: "fresh", State: suspendedState("fresh"), Phase: model.PhaseHumanReview}
		require.NoError(t, s.SaveCheckpoint(ctx, old))
		require.NoError(t, s.SaveCheckpoint(ctx, fresh))

		expired, err := s.ListCheckpoints(ctx, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		require.Len(t, expired, 1)
		assert.Equal(t, "old", expired[0].RunID)

		require.NoError(t, s.DeleteCheckpoint(ctx, "old"))
		expired, err = s.ListCheckpoints(ctx, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Empty(t, expired)
	})

	t.Run("ReportsLatestAndRetention", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for i, body := range []string{"r1", "r2", "r3", "r4"} {
			_, err := s.PersistReport(ctx, "run-"+body, "AAPL", body)
			require.NoError(t, err, "report %d", i)
			time.Sleep(2 * time.Millisecond)
		}
		_, err := s.PersistReport(ctx, "run-other", "MSFT", "m1")
		require.NoError(t, err)

		latest, err := s.LatestReport(ctx, "AAPL")
		require.NoError(t, err)
		assert.Equal(t, "r4", latest.Body)
		assert.Equal(t, "run-r4", latest.RunID)

		kept, err := s.ListReports(ctx, "AAPL", 10)
		require.NoError(t, err)
		require.Len(t, kept, 3)
		assert.Equal(t, []string{"r4", "r3", "r2"}, []string{kept[0].Body, kept[1].Body, kept[2].Body})

		other, err := s.ListReports(ctx, "MSFT", 10)
		require.NoError(t, err)
		assert.Len(t, other, 1)
	})

	t.Run("LatestReportAbsent", func(t *testing.T) {
		s := newStore(t)
		_, err := s.LatestReport(context.Background(), "NVDA")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, func(t *testing.T) Store { return newTestSQLite(t) })
}

func TestSQLiteStore_RetentionDisabled(t *testing.T) {
	s := newTestSQLite(t, WithReportRetention(0))
	ctx := context.Background()

	for _, body := range []string{"a", "b", "c", "d", "e"} {
		_, err := s.PersistReport(ctx, "run-"+body, "AAPL", body)
		require.NoError(t, err)
	}
	all, err := s.ListReports(ctx, "AAPL", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestSQLiteStore_DuplicateRunReport(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	_, err := s.PersistReport(ctx, "run-1", "AAPL", "first")
	require.NoError(t, err)
	_, err = s.PersistReport(ctx, "run-1", "AAPL", "second")
	assert.Error(t, err, "a run persists at most one report")

	latest, err := s.LatestReport(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "first", latest.Body)
}

func TestSQLiteStore_InMemory(t *testing.T) {
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Ping(context.Background()))

	run, err := s.CreateRun(context.Background(), "AAPL")
	require.NoError(t, err)
	_, err = s.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
}

func TestFormatTimeOrdering(t *testing.T) {
	a := time.Date(2026, 1, 2, 3, 4, 5, 500_000_000, time.UTC)
	b := time.Date(2026, 1, 2, 3, 4, 5, 123_000_000, time.UTC)
	assert.Greater(t, formatTime(a), formatTime(b))

	parsed, err := parseTime(formatTime(a))
	require.NoError(t, err)
	assert.True(t, a.Equal(parsed))
}
