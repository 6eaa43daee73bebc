package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/equity-research/internal/executor"
	"github.com/sells-group/equity-research/internal/model"
	"github.com/sells-group/equity-research/internal/store"
)

type fixture struct {
	pipe  *Pipeline
	store *recordingStore
	coll  *mockCollector
	ref   *mockReference
	an    *mockAnalyzer
	syn   *mockSynthesizer
	now   time.Time
}

func newFixture(t *testing.T, withReference bool, opts ...Option) *fixture {
	t.Helper()

	sqlite, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	require.NoError(t, sqlite.Migrate(context.Background()))

	f := &fixture{
		store: &recordingStore{Store: sqlite},
		coll:  new(mockCollector),
		ref:   new(mockReference),
		an:    new(mockAnalyzer),
		syn:   new(mockSynthesizer),
		now:   time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC),
	}
	deps := Deps{
		Store:       f.store,
		Collector:   f.coll,
		Analyzer:    f.an,
		Synthesizer: f.syn,
	}
	if withReference {
		deps.Reference = f.ref
	}
	opts = append([]Option{WithClock(func() time.Time { return f.now })}, opts...)
	f.pipe = New(deps, opts...)
	return f
}

func primarySnapshot(price float64) model.Snapshot {
	return model.Snapshot{
		"current_price":    model.Number(price),
		"market_cap":       model.Number(2_950_000_000_000),
		"trailing_pe":      model.Number(30),
		"revenue_growth":   model.Number(0.06),
		"profit_margins":   model.Number(0.24),
		"debt_to_equity":   model.Number(1.4),
		"free_cash_flow":   model.Number(99_000_000_000),
		"return_on_equity": model.Number(1.47),
		"technicals": model.Group(model.Snapshot{
			"sma_50": model.Number(95),
		}),
	}
}

func collection(price float64) model.CollectionPayload {
	return model.CollectionPayload{
		CompanyName: "Apple Inc.",
		RawText:     "Company: Apple Inc. (AAPL)",
		Snapshot:    primarySnapshot(price),
		News:        []model.NewsItem{{Title: "Apple beats estimates"}},
	}
}

func referenceAt(price string) *executor.Reference {
	return &executor.Reference{
		Status: "success",
		Snapshot: model.Snapshot{
			"quote": model.Group(model.Snapshot{"05. price": model.String(price)}),
			"overview": model.Group(model.Snapshot{
				"MarketCapitalization": model.String("2950000000000"),
				"PERatio":              model.String("32"),
				"ForwardPE":            model.String("27.1"),
			}),
		},
	}
}

func priceIs(want float64) any {
	return mock.MatchedBy(func(s model.Snapshot) bool {
		got, ok := s.Get("current_price").Float()
		return ok && got == want
	})
}

func TestStart_MissingTicker(t *testing.T) {
	f := newFixture(t, false)

	st, err := f.pipe.Start(context.Background(), "  ")
	require.ErrorIs(t, err, model.ErrMissingTicker)
	assert.Nil(t, st)
	assert.Empty(t, f.store.Calls())

	runs, err := f.store.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestStart_CompletesWithoutConflicts(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.coll.On("Collect", mock.Anything, "AAPL").Return(collection(100), nil).Once()
	f.ref.On("Fetch", mock.Anything, "AAPL").Return(referenceAt("100.40"), nil).Once()
	f.an.On("Analyze", mock.Anything, "AAPL", priceIs(100), "Company: Apple Inc. (AAPL)").
		Return(model.AnalysisPayload{Analysis: "Solid quarter.", Signal: "bullish"}, nil).Once()
	f.syn.On("Compose", mock.Anything, mock.MatchedBy(func(in executor.SynthesisInput) bool {
		return in.Ticker == "AAPL" &&
			in.CompanyName == "Apple Inc." &&
			in.Analysis == "Solid quarter." &&
			in.Date.Equal(f.now) &&
			len(in.ValidationReport) > 0 &&
			len(in.DataSummary) > 0
	})).Return("# AAPL - Analysis Report\n\nBuy.", nil).Once()

	st, err := f.pipe.Start(ctx, "aapl")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseDone, st.Phase)
	assert.Equal(t, "AAPL", st.Ticker)
	assert.False(t, st.Degraded)
	assert.Empty(t, st.Conflicts)
	require.NotNil(t, st.FinalReport)
	assert.Equal(t, "# AAPL - Analysis Report\n\nBuy.", *st.FinalReport)

	var vp model.ValidationPayload
	require.NoError(t, st.Validation.Decode(&vp))
	assert.Contains(t, vp.Filled, "forward_pe")
	assert.Contains(t, vp.Verification, "Cross-Source Verification")
	assert.True(t, st.Snapshot.Has("forward_pe"))

	run, err := f.store.GetRun(ctx, st.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusDone, run.Status)
	assert.Equal(t, model.PhaseDone, run.Phase)
	assert.Equal(t, vp.Report.CompletenessScore, run.Score)
	assert.Len(t, run.Phases, 4)

	report, err := f.store.LatestReport(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, st.RunID, report.RunID)

	_, err = f.store.LoadCheckpoint(ctx, st.RunID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	mock.AssertExpectationsForObjects(t, f.coll, f.ref, f.an, f.syn)
}

func TestStart_CollectionFailureAborts(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.coll.On("Collect", mock.Anything, "ZZZZ").
		Return(model.CollectionPayload{}, errors.New("yahoo: no quote for ZZZZ")).Once()

	st, err := f.pipe.Start(ctx, "ZZZZ")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseAborted, st.Phase)
	assert.Contains(t, st.AbortReason, "yahoo: no quote for ZZZZ")
	require.NotNil(t, st.Collection)
	assert.Equal(t, model.PhaseStatusError, st.Collection.Status)
	assert.Nil(t, st.Validation)
	assert.Nil(t, st.Analysis)
	assert.Nil(t, st.Synthesis)
	assert.Nil(t, st.FinalReport)

	f.ref.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
	f.an.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.syn.AssertNotCalled(t, "Compose", mock.Anything, mock.Anything)

	run, err := f.store.GetRun(ctx, st.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusAborted, run.Status)
	assert.Equal(t, st.AbortReason, run.AbortReason)
	assert.Len(t, run.Phases, 1)

	_, err = f.store.LatestReport(ctx, "ZZZZ")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStart_ConflictSuspendsWithCheckpoint(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.coll.On("Collect", mock.Anything, "AAPL").Return(collection(100), nil).Once()
	f.ref.On("Fetch", mock.Anything, "AAPL").Return(referenceAt("102.5"), nil).Once()

	st, err := f.pipe.Start(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseHumanReview, st.Phase)
	require.Len(t, st.Conflicts, 1)
	assert.Equal(t, "current_price", st.Conflicts[0].Metric)
	assert.InDelta(t, 2.469, st.Conflicts[0].DiffPercent, 0.001)
	assert.Nil(t, st.FinalReport)

	calls := f.store.Calls()
	cpAt := indexOf(calls, "checkpoint:human_review")
	suspendedAt := indexOf(calls, "update:suspended")
	require.GreaterOrEqual(t, cpAt, 0)
	require.GreaterOrEqual(t, suspendedAt, 0)
	assert.Less(t, cpAt, suspendedAt)

	cp, err := f.store.LoadCheckpoint(ctx, st.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseHumanReview, cp.Phase)
	assert.Equal(t, st.RunID, cp.State.RunID)
	assert.Len(t, cp.State.Conflicts, 1)

	run, err := f.store.GetRun(ctx, st.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSuspended, run.Status)

	f.an.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestResume_ProceedsToAnalyzingWithEditedState(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.coll.On("Collect", mock.Anything, "AAPL").Return(collection(100), nil).Once()
	f.ref.On("Fetch", mock.Anything, "AAPL").Return(referenceAt("102.5"), nil).Once()

	suspended, err := f.pipe.Start(ctx, "AAPL")
	require.NoError(t, err)
	require.Equal(t, model.PhaseHumanReview, suspended.Phase)

	edited := *suspended
	edited.Snapshot = suspended.Snapshot.Clone()
	edited.Snapshot.Set("current_price", model.Number(102.5))
	edited.Ticker = "MSFT"
	edited.Phase = model.PhaseCollecting

	f.an.On("Analyze", mock.Anything, "AAPL", priceIs(102.5), mock.Anything).
		Return(model.AnalysisPayload{Analysis: "Reviewed."}, nil).Once()
	f.syn.On("Compose", mock.Anything, mock.Anything).Return("# AAPL - Analysis Report", nil).Once()

	st, err := f.pipe.Resume(ctx, suspended.RunID, &edited)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseDone, st.Phase)
	assert.Equal(t, "AAPL", st.Ticker)

	// Collection and validation are not repeated.
	f.coll.AssertNumberOfCalls(t, "Collect", 1)
	f.ref.AssertNumberOfCalls(t, "Fetch", 1)
	f.an.AssertExpectations(t)

	_, err = f.pipe.Resume(ctx, suspended.RunID, nil)
	assert.ErrorIs(t, err, store.ErrNotSuspended)

	run, err := f.store.GetRun(ctx, st.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusDone, run.Status)
}

func TestResume_UnknownRun(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.pipe.Resume(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, store.ErrNotSuspended)
}

func TestStart_AnalyzerFailureDegrades(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	f.coll.On("Collect", mock.Anything, "AAPL").Return(collection(100), nil).Once()
	f.an.On("Analyze", mock.Anything, "AAPL", mock.Anything, mock.Anything).
		Return(model.AnalysisPayload{}, errors.New("anthropic: overloaded")).Once()
	f.syn.On("Compose", mock.Anything, mock.MatchedBy(func(in executor.SynthesisInput) bool {
		return in.Analysis == "Analysis failed: anthropic: overloaded"
	})).Return("# AAPL - Analysis Report\n\nPartial.", nil).Once()

	st, err := f.pipe.Start(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseDone, st.Phase)
	assert.True(t, st.Degraded)

	require.NotNil(t, st.Analysis)
	assert.Equal(t, model.PhaseStatusError, st.Analysis.Status)
	var ap model.AnalysisPayload
	require.NoError(t, st.Analysis.Decode(&ap))
	assert.True(t, ap.Degraded)
	assert.Equal(t, "Analysis failed: anthropic: overloaded", ap.Analysis)

	run, err := f.store.GetRun(ctx, st.RunID)
	require.NoError(t, err)
	assert.True(t, run.Degraded)
	f.syn.AssertExpectations(t)
}

func TestStart_SynthesizerFailureFallsBack(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	f.coll.On("Collect", mock.Anything, "AAPL").Return(collection(100), nil).Once()
	f.an.On("Analyze", mock.Anything, "AAPL", mock.Anything, mock.Anything).
		Return(model.AnalysisPayload{Analysis: "ok"}, nil).Once()
	f.syn.On("Compose", mock.Anything, mock.Anything).Return("", errors.New("executor: unparseable payload")).Once()

	st, err := f.pipe.Start(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseDone, st.Phase)
	assert.True(t, st.Degraded)
	require.NotNil(t, st.FinalReport)
	assert.Equal(t, FallbackReport("AAPL", errors.New("executor: unparseable payload")), *st.FinalReport)

	report, err := f.store.LatestReport(ctx, "AAPL")
	require.NoError(t, err)
	assert.Contains(t, report.Body, "**Error:** executor: unparseable payload")
}

func TestStart_PanicIsIsolated(t *testing.T) {
	f := newFixture(t, false)

	f.coll.On("Collect", mock.Anything, "AAPL").Return(collection(100), nil).Once()
	f.an.On("Analyze", mock.Anything, "AAPL", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { panic("nil map") }).
		Return(model.AnalysisPayload{}, nil).Once()
	f.syn.On("Compose", mock.Anything, mock.Anything).Return("# AAPL - Analysis Report", nil).Once()

	st, err := f.pipe.Start(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseDone, st.Phase)
	assert.True(t, st.Degraded)
	assert.Contains(t, st.Analysis.Error, "phase panicked: nil map")
}

func TestStart_WithoutReferenceScoresOnly(t *testing.T) {
	f := newFixture(t, false)

	f.coll.On("Collect", mock.Anything, "AAPL").Return(collection(100), nil).Once()
	f.an.On("Analyze", mock.Anything, "AAPL", mock.Anything, mock.Anything).
		Return(model.AnalysisPayload{Analysis: "ok"}, nil).Once()
	f.syn.On("Compose", mock.Anything, mock.Anything).Return("# AAPL - Analysis Report", nil).Once()

	st, err := f.pipe.Start(context.Background(), "AAPL")
	require.NoError(t, err)

	var vp model.ValidationPayload
	require.NoError(t, st.Validation.Decode(&vp))
	assert.Empty(t, vp.Verification)
	assert.Empty(t, vp.Filled)
	assert.Equal(t, 8, vp.Report.AvailableCritical)
}

func TestStart_ReferenceFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, true)

	f.coll.On("Collect", mock.Anything, "AAPL").Return(collection(100), nil).Once()
	f.ref.On("Fetch", mock.Anything, "AAPL").Return(nil, errors.New("alphavantage: circuit open")).Once()
	f.an.On("Analyze", mock.Anything, "AAPL", mock.Anything, mock.Anything).
		Return(model.AnalysisPayload{Analysis: "ok"}, nil).Once()
	f.syn.On("Compose", mock.Anything, mock.Anything).Return("# AAPL - Analysis Report", nil).Once()

	st, err := f.pipe.Start(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseDone, st.Phase)
	assert.Empty(t, st.Conflicts)

	var vp model.ValidationPayload
	require.NoError(t, st.Validation.Decode(&vp))
	assert.Equal(t, []string{"alphavantage: circuit open"}, vp.ReferenceError)
}

func TestStart_CancelDuringCollectingCheckpointsAndResumes(t *testing.T) {
	f := newFixture(t, false)
	ctx, cancel := context.WithCancel(context.Background())

	f.coll.On("Collect", mock.Anything, "AAPL").
		Run(func(mock.Arguments) { cancel() }).
		Return(model.CollectionPayload{}, context.Canceled).Once()

	st, err := f.pipe.Start(ctx, "AAPL")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, model.PhaseCollecting, st.Phase)
	assert.Empty(t, st.AbortReason)

	bg := context.Background()
	cp, err := f.store.LoadCheckpoint(bg, st.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseCollecting, cp.Phase)
	assert.False(t, cp.State.Collection.OK())

	run, err := f.store.GetRun(bg, st.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSuspended, run.Status)
	assert.Equal(t, model.PhaseCollecting, run.Phase)

	f.coll.On("Collect", mock.Anything, "AAPL").Return(collection(100), nil).Once()
	f.an.On("Analyze", mock.Anything, "AAPL", mock.Anything, mock.Anything).
		Return(model.AnalysisPayload{Analysis: "ok"}, nil).Once()
	f.syn.On("Compose", mock.Anything, mock.Anything).Return("# AAPL - Analysis Report", nil).Once()

	resumed, err := f.pipe.Resume(bg, st.RunID, nil)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseDone, resumed.Phase)
	f.coll.AssertNumberOfCalls(t, "Collect", 2)

	run, err = f.store.GetRun(bg, st.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusDone, run.Status)
}

func TestStart_CancelAfterSuccessfulPhaseRerunsIt(t *testing.T) {
	f := newFixture(t, false)
	ctx, cancel := context.WithCancel(context.Background())

	f.coll.On("Collect", mock.Anything, "AAPL").
		Run(func(mock.Arguments) { cancel() }).
		Return(collection(100), nil).Once()

	st, err := f.pipe.Start(ctx, "AAPL")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, model.PhaseCollecting, st.Phase)

	cp, err := f.store.LoadCheckpoint(context.Background(), st.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseCollecting, cp.Phase)
	assert.False(t, cp.State.Collection.OK())
}

func TestStart_CancelDuringSynthesizingCheckpointsAndResumes(t *testing.T) {
	f := newFixture(t, false)
	ctx, cancel := context.WithCancel(context.Background())

	f.coll.On("Collect", mock.Anything, "AAPL").Return(collection(100), nil).Once()
	f.an.On("Analyze", mock.Anything, "AAPL", mock.Anything, mock.Anything).
		Return(model.AnalysisPayload{Analysis: "ok"}, nil).Once()
	f.syn.On("Compose", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return("", context.Canceled).Once()

	st, err := f.pipe.Start(ctx, "AAPL")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, model.PhaseSynthesizing, st.Phase)
	assert.Nil(t, st.FinalReport)
	assert.False(t, st.Degraded)

	bg := context.Background()
	cp, err := f.store.LoadCheckpoint(bg, st.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseSynthesizing, cp.Phase)
	assert.True(t, cp.State.Analysis.OK())

	run, err := f.store.GetRun(bg, st.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSuspended, run.Status)
	assert.Equal(t, model.PhaseSynthesizing, run.Phase)

	_, err = f.store.LatestReport(bg, "AAPL")
	assert.ErrorIs(t, err, store.ErrNotFound)

	f.syn.On("Compose", mock.Anything, mock.Anything).Return("# AAPL - Analysis Report", nil).Once()

	resumed, err := f.pipe.Resume(bg, st.RunID, nil)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseDone, resumed.Phase)
	f.an.AssertNumberOfCalls(t, "Analyze", 1)
	f.syn.AssertNumberOfCalls(t, "Compose", 2)

	report, err := f.store.LatestReport(bg, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "# AAPL - Analysis Report", report.Body)
}

func TestResume_RunLoadFailureKeepsCheckpoint(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.coll.On("Collect", mock.Anything, "AAPL").Return(collection(100), nil).Once()
	f.ref.On("Fetch", mock.Anything, "AAPL").Return(referenceAt("102.5"), nil).Once()

	suspended, err := f.pipe.Start(ctx, "AAPL")
	require.NoError(t, err)
	require.Equal(t, model.PhaseHumanReview, suspended.Phase)

	f.store.failGetRun(errors.New("connection reset"))
	_, err = f.pipe.Resume(ctx, suspended.RunID, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	cp, err := f.store.LoadCheckpoint(ctx, suspended.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseHumanReview, cp.Phase)
	assert.Len(t, cp.State.Conflicts, 1)

	f.store.failGetRun(nil)
	f.an.On("Analyze", mock.Anything, "AAPL", mock.Anything, mock.Anything).
		Return(model.AnalysisPayload{Analysis: "ok"}, nil).Once()
	f.syn.On("Compose", mock.Anything, mock.Anything).Return("# AAPL - Analysis Report", nil).Once()

	resumed, err := f.pipe.Resume(ctx, suspended.RunID, nil)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseDone, resumed.Phase)
}

func TestResumeExpired(t *testing.T) {
	f := newFixture(t, true, WithReviewTimeout(time.Hour))
	ctx := context.Background()

	f.coll.On("Collect", mock.Anything, "AAPL").Return(collection(100), nil).Once()
	f.ref.On("Fetch", mock.Anything, "AAPL").Return(referenceAt("102.5"), nil).Once()

	suspended, err := f.pipe.Start(ctx, "AAPL")
	require.NoError(t, err)
	require.Equal(t, model.PhaseHumanReview, suspended.Phase)

	n, err := f.pipe.ResumeExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.an.On("Analyze", mock.Anything, "AAPL", priceIs(100), mock.Anything).
		Return(model.AnalysisPayload{Analysis: "ok"}, nil).Once()
	f.syn.On("Compose", mock.Anything, mock.Anything).Return("# AAPL - Analysis Report", nil).Once()

	f.now = f.now.Add(2 * time.Hour)
	n, err = f.pipe.ResumeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	run, err := f.store.GetRun(ctx, suspended.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusDone, run.Status)
}

func TestResumeExpired_DisabledByDefault(t *testing.T) {
	f := newFixture(t, false)

	n, err := f.pipe.ResumeExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.store.Calls())
}

func indexOf(calls []string, want string) int {
	for i, c := range calls {
		if c == want {
			return i
		}
	}
	return -1
}

func TestAnalyze_UnreadableCollectionIsLogged(t *testing.T) {
	f := newFixture(t, false)
	core, logs := observer.New(zap.WarnLevel)

	f.an.On("Analyze", mock.Anything, "AAPL", mock.Anything, "").
		Return(model.AnalysisPayload{Analysis: "ok"}, nil).Once()

	st := &model.RunState{
		RunID:  "run-1",
		Ticker: "AAPL",
		Phase:  model.PhaseAnalyzing,
		Collection: &model.PhaseResult{
			Name:    "collecting",
			Status:  model.PhaseStatusOK,
			Payload: []byte(`{"raw_text": 42}`),
		},
	}
	f.pipe.analyze(context.Background(), zap.New(core), st)

	assert.True(t, st.Analysis.OK())
	entries := logs.FilterMessage("pipeline: decode prior phase payload failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "collecting", entries[0].ContextMap()["phase"])
	f.an.AssertExpectations(t)
}
