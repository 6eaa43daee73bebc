package pipeline

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/equity-research/internal/executor"
	"github.com/sells-group/equity-research/internal/model"
	"github.com/sells-group/equity-research/internal/store"
)

// --- Collector Mock ---

type mockCollector struct {
	mock.Mock
}

func (m *mockCollector) Collect(ctx context.Context, ticker string) (model.CollectionPayload, error) {
	args := m.Called(ctx, ticker)
	return args.Get(0).(model.CollectionPayload), args.Error(1)
}

// --- Reference Mock ---

type mockReference struct {
	mock.Mock
}

func (m *mockReference) Fetch(ctx context.Context, ticker string) (*executor.Reference, error) {
	args := m.Called(ctx, ticker)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*executor.Reference), args.Error(1)
}

// --- Analyzer Mock ---

type mockAnalyzer struct {
	mock.Mock
}

func (m *mockAnalyzer) Analyze(ctx context.Context, ticker string, snap model.Snapshot, rawText string) (model.AnalysisPayload, error) {
	args := m.Called(ctx, ticker, snap, rawText)
	return args.Get(0).(model.AnalysisPayload), args.Error(1)
}

// --- Synthesizer Mock ---

type mockSynthesizer struct {
	mock.Mock
}

func (m *mockSynthesizer) Compose(ctx context.Context, in executor.SynthesisInput) (string, error) {
	args := m.Called(ctx, in)
	return args.String(0), args.Error(1)
}

// --- Recording Store ---

// recordingStore wraps a real store and records the order of the calls
// that matter for suspension.
type recordingStore struct {
	store.Store
	mu        sync.Mutex
	calls     []string
	getRunErr error
}

func (r *recordingStore) failGetRun(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getRunErr = err
}

func (r *recordingStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r.mu.Lock()
	err := r.getRunErr
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return r.Store.GetRun(ctx, runID)
}

func (r *recordingStore) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recordingStore) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recordingStore) UpdateRun(ctx context.Context, run *model.Run) error {
	r.record("update:" + string(run.Status))
	return r.Store.UpdateRun(ctx, run)
}

func (r *recordingStore) SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	r.record("checkpoint:" + string(cp.Phase))
	return r.Store.SaveCheckpoint(ctx, cp)
}

func (r *recordingStore) RecordPhase(ctx context.Context, runID string, result model.PhaseResult) error {
	r.record("phase:" + result.Name)
	return r.Store.RecordPhase(ctx, runID, result)
}
