// Package pipeline drives a research run through its phases: collection,
// validation, optional human review, analysis and synthesis. Runs that find
// conflicting data suspend with a durable checkpoint and are resumed later,
// possibly in another process.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/equity-research/internal/executor"
	"github.com/sells-group/equity-research/internal/metrics"
	"github.com/sells-group/equity-research/internal/model"
	"github.com/sells-group/equity-research/internal/reconcile"
	"github.com/sells-group/equity-research/internal/store"
	"github.com/sells-group/equity-research/pkg/notion"
)

// Run outcomes reported to metrics.
const (
	OutcomeDone      = "done"
	OutcomeDegraded  = "degraded"
	OutcomeAborted   = "aborted"
	OutcomeSuspended = "suspended"
)

// Deps are the collaborators of a Pipeline. Reference, Notion and Metrics
// are optional.
type Deps struct {
	Store       store.Store
	Collector   executor.Collector
	Reference   executor.ReferenceProvider
	Analyzer    executor.Analyzer
	Synthesizer executor.Synthesizer
	Engine      *reconcile.Engine
	Notion      notion.Client
	NotionDB    string
	Metrics     *metrics.Metrics
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithReviewTimeout sets how long a suspended run waits before
// ResumeExpired resumes it unedited. Zero waits indefinitely.
func WithReviewTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		p.reviewTimeout = d
	}
}

// WithPhaseTimeout bounds each phase executor call. Zero disables the bound.
func WithPhaseTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		p.phaseTimeout = d
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// Pipeline orchestrates research runs.
type Pipeline struct {
	deps          Deps
	reviewTimeout time.Duration
	phaseTimeout  time.Duration
	now           func() time.Time
}

// New creates a Pipeline. A nil Engine uses the default catalog.
func New(deps Deps, opts ...Option) *Pipeline {
	if deps.Engine == nil {
		deps.Engine = reconcile.NewEngine(nil)
	}
	p := &Pipeline{deps: deps, now: time.Now}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start creates a run for ticker and drives it until it finishes or
// suspends for review. The returned state's Phase tells which: done,
// aborted or human_review. A missing ticker fails before any phase runs.
func (p *Pipeline) Start(ctx context.Context, ticker string) (*model.RunState, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return nil, model.ErrMissingTicker
	}

	run, err := p.deps.Store.CreateRun(ctx, ticker)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}

	st := &model.RunState{
		RunID:     run.ID,
		Ticker:    ticker,
		Phase:     model.PhaseCollecting,
		Conflicts: []model.Conflict{},
	}
	zap.L().Info("pipeline: run started", zap.String("run_id", run.ID), zap.String("ticker", ticker))

	return st, p.drive(ctx, run, st)
}

// Resume continues a suspended run. A non-nil edited state replaces the
// checkpointed state; its run id, ticker and phase are always taken from
// the checkpoint. The checkpoint is consumed, so a run resumes at most once
// per suspension.
func (p *Pipeline) Resume(ctx context.Context, runID string, edited *model.RunState) (*model.RunState, error) {
	cp, err := p.deps.Store.ResumeCheckpoint(ctx, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: resume %s", runID)
	}

	// The checkpoint is already consumed; put it back when the run cannot
	// continue so the suspension is not lost.
	restore := func(cause error) error {
		if err := p.deps.Store.SaveCheckpoint(context.WithoutCancel(ctx), *cp); err != nil {
			zap.L().Error("pipeline: restore checkpoint failed", zap.String("run_id", runID), zap.Error(err))
		}
		return cause
	}

	st := cp.State
	if edited != nil {
		st = *edited
		st.RunID = cp.State.RunID
		st.Ticker = cp.State.Ticker
		st.Snapshot = st.Snapshot.Normalize()
		if st.Conflicts == nil {
			st.Conflicts = []model.Conflict{}
		}
	}
	st.Phase = cp.Phase
	if st.Ticker == "" {
		return nil, restore(model.ErrMissingTicker)
	}

	run, err := p.deps.Store.GetRun(ctx, runID)
	if err != nil {
		return nil, restore(eris.Wrapf(err, "pipeline: load run %s", runID))
	}

	if st.Phase == model.PhaseHumanReview {
		next, err := Transition(&st)
		if err != nil {
			return nil, restore(err)
		}
		st.Phase = next
	}
	zap.L().Info("pipeline: run resumed",
		zap.String("run_id", runID),
		zap.String("ticker", st.Ticker),
		zap.String("phase", string(st.Phase)),
		zap.Bool("edited", edited != nil),
	)

	return &st, p.drive(ctx, run, &st)
}

// ResumeExpired resumes, unedited, every run that has waited for review
// longer than the review timeout. It returns the number of runs resumed.
func (p *Pipeline) ResumeExpired(ctx context.Context) (int, error) {
	if p.reviewTimeout <= 0 {
		return 0, nil
	}

	cps, err := p.deps.Store.ListCheckpoints(ctx, p.now().Add(-p.reviewTimeout))
	if err != nil {
		return 0, eris.Wrap(err, "pipeline: list expired checkpoints")
	}

	resumed := 0
	for _, cp := range cps {
		if cp.Phase != model.PhaseHumanReview {
			continue
		}
		if ctx.Err() != nil {
			return resumed, eris.Wrap(ctx.Err(), "pipeline: resume expired")
		}
		if _, err := p.Resume(ctx, cp.RunID, nil); err != nil {
			if errors.Is(err, store.ErrNotSuspended) {
				continue
			}
			zap.L().Error("pipeline: resume expired run failed", zap.String("run_id", cp.RunID), zap.Error(err))
			continue
		}
		resumed++
	}

	if remaining, err := p.deps.Store.ListCheckpoints(ctx, time.Time{}); err == nil {
		p.deps.Metrics.SetSuspended(len(remaining))
	}
	return resumed, nil
}

// drive runs phases until the run finishes or suspends.
func (p *Pipeline) drive(ctx context.Context, run *model.Run, st *model.RunState) error {
	log := zap.L().With(zap.String("run_id", st.RunID), zap.String("ticker", st.Ticker))

	for !st.Phase.IsTerminal() {
		if st.Phase == model.PhaseHumanReview {
			return p.suspend(ctx, log, run, st)
		}
		if err := ctx.Err(); err != nil {
			return p.interrupt(ctx, log, run, st, err)
		}

		prev := *st
		p.execute(ctx, log, st)
		if err := ctx.Err(); err != nil {
			// The phase ran against a canceled context: drop its result so
			// the checkpoint keeps this phase and resume runs it again.
			*st = prev
			return p.interrupt(ctx, log, run, st, err)
		}

		next, err := Transition(st)
		if err != nil {
			return err
		}
		st.Phase = next
		if next != model.PhaseHumanReview {
			p.sync(ctx, log, run, st)
		}
	}

	return p.finish(ctx, log, run, st)
}

// execute runs the executor of the current phase and records its result on
// st. Executor failures never escape; they become error results.
func (p *Pipeline) execute(ctx context.Context, log *zap.Logger, st *model.RunState) {
	switch st.Phase {
	case model.PhaseCollecting:
		p.collect(ctx, log, st)
	case model.PhaseValidating:
		p.validate(ctx, log, st)
	case model.PhaseAnalyzing:
		p.analyze(ctx, log, st)
	case model.PhaseSynthesizing:
		p.synthesize(ctx, log, st)
	}
}

// suspend persists the checkpoint before marking the run suspended, so a
// suspended run always has a checkpoint to resume from.
func (p *Pipeline) suspend(ctx context.Context, log *zap.Logger, run *model.Run, st *model.RunState) error {
	ctx = context.WithoutCancel(ctx)
	cp := model.Checkpoint{
		RunID:     st.RunID,
		State:     *st,
		Phase:     st.Phase,
		CreatedAt: p.now().UTC(),
	}
	if err := p.deps.Store.SaveCheckpoint(ctx, cp); err != nil {
		return eris.Wrapf(err, "pipeline: checkpoint run %s", st.RunID)
	}

	p.sync(ctx, log, run, st)
	p.deps.Metrics.RunFinished(OutcomeSuspended)
	log.Info("pipeline: run suspended for review", zap.Int("conflicts", len(st.Conflicts)))
	return nil
}

// interrupt checkpoints a canceled run at its current phase so it can be
// resumed from there.
func (p *Pipeline) interrupt(ctx context.Context, log *zap.Logger, run *model.Run, st *model.RunState, cause error) error {
	saveCtx := context.WithoutCancel(ctx)
	cp := model.Checkpoint{
		RunID:     st.RunID,
		State:     *st,
		Phase:     st.Phase,
		CreatedAt: p.now().UTC(),
	}
	if err := p.deps.Store.SaveCheckpoint(saveCtx, cp); err != nil {
		log.Error("pipeline: checkpoint interrupted run failed", zap.Error(err))
	}
	// A checkpoint holds the run, so it is suspended rather than running.
	p.write(saveCtx, log, run, st, model.RunStatusSuspended)
	log.Warn("pipeline: run interrupted", zap.String("phase", string(st.Phase)), zap.Error(cause))
	return eris.Wrapf(cause, "pipeline: run %s interrupted at %s", st.RunID, st.Phase)
}

// finish records a terminal run: the report is persisted and published, and
// any checkpoint is removed.
func (p *Pipeline) finish(ctx context.Context, log *zap.Logger, run *model.Run, st *model.RunState) error {
	storeCtx := context.WithoutCancel(ctx)
	if err := p.deps.Store.DeleteCheckpoint(storeCtx, st.RunID); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Warn("pipeline: delete checkpoint failed", zap.Error(err))
	}

	if st.Phase == model.PhaseAborted {
		p.deps.Metrics.RunFinished(OutcomeAborted)
		log.Warn("pipeline: run aborted", zap.String("reason", st.AbortReason))
		return nil
	}

	outcome := OutcomeDone
	if st.Degraded {
		outcome = OutcomeDegraded
	}
	p.deps.Metrics.RunFinished(outcome)

	if st.FinalReport == nil {
		return nil
	}
	if _, err := p.deps.Store.PersistReport(storeCtx, st.RunID, st.Ticker, *st.FinalReport); err != nil {
		return eris.Wrapf(err, "pipeline: persist report for run %s", st.RunID)
	}
	p.publish(ctx, log, run, st)

	log.Info("pipeline: run complete", zap.Bool("degraded", st.Degraded))
	return nil
}

// sync writes the run record from st. Failures are logged; the run record
// trails the state, never the other way around.
func (p *Pipeline) sync(ctx context.Context, log *zap.Logger, run *model.Run, st *model.RunState) {
	p.write(ctx, log, run, st, model.StatusFor(st.Phase))
}

func (p *Pipeline) write(ctx context.Context, log *zap.Logger, run *model.Run, st *model.RunState, status model.RunStatus) {
	run.Phase = st.Phase
	run.Status = status
	run.Degraded = st.Degraded
	run.AbortReason = st.AbortReason
	var vp model.ValidationPayload
	if st.Validation.OK() && st.Validation.Decode(&vp) == nil {
		run.Score = vp.Report.CompletenessScore
		run.Confidence = vp.Report.ConfidenceLevel
	}
	if err := p.deps.Store.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		log.Warn("pipeline: update run failed", zap.Error(err))
	}
}

func (p *Pipeline) publish(ctx context.Context, log *zap.Logger, run *model.Run, st *model.RunState) {
	if p.deps.Notion == nil || p.deps.NotionDB == "" {
		return
	}
	page, err := notion.PublishReport(ctx, p.deps.Notion, p.deps.NotionDB, notion.ReportPage{
		RunID:       st.RunID,
		Ticker:      st.Ticker,
		Confidence:  string(run.Confidence),
		Score:       run.Score,
		Degraded:    st.Degraded,
		Body:        *st.FinalReport,
		PublishedAt: p.now().UTC(),
	})
	if err != nil {
		log.Error("pipeline: publish report failed", zap.Error(err))
		return
	}
	log.Info("pipeline: report published", zap.String("page_id", string(page.ID)))
}
