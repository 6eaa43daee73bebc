package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/equity-research/internal/executor"
	"github.com/sells-group/equity-research/internal/model"
)

// synthesisPayload is the recorded synthesis result.
type synthesisPayload struct {
	Report   string `json:"report"`
	Fallback bool   `json:"fallback,omitempty"`
}

// trackPhase runs fn under the phase timeout and turns its outcome into a
// PhaseResult. Errors and panics are captured, timed, logged, counted and
// recorded on the run; they never propagate.
func (p *Pipeline) trackPhase(ctx context.Context, log *zap.Logger, st *model.RunState, fn func(ctx context.Context) (any, error)) model.PhaseResult {
	name := string(st.Phase)
	if p.phaseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.phaseTimeout)
		defer cancel()
	}

	start := time.Now()
	payload, fnErr := safeCall(ctx, fn)
	duration := time.Since(start)

	var result model.PhaseResult
	if fnErr == nil {
		var encErr error
		result, encErr = model.NewPhaseResult(name, payload)
		if encErr != nil {
			fnErr = encErr
		}
	}
	if fnErr != nil {
		result = model.FailedPhase(name, fnErr)
		if payload != nil {
			if r, err := model.NewPhaseResult(name, payload); err == nil {
				result.Payload = r.Payload
			}
		}
		log.Error("pipeline: phase failed",
			zap.String("phase", name),
			zap.Int64("duration_ms", duration.Milliseconds()),
			zap.Error(fnErr),
		)
	} else {
		log.Info("pipeline: phase complete",
			zap.String("phase", name),
			zap.Int64("duration_ms", duration.Milliseconds()),
		)
	}
	result.Duration = duration.Milliseconds()

	p.deps.Metrics.ObservePhase(name, string(result.Status), duration)
	if err := p.deps.Store.RecordPhase(context.WithoutCancel(ctx), st.RunID, result); err != nil {
		log.Warn("pipeline: record phase failed", zap.String("phase", name), zap.Error(err))
	}
	return result
}

// safeCall converts a panic in fn into an error.
func safeCall(ctx context.Context, fn func(ctx context.Context) (any, error)) (payload any, err error) {
	defer func() {
		if r := recover(); r != nil {
			payload, err = nil, eris.Errorf("pipeline: phase panicked: %v", r)
		}
	}()
	return fn(ctx)
}

func (p *Pipeline) collect(ctx context.Context, log *zap.Logger, st *model.RunState) {
	result := p.trackPhase(ctx, log, st, func(ctx context.Context) (any, error) {
		c, err := p.deps.Collector.Collect(ctx, st.Ticker)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
	st.Collection = &result

	var c model.CollectionPayload
	if !result.OK() || result.Decode(&c) != nil {
		st.AbortReason = fmt.Sprintf("Critical data collection failure: %s", result.Error)
		return
	}
	st.Snapshot = c.Snapshot.Normalize()
}

func (p *Pipeline) validate(ctx context.Context, log *zap.Logger, st *model.RunState) {
	result := p.trackPhase(ctx, log, st, func(ctx context.Context) (any, error) {
		var reference model.Snapshot
		var refErrors []string

		if p.deps.Reference != nil {
			ref, err := p.deps.Reference.Fetch(ctx, st.Ticker)
			switch {
			case err != nil:
				refErrors = []string{err.Error()}
			case !ref.OK():
				refErrors = ref.Errors
			default:
				reference = ref.Snapshot
				refErrors = ref.Errors
			}
			if len(refErrors) > 0 {
				log.Warn("pipeline: reference data incomplete", zap.Strings("errors", refErrors))
			}
		}

		res := p.deps.Engine.Reconcile(st.Ticker, st.Snapshot, reference)
		vp := model.ValidationPayload{
			Report:         res.Report,
			ReportText:     res.Text,
			ReferenceError: refErrors,
		}
		if res.Verification != nil {
			vp.Verification = res.Verification.Report
		}
		if res.Enrichment != nil {
			vp.Filled = res.Enrichment.Filled
			vp.FillSummary = res.Enrichment.Summary
		}

		st.Snapshot = res.Snapshot(st.Snapshot)
		st.Conflicts = append([]model.Conflict{}, res.Report.Conflicts...)
		return vp, nil
	})
	st.Validation = &result
}

func (p *Pipeline) analyze(ctx context.Context, log *zap.Logger, st *model.RunState) {
	var c model.CollectionPayload
	decodePrior(log, st.Collection, &c)

	result := p.trackPhase(ctx, log, st, func(ctx context.Context) (any, error) {
		a, err := p.deps.Analyzer.Analyze(ctx, st.Ticker, st.Snapshot, c.RawText)
		if err != nil {
			return model.AnalysisPayload{Analysis: failedAnalysis(err), Degraded: true}, err
		}
		return a, nil
	})
	if !result.OK() {
		st.Degraded = true
	}
	st.Analysis = &result
}

func (p *Pipeline) synthesize(ctx context.Context, log *zap.Logger, st *model.RunState) {
	var c model.CollectionPayload
	decodePrior(log, st.Collection, &c)
	var a model.AnalysisPayload
	decodePrior(log, st.Analysis, &a)
	var v model.ValidationPayload
	decodePrior(log, st.Validation, &v)

	result := p.trackPhase(ctx, log, st, func(ctx context.Context) (any, error) {
		report, err := p.deps.Synthesizer.Compose(ctx, executor.SynthesisInput{
			Ticker:           st.Ticker,
			CompanyName:      c.CompanyName,
			Analysis:         a.Analysis,
			ValidationReport: v.ReportText,
			DataSummary:      executor.DataSummary(c),
			Date:             p.now(),
		})
		if err != nil {
			return synthesisPayload{Report: FallbackReport(st.Ticker, err), Fallback: true}, err
		}
		return synthesisPayload{Report: report}, nil
	})
	st.Synthesis = &result

	var sp synthesisPayload
	if err := result.Decode(&sp); err != nil || sp.Report == "" {
		sp.Report = FallbackReport(st.Ticker, eris.New(result.Error))
	}
	if !result.OK() {
		st.Degraded = true
	}
	st.FinalReport = &sp.Report
}

// decodePrior reads an earlier phase's payload into v. A phase that produced
// nothing leaves v zero; an unreadable payload is logged and does the same.
func decodePrior(log *zap.Logger, r *model.PhaseResult, v any) {
	if r == nil || len(r.Payload) == 0 {
		return
	}
	if err := r.Decode(v); err != nil {
		log.Warn("pipeline: decode prior phase payload failed", zap.String("phase", r.Name), zap.Error(err))
	}
}
