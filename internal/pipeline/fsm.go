package pipeline

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/equity-research/internal/model"
)

// ErrTerminal is returned by Transition for a run that already finished.
var ErrTerminal = eris.New("pipeline: run is in a terminal phase")

// Transition returns the phase that follows s.Phase given the results
// recorded so far. It is the only place that decides the run's path:
//
//	collecting   -> aborted       collection failed
//	collecting   -> validating
//	validating   -> human_review  conflicts found
//	validating   -> analyzing
//	human_review -> analyzing
//	analyzing    -> synthesizing
//	synthesizing -> done
func Transition(s *model.RunState) (model.Phase, error) {
	switch s.Phase {
	case model.PhaseCollecting:
		if !s.Collection.OK() {
			return model.PhaseAborted, nil
		}
		return model.PhaseValidating, nil
	case model.PhaseValidating:
		if len(s.Conflicts) > 0 {
			return model.PhaseHumanReview, nil
		}
		return model.PhaseAnalyzing, nil
	case model.PhaseHumanReview:
		return model.PhaseAnalyzing, nil
	case model.PhaseAnalyzing:
		return model.PhaseSynthesizing, nil
	case model.PhaseSynthesizing:
		return model.PhaseDone, nil
	case model.PhaseDone, model.PhaseAborted:
		return s.Phase, ErrTerminal
	default:
		return s.Phase, eris.Errorf("pipeline: unknown phase %q", s.Phase)
	}
}
