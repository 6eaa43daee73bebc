package pipeline

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/equity-research/internal/model"
)

func TestTransition(t *testing.T) {
	t.Parallel()

	ok := &model.PhaseResult{Status: model.PhaseStatusOK}
	failed := &model.PhaseResult{Status: model.PhaseStatusError}
	conflict := []model.Conflict{{Metric: "current_price"}}

	tests := []struct {
		name  string
		state model.RunState
		want  model.Phase
	}{
		{"collection ok", model.RunState{Phase: model.PhaseCollecting, Collection: ok}, model.PhaseValidating},
		{"collection failed", model.RunState{Phase: model.PhaseCollecting, Collection: failed}, model.PhaseAborted},
		{"collection missing", model.RunState{Phase: model.PhaseCollecting}, model.PhaseAborted},
		{"no conflicts", model.RunState{Phase: model.PhaseValidating}, model.PhaseAnalyzing},
		{"conflicts", model.RunState{Phase: model.PhaseValidating, Conflicts: conflict}, model.PhaseHumanReview},
		{"review", model.RunState{Phase: model.PhaseHumanReview, Conflicts: conflict}, model.PhaseAnalyzing},
		{"analysis failed", model.RunState{Phase: model.PhaseAnalyzing, Analysis: failed}, model.PhaseSynthesizing},
		{"synthesis failed", model.RunState{Phase: model.PhaseSynthesizing, Synthesis: failed}, model.PhaseDone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Transition(&tt.state)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransition_Terminal(t *testing.T) {
	t.Parallel()

	for _, p := range []model.Phase{model.PhaseDone, model.PhaseAborted} {
		got, err := Transition(&model.RunState{Phase: p})
		assert.ErrorIs(t, err, ErrTerminal)
		assert.Equal(t, p, got)
	}

	_, err := Transition(&model.RunState{Phase: "paused"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTerminal))
}

// Every combination of phase outcomes reaches exactly one terminal phase
// without revisiting collection, and conflicts always lead to review.
func TestTransition_AlwaysTerminates(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(7, 11))
	for i := 0; i < 500; i++ {
		st := &model.RunState{Phase: model.PhaseCollecting}
		visited := map[model.Phase]int{}

		for steps := 0; !st.Phase.IsTerminal(); steps++ {
			require.Less(t, steps, 6, "run did not terminate")
			visited[st.Phase]++

			switch st.Phase {
			case model.PhaseCollecting:
				status := model.PhaseStatusOK
				if rng.IntN(4) == 0 {
					status = model.PhaseStatusError
				}
				st.Collection = &model.PhaseResult{Status: status}
			case model.PhaseValidating:
				st.Conflicts = nil
				if rng.IntN(2) == 0 {
					st.Conflicts = []model.Conflict{{Metric: "current_price"}}
				}
			}

			prev := st.Phase
			next, err := Transition(st)
			require.NoError(t, err)
			if prev == model.PhaseValidating && len(st.Conflicts) > 0 {
				assert.Equal(t, model.PhaseHumanReview, next)
			}
			if next == model.PhaseAborted {
				assert.Equal(t, model.PhaseCollecting, prev)
			}
			st.Phase = next
		}

		assert.Equal(t, 1, visited[model.PhaseCollecting])
		for p, n := range visited {
			assert.Equal(t, 1, n, "phase %s visited %d times", p, n)
		}
	}
}
