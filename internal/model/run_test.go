package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhase_IsTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		phase Phase
		want  bool
	}{
		{PhaseCollecting, false},
		{PhaseValidating, false},
		{PhaseHumanReview, false},
		{PhaseAnalyzing, false},
		{PhaseSynthesizing, false},
		{PhaseDone, true},
		{PhaseAborted, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.phase), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.phase.IsTerminal())
			assert.True(t, tt.phase.Valid())
		})
	}

	assert.False(t, Phase("paused").Valid())
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, RunStatusRunning, StatusFor(PhaseCollecting))
	assert.Equal(t, RunStatusRunning, StatusFor(PhaseAnalyzing))
	assert.Equal(t, RunStatusSuspended, StatusFor(PhaseHumanReview))
	assert.Equal(t, RunStatusDone, StatusFor(PhaseDone))
	assert.Equal(t, RunStatusAborted, StatusFor(PhaseAborted))
}

func TestPhaseResult_Payload(t *testing.T) {
	t.Parallel()

	res, err := NewPhaseResult("analyze", AnalysisPayload{Analysis: "steady margins", Signal: "neutral"})
	require.NoError(t, err)
	assert.True(t, res.OK())

	var got AnalysisPayload
	require.NoError(t, res.Decode(&got))
	assert.Equal(t, "steady margins", got.Analysis)

	failed := FailedPhase("analyze", errors.New("model timeout"))
	assert.False(t, failed.OK())
	assert.Equal(t, "model timeout", failed.Error)
	assert.Error(t, failed.Decode(&got))

	var nilResult *PhaseResult
	assert.False(t, nilResult.OK())
}

func TestRunState_Results(t *testing.T) {
	t.Parallel()

	collect := PhaseResult{Name: "collect", Status: PhaseStatusOK}
	analyze := PhaseResult{Name: "analyze", Status: PhaseStatusError}
	st := RunState{Collection: &collect, Analysis: &analyze}

	results := st.Results()
	require.Len(t, results, 2)
	assert.Equal(t, "collect", results[0].Name)
	assert.Equal(t, "analyze", results[1].Name)
}
