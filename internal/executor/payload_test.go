package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAnalysis(t *testing.T) {
	t.Parallel()

	p, err := DecodeAnalysis(`{"analysis":"Margins expanded.","signal":"bullish","key_points":["margin","buyback"]}`)
	require.NoError(t, err)
	assert.Equal(t, "Margins expanded.", p.Analysis)
	assert.Equal(t, "bullish", p.Signal)
	assert.Equal(t, []string{"margin", "buyback"}, p.KeyPoints)
	assert.False(t, p.Degraded)
}

func TestDecodeAnalysis_Fenced(t *testing.T) {
	t.Parallel()

	p, err := DecodeAnalysis("```json\n{\"analysis\":\"ok\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "ok", p.Analysis)

	p, err = DecodeAnalysis("```{\"analysis\":\"bare fence\"}```")
	require.NoError(t, err)
	assert.Equal(t, "bare fence", p.Analysis)
}

func TestDecodeAnalysis_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
	}{
		{"prose", "The company looks strong."},
		{"empty", ""},
		{"python literal", `{'analysis': 'single quotes'}`},
		{"missing analysis", `{"signal":"bullish"}`},
		{"empty analysis", `{"analysis":""}`},
		{"bad signal", `{"analysis":"x","signal":"moon"}`},
		{"unknown field", `{"analysis":"x","rating":5}`},
		{"wrong type", `{"analysis":"x","key_points":"one"}`},
		{"array", `[{"analysis":"x"}]`},
		{"trailing prose", `{"analysis":"x"} Hope this helps!`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := DecodeAnalysis(tt.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUnparseablePayload)
		})
	}
}

func TestDecodeReport(t *testing.T) {
	t.Parallel()

	r, err := DecodeReport(`{"report":"# AAPL - Analysis Report\n\nBody"}`)
	require.NoError(t, err)
	assert.Equal(t, "# AAPL - Analysis Report\n\nBody", r)

	_, err = DecodeReport(`# AAPL - Analysis Report`)
	assert.ErrorIs(t, err, ErrUnparseablePayload)

	_, err = DecodeReport(`{"report":""}`)
	assert.ErrorIs(t, err, ErrUnparseablePayload)

	_, err = DecodeReport(`{"analysis":"wrong payload"}`)
	assert.ErrorIs(t, err, ErrUnparseablePayload)
}

func TestStripFence(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `{"a":1}`, stripFence("  {\"a\":1}\n"))
	assert.Equal(t, `{"a":1}`, stripFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, "```", stripFence("```"))
}
