package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/equity-research/internal/model"
	"github.com/sells-group/equity-research/pkg/anthropic"
)

const analyzerSystemPrompt = `You are a senior equity research analyst. You receive a financial data
snapshot and research notes for one company. Assess valuation, profitability,
balance sheet strength, cash generation, price trend and risk.

Respond with a single JSON object and nothing else:
{"analysis": "<multi-paragraph markdown analysis>",
 "signal": "bullish" | "bearish" | "neutral",
 "key_points": ["<short point>", ...]}

Base every statement on the supplied data. When a metric is missing, say so
instead of estimating it.`

// ModelConfig selects the model and output budget for a phase.
type ModelConfig struct {
	Model     string
	MaxTokens int64
}

// LLMAnalyzer analyzes a snapshot with an Anthropic model.
type LLMAnalyzer struct {
	client anthropic.Client
	cfg    ModelConfig
}

// NewLLMAnalyzer creates an analyzer.
func NewLLMAnalyzer(c anthropic.Client, cfg ModelConfig) *LLMAnalyzer {
	return &LLMAnalyzer{client: c, cfg: cfg}
}

// Analyze asks the model for a strict JSON analysis payload.
func (a *LLMAnalyzer) Analyze(ctx context.Context, ticker string, snap model.Snapshot, rawText string) (model.AnalysisPayload, error) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return model.AnalysisPayload{}, eris.Wrap(err, "executor: encode snapshot")
	}

	prompt := fmt.Sprintf("Ticker: %s\n\nFINANCIAL SNAPSHOT (null means unavailable):\n%s\n\nRESEARCH NOTES:\n%s",
		ticker, data, rawText)

	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     a.cfg.Model,
		MaxTokens: a.cfg.MaxTokens,
		System:    anthropic.BuildCachedSystemBlocks(analyzerSystemPrompt),
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return model.AnalysisPayload{}, eris.Wrapf(err, "executor: analyze %s", ticker)
	}
	resp.Usage.LogCost(a.cfg.Model, string(model.PhaseAnalyzing))

	payload, err := DecodeAnalysis(resp.Text())
	if err != nil {
		return model.AnalysisPayload{}, eris.Wrapf(err, "executor: analyze %s", ticker)
	}
	return payload, nil
}
