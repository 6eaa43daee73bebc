package executor

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/equity-research/internal/model"
	"github.com/sells-group/equity-research/pkg/anthropic"
)

const synthesizerSystemPrompt = `You write the final equity research report for one company in markdown.
Start with "# <TICKER> - Analysis Report". Include sections for Summary,
Valuation, Financial Health, Technical Picture, News and Sentiment, Risks,
Data Quality and Conclusion. Carry the data quality notes through honestly;
never hide missing data or source conflicts.

Respond with a single JSON object and nothing else:
{"report": "<full markdown report>"}`

// LLMSynthesizer composes the final report with an Anthropic model.
type LLMSynthesizer struct {
	client anthropic.Client
	cfg    ModelConfig
}

// NewLLMSynthesizer creates a synthesizer.
func NewLLMSynthesizer(c anthropic.Client, cfg ModelConfig) *LLMSynthesizer {
	return &LLMSynthesizer{client: c, cfg: cfg}
}

// Compose returns the report text.
func (s *LLMSynthesizer) Compose(ctx context.Context, in SynthesisInput) (string, error) {
	company := in.CompanyName
	if company == "" {
		company = in.Ticker
	}
	prompt := fmt.Sprintf("Ticker: %s\nCompany: %s\nDate: %s\n\nANALYSIS:\n%s\n\nDATA QUALITY:\n%s\n\nDATA SUMMARY:\n%s",
		in.Ticker, company, in.Date.Format("January 2, 2006"), in.Analysis, in.ValidationReport, in.DataSummary)

	resp, err := s.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     s.cfg.Model,
		MaxTokens: s.cfg.MaxTokens,
		System:    anthropic.BuildCachedSystemBlocks(synthesizerSystemPrompt),
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", eris.Wrapf(err, "executor: synthesize %s", in.Ticker)
	}
	resp.Usage.LogCost(s.cfg.Model, string(model.PhaseSynthesizing))

	report, err := DecodeReport(resp.Text())
	if err != nil {
		return "", eris.Wrapf(err, "executor: synthesize %s", in.Ticker)
	}
	return report, nil
}
