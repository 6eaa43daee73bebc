package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/equity-research/internal/cache"
	"github.com/sells-group/equity-research/internal/config"
	"github.com/sells-group/equity-research/internal/executor"
	"github.com/sells-group/equity-research/internal/metrics"
	"github.com/sells-group/equity-research/internal/pipeline"
	"github.com/sells-group/equity-research/internal/reconcile"
	"github.com/sells-group/equity-research/internal/resilience"
	"github.com/sells-group/equity-research/internal/store"
	"github.com/sells-group/equity-research/pkg/alphavantage"
	anthropicpkg "github.com/sells-group/equity-research/pkg/anthropic"
	"github.com/sells-group/equity-research/pkg/notion"
	"github.com/sells-group/equity-research/pkg/perplexity"
	"github.com/sells-group/equity-research/pkg/yahoo"
)

// pipelineEnv holds the store, metrics and the pipeline needed by the
// run/resume/batch/serve commands.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Metrics  *metrics.Metrics
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline validates the config for mode, opens the store and builds the
// Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	m := metrics.Default()
	p, err := buildPipeline(cfg, st, m)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &pipelineEnv{Store: st, Pipeline: p, Metrics: m}, nil
}

// buildPipeline wires provider clients, executors and the reconciliation
// engine around st.
func buildPipeline(c *config.Config, st store.Store, m *metrics.Metrics) (*pipeline.Pipeline, error) {
	policy := resilience.PolicyFrom(
		c.Retry.MaxAttempts, c.Retry.InitialBackoffMs, c.Retry.MaxBackoffMs,
		c.Retry.Multiplier, c.Retry.Jitter,
	)

	cat := reconcile.DefaultCatalog()
	if c.Reconcile.CatalogPath != "" {
		loaded, err := reconcile.LoadCatalog(c.Reconcile.CatalogPath)
		if err != nil {
			return nil, eris.Wrap(err, "load metric catalog")
		}
		cat = loaded
	}
	cat = cat.WithTolerances(c.Reconcile.Tolerances)

	quotes := yahoo.NewClient(
		yahoo.WithRetryPolicy(policy),
		yahoo.WithCallObserver(func(err error) { m.ProviderCall("yahoo", err) }),
	)

	var collectorOpts []executor.CollectorOption
	collectorOpts = append(collectorOpts, executor.WithHistoryDays(c.Yahoo.HistoryDays))

	deps := pipeline.Deps{
		Store:   st,
		Engine:  reconcile.NewEngine(cat),
		Metrics: m,
	}

	if c.AlphaVantage.Key != "" {
		responses := cache.New[[]byte](c.Cache.MaxEntries, time.Duration(c.Cache.TTLSecs)*time.Second)
		responses.OnLookup = m.CacheLookup

		av := alphavantage.NewClient(c.AlphaVantage.Key,
			alphavantage.WithBaseURL(c.AlphaVantage.BaseURL),
			alphavantage.WithTimeout(time.Duration(c.AlphaVantage.TimeoutSecs)*time.Second),
			alphavantage.WithRateLimit(c.AlphaVantage.RateLimitPerMin),
			alphavantage.WithRetryPolicy(policy),
			alphavantage.WithBreaker(resilience.NewBreaker("alphavantage",
				resilience.BreakerFrom(c.AlphaVantage.BreakerThreshold, c.AlphaVantage.BreakerCooldown))),
			alphavantage.WithCache(responses),
			alphavantage.WithCallObserver(func(err error) { m.ProviderCall("alphavantage", err) }),
		)
		deps.Reference = executor.NewAlphaVantageReference(av)
		collectorOpts = append(collectorOpts, executor.WithNews(av, 0))
	} else {
		zap.L().Info("alphavantage key not set, validation runs completeness scoring only")
	}

	if c.Perplexity.Key != "" {
		pplx := perplexity.NewClient(c.Perplexity.Key,
			perplexity.WithBaseURL(c.Perplexity.BaseURL),
			perplexity.WithModel(c.Perplexity.Model),
			perplexity.WithRetryPolicy(policy),
			perplexity.WithCallObserver(func(err error) { m.ProviderCall("perplexity", err) }),
		)
		collectorOpts = append(collectorOpts, executor.WithResearch(pplx))
	}

	llm := anthropicpkg.NewClient(c.Anthropic.Key,
		anthropicpkg.WithTimeout(time.Duration(c.Anthropic.TimeoutSecs)*time.Second),
	)
	modelCfg := executor.ModelConfig{Model: c.Anthropic.Model, MaxTokens: c.Anthropic.MaxTokens}

	deps.Collector = executor.NewDataCollector(quotes, collectorOpts...)
	deps.Analyzer = executor.NewLLMAnalyzer(llm, modelCfg)
	deps.Synthesizer = executor.NewLLMSynthesizer(llm, modelCfg)

	if c.PublishesToNotion() {
		deps.Notion = notion.NewClient(c.Notion.Token)
		deps.NotionDB = c.Notion.ReportDB
	}

	return pipeline.New(deps,
		pipeline.WithReviewTimeout(time.Duration(c.Pipeline.ReviewTimeoutSecs)*time.Second),
		pipeline.WithPhaseTimeout(time.Duration(c.Pipeline.PhaseTimeoutSecs)*time.Second),
	), nil
}
