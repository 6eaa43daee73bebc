package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/equity-research/internal/model"
	"github.com/sells-group/equity-research/pkg/alphavantage"
	"github.com/sells-group/equity-research/pkg/perplexity"
	"github.com/sells-group/equity-research/pkg/yahoo"
)

const (
	defaultHistoryDays = 400
	defaultNewsLimit   = 10
)

// CollectorOption configures a DataCollector.
type CollectorOption func(*DataCollector)

// WithNews enables the Alpha Vantage news feed.
func WithNews(c alphavantage.Client, limit int) CollectorOption {
	return func(d *DataCollector) {
		d.news = c
		if limit > 0 {
			d.newsLimit = limit
		}
	}
}

// WithResearch enables the Perplexity research narrative.
func WithResearch(c perplexity.Client) CollectorOption {
	return func(d *DataCollector) {
		d.research = c
	}
}

// WithHistoryDays sets the price history window.
func WithHistoryDays(n int) CollectorOption {
	return func(d *DataCollector) {
		if n > 0 {
			d.historyDays = n
		}
	}
}

// DataCollector builds the primary snapshot from Yahoo Finance. News and the
// research narrative are best effort: their failures are logged and the
// collection still succeeds. Only a failed quote fails the collection.
type DataCollector struct {
	quotes      yahoo.Client
	news        alphavantage.Client
	research    perplexity.Client
	historyDays int
	newsLimit   int
}

// NewDataCollector creates a collector over the primary quote source.
func NewDataCollector(quotes yahoo.Client, opts ...CollectorOption) *DataCollector {
	d := &DataCollector{
		quotes:      quotes,
		historyDays: defaultHistoryDays,
		newsLimit:   defaultNewsLimit,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Collect gathers the snapshot, news and narrative for ticker.
func (d *DataCollector) Collect(ctx context.Context, ticker string) (model.CollectionPayload, error) {
	log := zap.L().With(zap.String("ticker", ticker))

	q, err := d.quotes.Quote(ctx, ticker)
	if err != nil {
		return model.CollectionPayload{}, eris.Wrapf(err, "executor: collect quote for %s", ticker)
	}

	snap := quoteSnapshot(q)

	bars, err := d.quotes.History(ctx, ticker, d.historyDays)
	if err != nil {
		log.Warn("executor: price history unavailable", zap.Error(err))
	} else {
		addHistory(snap, bars)
	}

	payload := model.CollectionPayload{
		CompanyName: q.Name,
		Snapshot:    snap,
		News:        []model.NewsItem{},
	}

	if d.news != nil {
		articles, err := d.news.News(ctx, ticker, d.newsLimit)
		if err != nil {
			log.Warn("executor: news unavailable", zap.Error(err))
		}
		for _, a := range articles {
			payload.News = append(payload.News, model.NewsItem{
				Title:     a.Title,
				URL:       a.URL,
				Source:    a.Source,
				Published: a.TimePublished,
				Summary:   a.Summary,
				Sentiment: a.SentimentScore,
			})
		}
	}

	research := ""
	if d.research != nil {
		research, err = d.researchNarrative(ctx, ticker, q.Name)
		if err != nil {
			log.Warn("executor: research narrative unavailable", zap.Error(err))
		}
	}
	payload.RawText = rawText(q, snap, research)

	return payload, nil
}

func (d *DataCollector) researchNarrative(ctx context.Context, ticker, name string) (string, error) {
	subject := ticker
	if name != "" {
		subject = fmt.Sprintf("%s (%s)", name, ticker)
	}
	resp, err := d.research.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Messages: []perplexity.Message{
			{Role: "system", Content: "You are a financial research assistant. Answer with sourced facts only."},
			{Role: "user", Content: fmt.Sprintf(
				"Summarize the latest business developments, earnings results, guidance and key risks for %s. "+
					"Keep it under 400 words.", subject)},
		},
	})
	if err != nil {
		return "", eris.Wrap(err, "executor: research narrative")
	}
	text := resp.Content()
	if len(resp.Citations) > 0 {
		text += "\n\nSources:\n- " + strings.Join(resp.Citations, "\n- ")
	}
	return text, nil
}

// quoteSnapshot maps the quote onto snapshot metrics. Zero values from the
// provider mean "not reported" and are left absent.
func quoteSnapshot(q *yahoo.Quote) model.Snapshot {
	snap := model.Snapshot{}
	setPositive(snap, "current_price", q.Price)
	setPositive(snap, "market_cap", float64(q.MarketCap))
	setPositive(snap, "trailing_pe", q.TrailingPE)
	setPositive(snap, "forward_pe", q.ForwardPE)
	setPositive(snap, "dividend_yield", q.DividendYield)
	setPositive(snap, "price_to_book", q.PriceToBook)
	setPositive(snap, "shares_outstanding", float64(q.SharesOutstanding))
	setPositive(snap, "fifty_two_week_high", q.FiftyTwoWeekHigh)
	setPositive(snap, "fifty_two_week_low", q.FiftyTwoWeekLow)
	if q.EPS != 0 {
		snap.Set("eps", model.Number(q.EPS))
	}
	if q.Name != "" {
		snap.Set("company_name", model.String(q.Name))
	}
	if q.Currency != "" {
		snap.Set("currency", model.String(q.Currency))
	}
	return snap
}

func setPositive(s model.Snapshot, name string, f float64) {
	if f > 0 {
		s.Set(name, model.Number(f))
	}
}

// addHistory adds the technicals, risk_metrics and volume_trends groups.
func addHistory(s model.Snapshot, bars []yahoo.Bar) {
	if t := yahoo.ComputeTechnicals(bars); t != nil {
		s.Set("technicals", model.Group(model.Snapshot{
			"current_price": model.Number(t.CurrentPrice),
			"sma_50":        optNumber(t.SMA50),
			"sma_200":       optNumber(t.SMA200),
			"change_52w":    optNumber(t.Change52W),
		}.Normalize()))
	}
	if r := yahoo.ComputeRisk(bars); r != nil {
		s.Set("risk_metrics", model.Group(model.Snapshot{
			"volatility_annualized": model.Number(r.VolatilityAnnualized),
			"max_drawdown":          model.Number(r.MaxDrawdown),
		}))
	}
	if v := yahoo.ComputeVolume(bars); v != nil {
		s.Set("volume_trends", model.Group(model.Snapshot{
			"latest":   model.Number(float64(v.Latest)),
			"avg_10d":  optNumber(v.Avg10D),
			"avg_50d":  optNumber(v.Avg50D),
			"avg_200d": optNumber(v.Avg200D),
			"spike":    model.Bool(v.Spike),
			"trend":    model.String(v.Trend),
		}.Normalize()))
	}
}

func optNumber(f *float64) model.Value {
	if f == nil {
		return model.Absent()
	}
	return model.Number(*f)
}

// rawText renders the collected quote and research for the analyzer prompt.
func rawText(q *yahoo.Quote, snap model.Snapshot, research string) string {
	var b strings.Builder
	name := q.Name
	if name == "" {
		name = q.Symbol
	}
	fmt.Fprintf(&b, "Company: %s (%s)\n", name, q.Symbol)
	for _, k := range snap.Keys() {
		v := snap.Get(k)
		if v.Kind() == model.KindGroup {
			fmt.Fprintf(&b, "%s:\n", k)
			g := v.Group()
			for _, gk := range g.Keys() {
				if gv := g.Get(gk); gv.Available() {
					fmt.Fprintf(&b, "  %s: %s\n", gk, gv.Str())
				}
			}
			continue
		}
		if k == "company_name" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", k, v.Str())
	}
	if research != "" {
		b.WriteString("\nWeb research:\n")
		b.WriteString(research)
		b.WriteString("\n")
	}
	return b.String()
}
