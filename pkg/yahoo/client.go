// Package yahoo is the primary market data source: equity quotes and daily
// price history from Yahoo Finance.
package yahoo

import (
	"context"
	"strings"
	"time"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/equity"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/equity-research/internal/resilience"
)

const providerName = "yahoo"

// Quote is the subset of the Yahoo equity quote used for research.
type Quote struct {
	Symbol               string  `json:"symbol"`
	Name                 string  `json:"name"`
	Currency             string  `json:"currency,omitempty"`
	Price                float64 `json:"price"`
	PreviousClose        float64 `json:"previous_close,omitempty"`
	Volume               int64   `json:"volume,omitempty"`
	MarketCap            int64   `json:"market_cap,omitempty"`
	SharesOutstanding    int64   `json:"shares_outstanding,omitempty"`
	TrailingPE           float64 `json:"trailing_pe,omitempty"`
	ForwardPE            float64 `json:"forward_pe,omitempty"`
	PriceToBook          float64 `json:"price_to_book,omitempty"`
	EPS                  float64 `json:"eps,omitempty"`
	DividendYield        float64 `json:"dividend_yield,omitempty"`
	FiftyTwoWeekHigh     float64 `json:"fifty_two_week_high,omitempty"`
	FiftyTwoWeekLow      float64 `json:"fifty_two_week_low,omitempty"`
	FiftyDayAverage      float64 `json:"fifty_day_average,omitempty"`
	TwoHundredDayAverage float64 `json:"two_hundred_day_average,omitempty"`
}

// Bar is one daily OHLCV bar.
type Bar struct {
	Date     time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	AdjClose decimal.Decimal
	Volume   int64
}

// Client reads primary market data.
type Client interface {
	Quote(ctx context.Context, ticker string) (*Quote, error)
	History(ctx context.Context, ticker string, days int) ([]Bar, error)
}

// Fetcher is the raw Yahoo Finance access used by the client. The default
// implementation calls finance-go; tests substitute fixed data.
type Fetcher interface {
	Equity(symbol string) (*finance.Equity, error)
	Chart(symbol string, start, end time.Time) ([]Bar, error)
}

// Option configures the client.
type Option func(*client)

// WithFetcher replaces the finance-go backend.
func WithFetcher(f Fetcher) Option {
	return func(c *client) {
		c.fetch = f
	}
}

// WithRetryPolicy overrides the retry policy for transient failures.
func WithRetryPolicy(p resilience.Policy) Option {
	return func(c *client) {
		c.retry = p
	}
}

// WithClock overrides the time source for history windows.
func WithClock(now func() time.Time) Option {
	return func(c *client) {
		c.now = now
	}
}

// WithCallObserver receives the outcome of every upstream call.
func WithCallObserver(fn func(err error)) Option {
	return func(c *client) {
		c.observe = fn
	}
}

type client struct {
	fetch   Fetcher
	retry   resilience.Policy
	now     func() time.Time
	observe func(err error)
}

// NewClient creates a Yahoo Finance client.
func NewClient(opts ...Option) Client {
	c := &client{
		fetch: financeFetcher{},
		retry: resilience.DefaultPolicy(),
		now:   time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.LogRetries(providerName, "fetch")
	}
	return c
}

func (c *client) Quote(ctx context.Context, ticker string) (*Quote, error) {
	symbol := normalize(ticker)
	if symbol == "" {
		return nil, eris.New("yahoo: ticker is required")
	}

	eq, err := resilience.Retry(ctx, c.retry, func(ctx context.Context) (*finance.Equity, error) {
		return call(ctx, c.observe, func() (*finance.Equity, error) { return c.fetch.Equity(symbol) })
	})
	if err != nil {
		return nil, eris.Wrapf(err, "yahoo: quote %s", symbol)
	}
	if eq == nil || eq.RegularMarketPrice <= 0 {
		return nil, eris.Errorf("yahoo: no quote for %s", symbol)
	}

	name := eq.LongName
	if name == "" {
		name = eq.ShortName
	}
	return &Quote{
		Symbol:               symbol,
		Name:                 name,
		Currency:             eq.CurrencyID,
		Price:                eq.RegularMarketPrice,
		PreviousClose:        eq.RegularMarketPreviousClose,
		Volume:               int64(eq.RegularMarketVolume),
		MarketCap:            eq.MarketCap,
		SharesOutstanding:    int64(eq.SharesOutstanding),
		TrailingPE:           eq.TrailingPE,
		ForwardPE:            eq.ForwardPE,
		PriceToBook:          eq.PriceToBook,
		EPS:                  eq.EpsTrailingTwelveMonths,
		DividendYield:        eq.TrailingAnnualDividendYield,
		FiftyTwoWeekHigh:     eq.FiftyTwoWeekHigh,
		FiftyTwoWeekLow:      eq.FiftyTwoWeekLow,
		FiftyDayAverage:      eq.FiftyDayAverage,
		TwoHundredDayAverage: eq.TwoHundredDayAverage,
	}, nil
}

func (c *client) History(ctx context.Context, ticker string, days int) ([]Bar, error) {
	symbol := normalize(ticker)
	if symbol == "" {
		return nil, eris.New("yahoo: ticker is required")
	}
	if days <= 0 {
		days = 400
	}
	end := c.now()
	start := end.AddDate(0, 0, -days)

	bars, err := resilience.Retry(ctx, c.retry, func(ctx context.Context) ([]Bar, error) {
		return call(ctx, c.observe, func() ([]Bar, error) { return c.fetch.Chart(symbol, start, end) })
	})
	if err != nil {
		return nil, eris.Wrapf(err, "yahoo: history %s", symbol)
	}
	return bars, nil
}

// call runs a blocking finance-go call, returning early when ctx is done.
// finance-go takes no context, so the abandoned call finishes in the
// background.
func call[T any](ctx context.Context, observe func(error), fn func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-done:
		if observe != nil {
			observe(r.err)
		}
		return r.val, classify(r.err)
	}
}

// classify marks finance-go's remote errors as transient when the message
// indicates a dropped or throttled request.
func classify(err error) error {
	if err == nil || resilience.IsTransient(err) {
		return err
	}
	msg := strings.ToLower(err.Error())
	for _, p := range []string{"429", "too many requests", "502", "503", "504", "timeout"} {
		if strings.Contains(msg, p) {
			return resilience.NewTransientError(err, 0)
		}
	}
	return err
}

func normalize(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

type financeFetcher struct{}

func (financeFetcher) Equity(symbol string) (*finance.Equity, error) {
	return equity.Get(symbol)
}

func (financeFetcher) Chart(symbol string, start, end time.Time) ([]Bar, error) {
	iter := chart.Get(&chart.Params{
		Symbol:   symbol,
		Start:    datetime.New(&start),
		End:      datetime.New(&end),
		Interval: datetime.OneDay,
	})

	var bars []Bar
	for iter.Next() {
		b := iter.Bar()
		bars = append(bars, Bar{
			Date:     time.Unix(int64(b.Timestamp), 0).UTC(),
			Open:     b.Open,
			High:     b.High,
			Low:      b.Low,
			Close:    b.Close,
			AdjClose: b.AdjClose,
			Volume:   int64(b.Volume),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return bars, nil
}
