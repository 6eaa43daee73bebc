// Package alphavantage is a client for the Alpha Vantage REST API, used as the
// independent reference source for cross-checking and gap-filling.
package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/equity-research/internal/cache"
	"github.com/sells-group/equity-research/internal/resilience"
)

const (
	defaultBaseURL = "https://www.alphavantage.co"
	providerName   = "alphavantage"
)

// Function is an Alpha Vantage API function.
type Function string

const (
	FunctionOverview        Function = "OVERVIEW"
	FunctionGlobalQuote     Function = "GLOBAL_QUOTE"
	FunctionBalanceSheet    Function = "BALANCE_SHEET"
	FunctionIncomeStatement Function = "INCOME_STATEMENT"
	FunctionCashFlow        Function = "CASH_FLOW"
	FunctionNewsSentiment   Function = "NEWS_SENTIMENT"
)

// Result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Client fetches reference fundamentals and news.
type Client interface {
	// Fetch queries overview, quote and statements. A per-function failure
	// is recorded in Result.Errors and does not fail the fetch; the status
	// is success when at least one function returned data.
	Fetch(ctx context.Context, ticker string) (*Result, error)
	News(ctx context.Context, ticker string, limit int) ([]Article, error)
}

// Result is the outcome of Fetch.
type Result struct {
	Status string   `json:"status"`
	Data   Data     `json:"data"`
	Errors []string `json:"errors,omitempty"`
}

// Data holds each section as flat string fields, the way the API reports
// them. Statement sections hold the most recent report.
type Data struct {
	Overview        map[string]string `json:"overview,omitempty"`
	Quote           map[string]string `json:"quote,omitempty"`
	IncomeStatement map[string]string `json:"income_statement,omitempty"`
	BalanceSheet    map[string]string `json:"balance_sheet,omitempty"`
	CashFlow        map[string]string `json:"cash_flow,omitempty"`
	// History is keyed income_statement, balance_sheet and cash_flow.
	History map[string]Statements `json:"history,omitempty"`
}

// Statements holds the recent reports of one statement, newest first.
type Statements struct {
	Quarterly []map[string]string `json:"quarterly,omitempty"`
	Annual    []map[string]string `json:"annual,omitempty"`
}

// Report counts kept in Statements.
const (
	HistoryQuarters = 4
	HistoryYears    = 3
)

// Article is a NEWS_SENTIMENT feed entry.
type Article struct {
	Title          string  `json:"title"`
	URL            string  `json:"url"`
	Source         string  `json:"source"`
	Summary        string  `json:"summary"`
	TimePublished  string  `json:"time_published"`
	SentimentScore float64 `json:"overall_sentiment_score"`
	SentimentLabel string  `json:"overall_sentiment_label"`
}

// APIError is an error reported in a 200 response body, such as an unknown
// symbol or a rate-limit notice.
type APIError struct {
	Function Function
	Message  string
	// RateLimited marks "Note" and "Information" notices.
	RateLimited bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("alphavantage: %s: %s", e.Function, e.Message)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit throttles requests to perMinute. Zero disables throttling.
func WithRateLimit(perMinute int) Option {
	return func(c *httpClient) {
		if perMinute <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	}
}

// WithRetryPolicy overrides the retry policy for transient failures.
func WithRetryPolicy(p resilience.Policy) Option {
	return func(c *httpClient) {
		c.retry = p
	}
}

// WithBreaker guards calls with a circuit breaker.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *httpClient) {
		c.breaker = b
	}
}

// WithCache shares a response cache keyed by function and ticker.
func WithCache(rc *cache.Cache[[]byte]) Option {
	return func(c *httpClient) {
		c.cache = rc
	}
}

// WithCallObserver receives the outcome of every HTTP call.
func WithCallObserver(fn func(err error)) Option {
	return func(c *httpClient) {
		c.observe = fn
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	timeout time.Duration
	http    *resty.Client
	limiter *rate.Limiter
	retry   resilience.Policy
	breaker *resilience.Breaker
	cache   *cache.Cache[[]byte]
	observe func(err error)
}

// NewClient creates an Alpha Vantage client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		timeout: 30 * time.Second,
		limiter: rate.NewLimiter(rate.Every(12*time.Second), 1),
		retry:   resilience.DefaultPolicy(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.LogRetries(providerName, "query")
	}
	c.http = resty.New().
		SetBaseURL(strings.TrimSuffix(c.baseURL, "/")).
		SetTimeout(c.timeout).
		SetHeader("Accept", "application/json")
	return c
}

func (c *httpClient) Fetch(ctx context.Context, ticker string) (*Result, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return nil, eris.New("alphavantage: ticker is required")
	}

	res := &Result{}
	record := func(name string, err error) bool {
		if err == nil {
			return true
		}
		if ctx.Err() == nil {
			zap.L().Debug("alphavantage: function failed",
				zap.String("ticker", ticker), zap.String("function", name), zap.Error(err))
		}
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", name, errorMessage(err)))
		return false
	}

	var err error
	if res.Data.Overview, err = c.flat(ctx, FunctionOverview, ticker, ""); !record("overview", err) {
		res.Data.Overview = nil
	}
	if res.Data.Quote, err = c.flat(ctx, FunctionGlobalQuote, ticker, "Global Quote"); !record("quote", err) {
		res.Data.Quote = nil
	}
	for _, st := range []struct {
		name, key string
		fn        Function
		latest    *map[string]string
	}{
		{"income", "income_statement", FunctionIncomeStatement, &res.Data.IncomeStatement},
		{"balance", "balance_sheet", FunctionBalanceSheet, &res.Data.BalanceSheet},
		{"cash_flow", "cash_flow", FunctionCashFlow, &res.Data.CashFlow},
	} {
		latest, history, err := c.statement(ctx, st.fn, ticker)
		if !record(st.name, err) {
			continue
		}
		*st.latest = latest
		if res.Data.History == nil {
			res.Data.History = map[string]Statements{}
		}
		res.Data.History[st.key] = history
	}

	if ctx.Err() != nil {
		return nil, eris.Wrap(ctx.Err(), "alphavantage: fetch")
	}

	res.Status = StatusError
	for _, section := range []map[string]string{
		res.Data.Overview, res.Data.Quote, res.Data.IncomeStatement, res.Data.BalanceSheet, res.Data.CashFlow,
	} {
		if len(section) > 0 {
			res.Status = StatusSuccess
			break
		}
	}
	return res, nil
}

func (c *httpClient) News(ctx context.Context, ticker string, limit int) ([]Article, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	body, err := c.query(ctx, FunctionNewsSentiment, ticker, map[string]string{"tickers": ticker, "sort": "LATEST"})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Feed []Article `json:"feed"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "alphavantage: decode news")
	}
	if limit > 0 && len(resp.Feed) > limit {
		resp.Feed = resp.Feed[:limit]
	}
	return resp.Feed, nil
}

// flat decodes an object of string fields, optionally nested under key.
func (c *httpClient) flat(ctx context.Context, fn Function, ticker, key string) (map[string]string, error) {
	body, err := c.query(ctx, fn, ticker, nil)
	if err != nil {
		return nil, err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, eris.Wrapf(err, "alphavantage: decode %s", fn)
	}
	if key != "" {
		inner, ok := raw[key]
		if !ok {
			return nil, &APIError{Function: fn, Message: "response missing " + key}
		}
		raw = nil
		if err := json.Unmarshal(inner, &raw); err != nil {
			return nil, eris.Wrapf(err, "alphavantage: decode %s", fn)
		}
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := scalarString(v); ok {
			out[k] = s
		}
	}
	if len(out) == 0 {
		return nil, &APIError{Function: fn, Message: "no data returned"}
	}
	return out, nil
}

// statement returns the latest quarterly report, else the latest annual one,
// together with the recent quarterly and annual series.
func (c *httpClient) statement(ctx context.Context, fn Function, ticker string) (map[string]string, Statements, error) {
	body, err := c.query(ctx, fn, ticker, nil)
	if err != nil {
		return nil, Statements{}, err
	}

	var resp struct {
		AnnualReports    []map[string]json.RawMessage `json:"annualReports"`
		QuarterlyReports []map[string]json.RawMessage `json:"quarterlyReports"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, Statements{}, eris.Wrapf(err, "alphavantage: decode %s", fn)
	}

	history := Statements{
		Quarterly: recentReports(resp.QuarterlyReports, HistoryQuarters),
		Annual:    recentReports(resp.AnnualReports, HistoryYears),
	}
	latest := history.Quarterly
	if len(latest) == 0 {
		latest = history.Annual
	}
	if len(latest) == 0 {
		return nil, Statements{}, &APIError{Function: fn, Message: "no reports returned"}
	}
	return latest[0], history, nil
}

// recentReports flattens reports to string fields and keeps the n with the
// greatest fiscalDateEnding, newest first.
func recentReports(reports []map[string]json.RawMessage, n int) []map[string]string {
	dated := make([]map[string]string, 0, len(reports))
	for _, r := range reports {
		flat := make(map[string]string, len(r))
		for k, v := range r {
			if s, ok := scalarString(v); ok {
				flat[k] = s
			}
		}
		if len(flat) > 0 {
			dated = append(dated, flat)
		}
	}
	sort.SliceStable(dated, func(i, j int) bool {
		return dated[i]["fiscalDateEnding"] > dated[j]["fiscalDateEnding"]
	})
	if len(dated) > n {
		dated = dated[:n]
	}
	return dated
}

// query performs one cached, throttled, retried API call and returns the
// body once it is known not to carry an API error.
func (c *httpClient) query(ctx context.Context, fn Function, ticker string, extra map[string]string) ([]byte, error) {
	load := func(ctx context.Context) ([]byte, error) {
		return resilience.Retry(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
			if c.breaker != nil {
				return resilience.Call(ctx, c.breaker, func(ctx context.Context) ([]byte, error) {
					return c.do(ctx, fn, ticker, extra)
				})
			}
			return c.do(ctx, fn, ticker, extra)
		})
	}
	if c.cache == nil {
		return load(ctx)
	}
	return c.cache.GetOrLoad(ctx, cache.Key(providerName, string(fn), ticker), load)
}

func (c *httpClient) do(ctx context.Context, fn Function, ticker string, extra map[string]string) (body []byte, err error) {
	defer func() {
		if c.observe != nil {
			c.observe(err)
		}
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "alphavantage: rate limiter")
		}
	}

	params := map[string]string{
		"function": string(fn),
		"symbol":   ticker,
		"apikey":   c.apiKey,
	}
	for k, v := range extra {
		params[k] = v
	}
	if fn == FunctionNewsSentiment {
		delete(params, "symbol")
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get("/query")
	if err != nil {
		return nil, eris.Wrapf(err, "alphavantage: %s request", fn)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, resilience.StatusError(providerName, resp.StatusCode(), resp.String())
	}

	body = resp.Body()
	if apiErr := detectAPIError(fn, body); apiErr != nil {
		return nil, apiErr
	}
	return body, nil
}

// detectAPIError reports errors Alpha Vantage returns with status 200.
func detectAPIError(fn Function, body []byte) *APIError {
	var envelope struct {
		ErrorMessage string `json:"Error Message"`
		Note         string `json:"Note"`
		Information  string `json:"Information"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return &APIError{Function: fn, Message: "invalid JSON response"}
	}
	switch {
	case envelope.ErrorMessage != "":
		return &APIError{Function: fn, Message: envelope.ErrorMessage}
	case envelope.Note != "":
		return &APIError{Function: fn, Message: envelope.Note, RateLimited: true}
	case envelope.Information != "":
		return &APIError{Function: fn, Message: envelope.Information, RateLimited: true}
	}
	return nil
}

// scalarString renders a JSON string or number. "None" and "-" are treated
// as absent.
func scalarString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" || s == "None" || s == "-" {
			return "", false
		}
		return s, true
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64), true
	}
	return "", false
}

func errorMessage(err error) string {
	var apiErr *APIError
	if eris.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}
