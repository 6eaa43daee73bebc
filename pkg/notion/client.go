// Package notion publishes research reports to a Notion database through a
// rate-limited API client.
package notion

import (
	"context"
	"errors"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/equity-research/internal/resilience"
)

// Client is the Notion surface report publishing needs: find a run's page,
// create it, refresh its properties and append body blocks past the create
// request's child limit.
type Client interface {
	QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
	CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error)
	UpdatePageProperties(ctx context.Context, pageID string, props notionapi.Properties) (*notionapi.Page, error)
	AppendBlocks(ctx context.Context, blockID string, blocks []notionapi.Block) error
}

// ClientOption configures the Notion client.
type ClientOption func(*notionClient)

// WithRateLimit overrides the default Notion rate limit (3 req/s). Zero
// disables throttling.
func WithRateLimit(rps float64) ClientOption {
	return func(c *notionClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

// WithRetryPolicy overrides the retry policy for transient Notion failures.
func WithRetryPolicy(p resilience.Policy) ClientOption {
	return func(c *notionClient) {
		c.retry = p
	}
}

// withServices swaps the notionapi services, for tests.
func withServices(db notionapi.DatabaseService, pages notionapi.PageService, blocks notionapi.BlockService) ClientOption {
	return func(c *notionClient) {
		c.db, c.pages, c.blocks = db, pages, blocks
	}
}

type notionClient struct {
	db      notionapi.DatabaseService
	pages   notionapi.PageService
	blocks  notionapi.BlockService
	limiter *rate.Limiter
	retry   resilience.Policy
}

// NewClient creates a Notion client for the integration token. Calls are
// throttled to 3 req/s and server-side failures are retried.
func NewClient(token string, opts ...ClientOption) Client {
	api := notionapi.NewClient(notionapi.Token(token))
	c := &notionClient{
		db:      api.Database,
		pages:   api.Page,
		blocks:  api.Block,
		limiter: rate.NewLimiter(3, 1),
		retry:   resilience.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.LogRetries("notion", "publish")
	}
	return c
}

// call throttles, runs fn and retries it while the failure is transient.
func call[T any](ctx context.Context, c *notionClient, fn func(ctx context.Context) (T, error)) (T, error) {
	return resilience.Retry(ctx, c.retry, func(ctx context.Context) (T, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				var zero T
				return zero, eris.Wrap(err, "notion: rate limit")
			}
		}
		v, err := fn(ctx)
		return v, classify(err)
	})
}

// classify marks Notion failures worth retrying. notionapi already waits out
// 429s itself, so an exhausted rate limit is still retried once the backoff
// has passed; 409 is Notion's conflict on concurrent page edits.
func classify(err error) error {
	if err == nil || resilience.IsTransient(err) {
		return err
	}
	var limited *notionapi.RateLimitedError
	if errors.As(err, &limited) {
		return resilience.NewTransientError(err, 429)
	}
	var apiErr *notionapi.Error
	if errors.As(err, &apiErr) {
		if resilience.IsTransientStatus(apiErr.Status) || apiErr.Status == 409 {
			return resilience.NewTransientError(err, apiErr.Status)
		}
	}
	return err
}

func (c *notionClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	resp, err := call(ctx, c, func(ctx context.Context) (*notionapi.DatabaseQueryResponse, error) {
		return c.db.Query(ctx, notionapi.DatabaseID(dbID), req)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "notion: query database %s", dbID)
	}
	return resp, nil
}

func (c *notionClient) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	page, err := call(ctx, c, func(ctx context.Context) (*notionapi.Page, error) {
		return c.pages.Create(ctx, req)
	})
	if err != nil {
		return nil, eris.Wrap(err, "notion: create page")
	}
	return page, nil
}

func (c *notionClient) UpdatePageProperties(ctx context.Context, pageID string, props notionapi.Properties) (*notionapi.Page, error) {
	page, err := call(ctx, c, func(ctx context.Context) (*notionapi.Page, error) {
		return c.pages.Update(ctx, notionapi.PageID(pageID), &notionapi.PageUpdateRequest{Properties: props})
	})
	if err != nil {
		return nil, eris.Wrapf(err, "notion: update page %s", pageID)
	}
	return page, nil
}

// AppendBlocks adds blocks under blockID in batches of the API's child limit.
func (c *notionClient) AppendBlocks(ctx context.Context, blockID string, blocks []notionapi.Block) error {
	for start := 0; start < len(blocks); start += maxChildren {
		batch := blocks[start:min(start+maxChildren, len(blocks))]
		_, err := call(ctx, c, func(ctx context.Context) (*notionapi.AppendBlockChildrenResponse, error) {
			return c.blocks.AppendChildren(ctx, notionapi.BlockID(blockID), &notionapi.AppendBlockChildrenRequest{Children: batch})
		})
		if err != nil {
			return eris.Wrapf(err, "notion: append blocks %d-%d to %s", start, start+len(batch), blockID)
		}
	}
	return nil
}
