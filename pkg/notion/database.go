package notion

import (
	"context"
	"strings"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// Notion caps rich text objects at 2000 characters and a single request at
// 100 child blocks.
const (
	maxTextLen  = 2000
	maxChildren = 100
)

// Report database property names.
const (
	PropName       = "Name"
	PropRunID      = "Run ID"
	PropConfidence = "Confidence"
	PropScore      = "Completeness"
	PropDegraded   = "Degraded"
	PropPublished  = "Published"
)

// ReportPage is a final research report to publish.
type ReportPage struct {
	RunID       string
	Ticker      string
	Confidence  string
	Score       int
	Degraded    bool
	Body        string
	PublishedAt time.Time
}

// QueryAll fetches all pages from a Notion database, handling pagination.
// The next page is fetched in the background while the current one is
// appended.
func QueryAll(ctx context.Context, c Client, dbID string, filter *notionapi.DatabaseQueryRequest) ([]notionapi.Page, error) {
	var all []notionapi.Page

	nextReq := func(cursor notionapi.Cursor) *notionapi.DatabaseQueryRequest {
		req := &notionapi.DatabaseQueryRequest{StartCursor: cursor}
		if filter != nil {
			req.Filter = filter.Filter
			req.Sorts = filter.Sorts
			req.PageSize = filter.PageSize
		}
		return req
	}

	type prefetchResult struct {
		resp *notionapi.DatabaseQueryResponse
		err  error
	}
	var prefetchCh <-chan prefetchResult

	for {
		var resp *notionapi.DatabaseQueryResponse
		var err error

		if prefetchCh != nil {
			result := <-prefetchCh
			resp, err = result.resp, result.err
		} else {
			resp, err = c.QueryDatabase(ctx, dbID, nextReq(""))
		}
		if err != nil {
			return nil, eris.Wrap(err, "notion: query all page")
		}

		all = append(all, resp.Results...)
		if !resp.HasMore {
			break
		}

		req := nextReq(resp.NextCursor)
		ch := make(chan prefetchResult, 1)
		prefetchCh = ch
		go func() {
			r, e := c.QueryDatabase(ctx, dbID, req)
			ch <- prefetchResult{resp: r, err: e}
		}()
	}

	return all, nil
}

// PublishReport writes a report page to the database. A page already
// published for the same run has its properties updated instead, so
// re-publishing a run is idempotent.
func PublishReport(ctx context.Context, c Client, dbID string, r ReportPage) (*notionapi.Page, error) {
	if dbID == "" {
		return nil, eris.New("notion: report database id is required")
	}
	if r.PublishedAt.IsZero() {
		r.PublishedAt = time.Now().UTC()
	}

	existing, err := QueryAll(ctx, c, dbID, &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: PropRunID,
			RichText: &notionapi.TextFilterCondition{Equals: r.RunID},
		},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "notion: find report for run %s", r.RunID)
	}

	props := reportProperties(r)
	if len(existing) > 0 {
		page, err := c.UpdatePageProperties(ctx, string(existing[0].ID), props)
		if err != nil {
			return nil, eris.Wrapf(err, "notion: update report for run %s", r.RunID)
		}
		return page, nil
	}

	blocks := reportBlocks(r.Body)
	first := blocks[:min(len(blocks), maxChildren)]
	page, err := c.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(dbID),
		},
		Properties: props,
		Children:   first,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "notion: create report for run %s", r.RunID)
	}
	if rest := blocks[len(first):]; len(rest) > 0 {
		if err := c.AppendBlocks(ctx, string(page.ID), rest); err != nil {
			return page, eris.Wrapf(err, "notion: append report body for run %s", r.RunID)
		}
	}
	return page, nil
}

func reportProperties(r ReportPage) notionapi.Properties {
	published := notionapi.Date(r.PublishedAt)
	return notionapi.Properties{
		PropName: notionapi.TitleProperty{
			Type:  notionapi.PropertyTypeTitle,
			Title: richText(r.Ticker),
		},
		PropRunID: notionapi.RichTextProperty{
			Type:     notionapi.PropertyTypeRichText,
			RichText: richText(r.RunID),
		},
		PropConfidence: notionapi.SelectProperty{
			Type:   notionapi.PropertyTypeSelect,
			Select: notionapi.Option{Name: r.Confidence},
		},
		PropScore: notionapi.NumberProperty{
			Type:   notionapi.PropertyTypeNumber,
			Number: float64(r.Score),
		},
		PropDegraded: notionapi.CheckboxProperty{
			Type:     notionapi.PropertyTypeCheckbox,
			Checkbox: r.Degraded,
		},
		PropPublished: notionapi.DateProperty{
			Type: notionapi.PropertyTypeDate,
			Date: &notionapi.DateObject{Start: &published},
		},
	}
}

// reportBlocks renders markdown as Notion blocks: "#" and "##" lines become
// headings, blank-line separated text becomes paragraphs.
func reportBlocks(body string) []notionapi.Block {
	var blocks []notionapi.Block
	var para []string

	flush := func() {
		if len(para) == 0 {
			return
		}
		text := strings.Join(para, "\n")
		para = nil
		for _, chunk := range chunkText(text, maxTextLen) {
			blocks = append(blocks, notionapi.ParagraphBlock{
				BasicBlock: notionapi.BasicBlock{Object: notionapi.ObjectTypeBlock, Type: notionapi.BlockTypeParagraph},
				Paragraph:  notionapi.Paragraph{RichText: richText(chunk)},
			})
		}
	}

	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			flush()
		case strings.HasPrefix(trimmed, "# "):
			flush()
			blocks = append(blocks, notionapi.Heading1Block{
				BasicBlock: notionapi.BasicBlock{Object: notionapi.ObjectTypeBlock, Type: notionapi.BlockTypeHeading1},
				Heading1:   notionapi.Heading{RichText: richText(strings.TrimPrefix(trimmed, "# "))},
			})
		case strings.HasPrefix(trimmed, "## "):
			flush()
			blocks = append(blocks, notionapi.Heading2Block{
				BasicBlock: notionapi.BasicBlock{Object: notionapi.ObjectTypeBlock, Type: notionapi.BlockTypeHeading2},
				Heading2:   notionapi.Heading{RichText: richText(strings.TrimLeft(trimmed, "# "))},
			})
		default:
			para = append(para, line)
		}
	}
	flush()
	return blocks
}

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}}}
}

// chunkText splits s into pieces of at most n runes.
func chunkText(s string, n int) []string {
	runes := []rune(s)
	if len(runes) <= n {
		return []string{s}
	}
	var out []string
	for len(runes) > 0 {
		end := min(n, len(runes))
		out = append(out, string(runes[:end]))
		runes = runes[end:]
	}
	return out
}
