package executor

import (
	"encoding/json"
	"strings"

	"github.com/sells-group/equity-research/internal/model"
)

// DataSummary renders the collection for the synthesizer: the raw tool text
// followed by the news items as JSON.
func DataSummary(c model.CollectionPayload) string {
	news := c.News
	if news == nil {
		news = []model.NewsItem{}
	}
	data, err := json.MarshalIndent(news, "", "  ")
	if err != nil {
		data = []byte("[]")
	}

	var b strings.Builder
	b.WriteString("RAW TOOL OUTPUTS:\n")
	b.WriteString(strings.TrimSpace(c.RawText))
	b.WriteString("\n\nSTRUCTURED NEWS DATA:\n")
	b.Write(data)
	return b.String()
}
