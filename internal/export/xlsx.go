// Package export writes run summaries to spreadsheets and reads ticker
// lists back from them.
package export

import (
	"io"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/equity-research/internal/model"
)

const (
	RunsSheet    = "Runs"
	SummarySheet = "Summary"
)

var runHeader = []string{
	"Run ID", "Ticker", "Status", "Phase", "Degraded",
	"Completeness Score", "Confidence", "Abort Reason", "Created", "Updated",
}

// RunsWorkbook builds a workbook with one row per run and a per-status
// summary sheet.
func RunsWorkbook(runs []model.Run) (*xlsx.File, error) {
	f := xlsx.NewFile()

	sheet, err := f.AddSheet(RunsSheet)
	if err != nil {
		return nil, eris.Wrap(err, "export: add runs sheet")
	}
	addStrings(sheet.AddRow(), runHeader...)

	counts := map[model.RunStatus]int{}
	degraded := 0
	for _, r := range runs {
		row := sheet.AddRow()
		addStrings(row, r.ID, r.Ticker, string(r.Status), string(r.Phase))
		row.AddCell().SetBool(r.Degraded)
		row.AddCell().SetInt(r.Score)
		addStrings(row, string(r.Confidence), r.AbortReason)
		row.AddCell().SetDateTime(r.CreatedAt)
		row.AddCell().SetDateTime(r.UpdatedAt)

		counts[r.Status]++
		if r.Degraded {
			degraded++
		}
	}

	summary, err := f.AddSheet(SummarySheet)
	if err != nil {
		return nil, eris.Wrap(err, "export: add summary sheet")
	}
	addStrings(summary.AddRow(), "Status", "Runs")

	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		row := summary.AddRow()
		addStrings(row, s)
		row.AddCell().SetInt(counts[model.RunStatus(s)])
	}

	row := summary.AddRow()
	addStrings(row, "degraded")
	row.AddCell().SetInt(degraded)
	row = summary.AddRow()
	addStrings(row, "total")
	row.AddCell().SetInt(len(runs))

	return f, nil
}

// WriteRuns writes the runs workbook to w.
func WriteRuns(w io.Writer, runs []model.Run) error {
	f, err := RunsWorkbook(runs)
	if err != nil {
		return err
	}
	return eris.Wrap(f.Write(w), "export: write workbook")
}

// SaveRuns writes the runs workbook to path.
func SaveRuns(path string, runs []model.Run) error {
	out, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	if err := WriteRuns(out, runs); err != nil {
		out.Close() //nolint:errcheck
		return err
	}
	return eris.Wrapf(out.Close(), "export: close %s", path)
}

// ReadRows returns every row of the named sheet as strings. An empty name
// selects the first sheet.
func ReadRows(path, sheetName string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "export: open workbook")
	}
	sheet, err := getSheet(f, sheetName)
	if err != nil {
		return nil, err
	}

	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		rows = append(rows, rowToStrings(row))
	}
	return rows, nil
}

// ReadTickers reads tickers from the first column of the first sheet. Blank
// cells, duplicates and a "ticker" header are skipped; symbols are
// upper-cased.
func ReadTickers(path string) ([]string, error) {
	rows, err := ReadRows(path, "")
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var tickers []string
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		t := strings.ToUpper(strings.TrimSpace(row[0]))
		if t == "" || t == "TICKER" || t == "SYMBOL" || seen[t] {
			continue
		}
		seen[t] = true
		tickers = append(tickers, t)
	}
	return tickers, nil
}

func getSheet(f *xlsx.File, name string) (*xlsx.Sheet, error) {
	if name != "" {
		sheet, ok := f.Sheet[name]
		if !ok {
			return nil, eris.Errorf("export: sheet %q not found", name)
		}
		return sheet, nil
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("export: workbook has no sheets")
	}
	return f.Sheets[0], nil
}

func addStrings(row *xlsx.Row, values ...string) {
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
