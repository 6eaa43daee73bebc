package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/equity-research/internal/export"
	"github.com/sells-group/equity-research/internal/model"
	"github.com/sells-group/equity-research/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export run summaries to an XLSX workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openReadStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		out, _ := cmd.Flags().GetString("out")
		status, _ := cmd.Flags().GetString("status")
		ticker, _ := cmd.Flags().GetString("ticker")
		since, _ := cmd.Flags().GetDuration("since")

		filter := store.RunFilter{
			Status: model.RunStatus(status),
			Ticker: strings.ToUpper(ticker),
			Limit:  10000,
		}
		if since > 0 {
			filter.CreatedAfter = time.Now().Add(-since)
		}

		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "export runs")
		}

		if err := export.SaveRuns(out, runs); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(os.Stderr, "Exported %d run(s) to %s\n", len(runs), out)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("out", "runs.xlsx", "output workbook path")
	exportCmd.Flags().String("status", "", "filter by run status")
	exportCmd.Flags().String("ticker", "", "filter by ticker")
	exportCmd.Flags().Duration("since", 0, "only runs created within this window (e.g. 168h)")
	rootCmd.AddCommand(exportCmd)
}
