package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report <ticker>",
	Short: "Print the latest persisted report for a ticker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("read"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ticker := strings.ToUpper(strings.TrimSpace(args[0]))
		rep, err := st.LatestReport(ctx, ticker)
		if err != nil {
			return eris.Wrapf(err, "report %s", ticker)
		}

		_, _ = fmt.Fprintf(os.Stderr, "run %s, %s\n", rep.RunID, rep.CreatedAt.Format("2006-01-02 15:04"))
		_, _ = fmt.Fprintln(os.Stdout, rep.Body)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
}
