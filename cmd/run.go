package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/equity-research/internal/model"
)

var (
	runTicker string
	runJSON   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run research for a single ticker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		st, err := env.Pipeline.Start(ctx, runTicker)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		zap.L().Info("research run finished",
			zap.String("run_id", st.RunID),
			zap.String("ticker", st.Ticker),
			zap.String("phase", string(st.Phase)),
			zap.Bool("degraded", st.Degraded),
		)

		return writeRunResult(os.Stdout, st, runJSON)
	},
}

func init() {
	runCmd.Flags().StringVar(&runTicker, "ticker", "", "ticker symbol (required)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the full run state as JSON")
	_ = runCmd.MarkFlagRequired("ticker")
	rootCmd.AddCommand(runCmd)
}

// writeRunResult prints a run outcome: the final report for finished runs,
// the conflicts awaiting review for suspended runs, or the abort reason.
func writeRunResult(w io.Writer, st *model.RunState, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	_, _ = fmt.Fprintf(w, "Run %s (%s): %s\n", st.RunID, st.Ticker, st.Phase)

	switch st.Phase {
	case model.PhaseHumanReview:
		_, _ = fmt.Fprintf(w, "\nSuspended for review: %d conflict(s)\n", len(st.Conflicts))
		for _, c := range st.Conflicts {
			_, _ = fmt.Fprintf(w, "  %s: %.2f vs %.2f (%.2f%%)\n",
				c.Metric, c.PrimaryValue, c.ReferenceValue, c.DiffPercent)
		}
		_, _ = fmt.Fprintf(w, "\nResume with: equity-research resume %s [--state edited.json]\n", st.RunID)
	case model.PhaseAborted:
		_, _ = fmt.Fprintf(w, "\nAborted: %s\n", st.AbortReason)
	case model.PhaseDone:
		if st.Degraded {
			_, _ = fmt.Fprintln(w, "(degraded: one or more phases failed)")
		}
		if st.FinalReport != nil {
			_, _ = fmt.Fprintf(w, "\n%s\n", *st.FinalReport)
		}
	}
	return nil
}
