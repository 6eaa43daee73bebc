package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/equity-research/internal/config"
	"github.com/sells-group/equity-research/internal/monitoring"
	"github.com/sells-group/equity-research/internal/store"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Print a run health snapshot and send any triggered alerts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openReadStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snap, alerts, err := newChecker(st, cfg.Monitoring).Check(ctx)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Snapshot *monitoring.MetricsSnapshot `json:"snapshot"`
			Alerts   []monitoring.Alert          `json:"alerts"`
		}{snap, alerts})
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func newChecker(st store.Store, mc config.MonitoringConfig) *monitoring.Checker {
	collector := monitoring.NewCollector(st, time.Duration(mc.StaleReviewHours)*time.Hour)
	return monitoring.NewChecker(collector, monitoring.NewAlerter(mc), mc)
}
