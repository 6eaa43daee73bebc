package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/equity-research/internal/export"
	"github.com/sells-group/equity-research/internal/model"
)

func seedStore(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	cfg = testConfig()
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "runs.db")

	st, err := initStore(ctx)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	for _, ticker := range []string{"AAPL", "MSFT"} {
		run, err := st.CreateRun(ctx, ticker)
		require.NoError(t, err)
		run.Phase = model.PhaseDone
		run.Status = model.RunStatusDone
		run.Score = 100
		run.Confidence = model.ConfidenceHigh
		require.NoError(t, st.UpdateRun(ctx, run))
	}
	return cfg.Store.SQLitePath
}

func TestExportCmd(t *testing.T) {
	seedStore(t)
	out := filepath.Join(t.TempDir(), "runs.xlsx")

	require.NoError(t, exportCmd.Flags().Set("out", out))
	require.NoError(t, exportCmd.Flags().Set("ticker", "aapl"))
	defer func() {
		_ = exportCmd.Flags().Set("out", "runs.xlsx")
		_ = exportCmd.Flags().Set("ticker", "")
	}()
	exportCmd.SetContext(context.Background())

	require.NoError(t, exportCmd.RunE(exportCmd, nil))

	rows, err := export.ReadRows(out, export.RunsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "AAPL", rows[1][1])
	assert.Equal(t, "done", rows[1][2])
}

func TestMonitorCmd(t *testing.T) {
	seedStore(t)
	cfg.Monitoring.LookbackHours = 24
	monitorCmd.SetContext(context.Background())

	require.NoError(t, monitorCmd.RunE(monitorCmd, nil))
}

func TestNewChecker(t *testing.T) {
	seedStore(t)
	st, err := initStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	cfg.Monitoring.LookbackHours = 24
	cfg.Monitoring.StaleReviewHours = 24
	snap, alerts, err := newChecker(st, cfg.Monitoring).Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, snap.RunsDone)
	assert.InDelta(t, 100.0, snap.AvgScore, 1e-9)
	assert.Empty(t, alerts)
}
