package main

import (
	"context"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/equity-research/internal/export"
	"github.com/sells-group/equity-research/internal/model"
)

var (
	batchLimit int
	batchFile  string
)

var batchCmd = &cobra.Command{
	Use:   "batch [ticker...]",
	Short: "Run research for several tickers concurrently",
	Long:  "Runs research for the tickers given as arguments and, with --file, for the tickers in the first column of an XLSX workbook.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		tickers := args
		if batchFile != "" {
			fromFile, err := export.ReadTickers(batchFile)
			if err != nil {
				return eris.Wrap(err, "read ticker file")
			}
			tickers = append(tickers, fromFile...)
		}
		if len(tickers) == 0 {
			return eris.New("batch: no tickers given")
		}

		env, err := initPipeline(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		sum, err := processBatch(ctx, tickers, batchLimit, cfg.Pipeline.BatchConcurrency, env.Pipeline.Start)
		if err != nil {
			return err
		}
		if len(sum.Suspended) > 0 {
			zap.L().Info("runs waiting for review", zap.Strings("run_ids", sum.Suspended))
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().IntVar(&batchLimit, "limit", 100, "max number of tickers to process")
	batchCmd.Flags().StringVar(&batchFile, "file", "", "XLSX workbook with tickers in the first column")
	rootCmd.AddCommand(batchCmd)
}

// startFunc is the callback signature for running research on a ticker.
type startFunc func(ctx context.Context, ticker string) (*model.RunState, error)

// batchSummary counts batch outcomes.
type batchSummary struct {
	Done      int
	Degraded  int
	Aborted   int
	Failed    int
	Suspended []string
}

// processBatch dedupes and limits tickers, then runs them concurrently. A
// failed ticker never stops the others.
func processBatch(ctx context.Context, tickers []string, limit, concurrency int, start startFunc) (batchSummary, error) {
	var sum batchSummary

	tickers = dedupeTickers(tickers)
	if len(tickers) == 0 {
		zap.L().Info("no tickers to process")
		return sum, nil
	}
	if limit > 0 && len(tickers) > limit {
		tickers = tickers[:limit]
	}
	if concurrency < 1 {
		concurrency = 1
	}

	zap.L().Info("processing batch",
		zap.Int("tickers", len(tickers)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var mu sync.Mutex
	for _, ticker := range tickers {
		g.Go(func() error {
			log := zap.L().With(zap.String("ticker", ticker))

			st, err := start(gctx, ticker)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				sum.Failed++
				log.Error("research run failed", zap.Error(err))
				return nil
			}

			switch st.Phase {
			case model.PhaseDone:
				sum.Done++
				if st.Degraded {
					sum.Degraded++
				}
			case model.PhaseAborted:
				sum.Aborted++
			case model.PhaseHumanReview:
				sum.Suspended = append(sum.Suspended, st.RunID)
			}
			log.Info("research run finished",
				zap.String("run_id", st.RunID),
				zap.String("phase", string(st.Phase)),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return sum, eris.Wrap(err, "batch processing")
	}

	zap.L().Info("batch complete",
		zap.Int("done", sum.Done),
		zap.Int("degraded", sum.Degraded),
		zap.Int("aborted", sum.Aborted),
		zap.Int("suspended", len(sum.Suspended)),
		zap.Int("failed", sum.Failed),
	)
	return sum, nil
}

func dedupeTickers(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
