package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/equity-research/internal/model"
	"github.com/sells-group/equity-research/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for research runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		if cfg.Pipeline.ReviewTimeoutSecs > 0 {
			go sweepExpired(ctx, env.Pipeline, time.Duration(cfg.Pipeline.SweepIntervalSecs)*time.Second)
		}
		if cfg.Monitoring.Enabled {
			go newChecker(env.Store, cfg.Monitoring).Run(ctx)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		api := &apiServer{store: env.Store, runner: env.Pipeline, baseCtx: ctx}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(api, cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// runner starts and resumes research runs.
type runner interface {
	Start(ctx context.Context, ticker string) (*model.RunState, error)
	Resume(ctx context.Context, runID string, edited *model.RunState) (*model.RunState, error)
}

// expirer resumes runs whose review window has elapsed.
type expirer interface {
	ResumeExpired(ctx context.Context) (int, error)
}

// sweepExpired periodically resumes suspended runs past the review timeout.
func sweepExpired(ctx context.Context, p expirer, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	log := zap.L().With(zap.String("component", "review.sweeper"))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.ResumeExpired(ctx)
			if err != nil {
				log.Error("resume expired runs", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("resumed expired runs", zap.Int("count", n))
			}
		}
	}
}

// apiServer holds the HTTP handlers' dependencies.
type apiServer struct {
	store  store.Store
	runner runner
	// baseCtx outlives requests; asynchronous runs use it.
	baseCtx context.Context
}

// newRouter builds the chi router for the API.
func newRouter(s *apiServer, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/runs", func(r chi.Router) {
		r.Post("/", s.startRun)
		r.Get("/", s.listRuns)
		r.Get("/{id}", s.getRun)
		r.Get("/{id}/checkpoint", s.getCheckpoint)
		r.Post("/{id}/resume", s.resumeRun)
	})
	r.Get("/reports/{ticker}", s.latestReport)

	return r
}

// runSummary is the response body for started and resumed runs.
type runSummary struct {
	RunID       string           `json:"run_id"`
	Ticker      string           `json:"ticker"`
	Phase       model.Phase      `json:"phase"`
	Degraded    bool             `json:"degraded"`
	AbortReason string           `json:"abort_reason,omitempty"`
	Conflicts   []model.Conflict `json:"conflicts,omitempty"`
	Report      *string          `json:"report,omitempty"`
}

func summarize(st *model.RunState) runSummary {
	return runSummary{
		RunID:       st.RunID,
		Ticker:      st.Ticker,
		Phase:       st.Phase,
		Degraded:    st.Degraded,
		AbortReason: st.AbortReason,
		Conflicts:   st.Conflicts,
		Report:      st.FinalReport,
	}
}

func (s *apiServer) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) startRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ticker string `json:"ticker"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ticker := strings.ToUpper(strings.TrimSpace(req.Ticker))
	if ticker == "" {
		writeError(w, http.StatusBadRequest, "ticker is required")
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		go func() {
			st, err := s.runner.Start(s.baseCtx, ticker)
			if err != nil {
				zap.L().Error("async research run failed", zap.String("ticker", ticker), zap.Error(err))
				return
			}
			zap.L().Info("async research run finished",
				zap.String("run_id", st.RunID),
				zap.String("phase", string(st.Phase)),
			)
		}()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "ticker": ticker})
		return
	}

	st, err := s.runner.Start(r.Context(), ticker)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, summarize(st))
}

func (s *apiServer) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{
		Status: model.RunStatus(q.Get("status")),
		Ticker: strings.ToUpper(q.Get("ticker")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *apiServer) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *apiServer) getCheckpoint(w http.ResponseWriter, r *http.Request) {
	cp, err := s.store.LoadCheckpoint(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

func (s *apiServer) resumeRun(w http.ResponseWriter, r *http.Request) {
	var edited *model.RunState
	if r.ContentLength != 0 {
		var st model.RunState
		if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
			writeError(w, http.StatusBadRequest, "invalid run state")
			return
		}
		edited = &st
	}

	st, err := s.runner.Resume(r.Context(), chi.URLParam(r, "id"), edited)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(st))
}

func (s *apiServer) latestReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.store.LatestReport(r.Context(), strings.ToUpper(chi.URLParam(r, "ticker")))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps sentinel errors to HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrNotSuspended):
		writeError(w, http.StatusConflict, "run is not suspended")
	case errors.Is(err, model.ErrMissingTicker):
		writeError(w, http.StatusBadRequest, "ticker is required")
	default:
		zap.L().Error("api request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
