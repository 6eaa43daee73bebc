package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/equity-research/internal/db"
	"github.com/sells-group/equity-research/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool      db.Pool
	retention int
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *db.PoolConfig, opts ...Option) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return NewPostgresFromPool(pool, opts...), nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool db.Pool, opts ...Option) *PostgresStore {
	o := buildOptions(opts)
	return &PostgresStore{pool: pool, retention: o.retention}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	ticker       TEXT NOT NULL,
	phase        TEXT NOT NULL,
	status       TEXT NOT NULL,
	degraded     BOOLEAN NOT NULL DEFAULT false,
	abort_reason TEXT NOT NULL DEFAULT '',
	score        INTEGER NOT NULL DEFAULT 0,
	confidence   TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_phases (
	id          TEXT PRIMARY KEY,
	seq         BIGSERIAL,
	run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	name        TEXT NOT NULL,
	status      TEXT NOT NULL,
	payload     JSONB,
	error       TEXT NOT NULL DEFAULT '',
	duration_ms BIGINT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS checkpoints (
	run_id     TEXT PRIMARY KEY,
	phase      TEXT NOT NULL,
	state      JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS reports (
	id         TEXT PRIMARY KEY,
	seq        BIGSERIAL,
	run_id     TEXT NOT NULL UNIQUE,
	ticker     TEXT NOT NULL,
	report     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_ticker ON runs(ticker);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);
CREATE INDEX IF NOT EXISTS idx_reports_ticker_created ON reports(ticker, created_at DESC);
`

const (
	pgRunColumns        = `id, ticker, phase, status, degraded, abort_reason, score, confidence, created_at, updated_at`
	pgSelectCheckpoint  = `SELECT run_id, phase, state, created_at FROM checkpoints`
	pgDeleteCheckpoint  = `DELETE FROM checkpoints WHERE run_id = $1`
	pgSelectReports     = `SELECT id, run_id, ticker, report, created_at FROM reports WHERE ticker = $1 ORDER BY created_at DESC, seq DESC LIMIT $2`
	pgPruneReports      = `DELETE FROM reports WHERE ticker = $1 AND id NOT IN (SELECT id FROM reports WHERE ticker = $1 ORDER BY created_at DESC, seq DESC LIMIT $2)`
	pgInsertReport      = `INSERT INTO reports (id, run_id, ticker, report, created_at) VALUES ($1, $2, $3, $4, $5)`
	pgInsertPhase       = `INSERT INTO run_phases (id, run_id, name, status, payload, error, duration_ms, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	pgSelectRunPhases   = `SELECT name, status, payload, error, duration_ms FROM run_phases WHERE run_id = $1 ORDER BY seq`
	pgListCheckpointsBy = pgSelectCheckpoint + ` WHERE created_at < $1 ORDER BY created_at`
)

var pgCheckpointUpsert = mustUpsert(db.UpsertConfig{
	Table:        "checkpoints",
	Columns:      []string{"run_id", "phase", "state", "created_at"},
	ConflictKeys: []string{"run_id"},
}, db.Dollar)

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, ticker string) (*model.Run, error) {
	now := time.Now().UTC()
	run := &model.Run{
		ID:        uuid.New().String(),
		Ticker:    ticker,
		Phase:     model.PhaseCollecting,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, ticker, phase, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.Ticker, string(run.Phase), string(run.Status), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return run, nil
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *model.Run) error {
	run.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET phase = $1, status = $2, degraded = $3, abort_reason = $4, score = $5, confidence = $6, updated_at = $7
		 WHERE id = $8`,
		string(run.Phase), string(run.Status), run.Degraded, run.AbortReason, run.Score,
		string(run.Confidence), run.UpdatedAt, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: run %s", run.ID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanPgRun(s.pool.QueryRow(ctx, `SELECT `+pgRunColumns+` FROM runs WHERE id = $1`, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	rows, err := s.pool.Query(ctx, pgSelectRunPhases, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list phases %s", runID)
	}
	defer rows.Close()

	for rows.Next() {
		var p model.PhaseResult
		var status string
		var payload []byte
		if err := rows.Scan(&p.Name, &status, &payload, &p.Error, &p.Duration); err != nil {
			return nil, eris.Wrap(err, "postgres: scan phase")
		}
		p.Status = model.PhaseStatus(status)
		if len(payload) > 0 {
			p.Payload = json.RawMessage(payload)
		}
		r.Phases = append(r.Phases, p)
	}
	return r, eris.Wrap(rows.Err(), "postgres: list phases iterate")
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + pgRunColumns + ` FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Ticker != "" {
		query += fmt.Sprintf(` AND ticker = $%d`, argIdx)
		args = append(args, filter.Ticker)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at > $%d`, argIdx)
		args = append(args, filter.CreatedAfter)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) RecordPhase(ctx context.Context, runID string, result model.PhaseResult) error {
	var payload []byte
	if len(result.Payload) > 0 {
		payload = result.Payload
	}
	_, err := s.pool.Exec(ctx, pgInsertPhase,
		uuid.New().String(), runID, result.Name, string(result.Status), payload,
		result.Error, result.Duration, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: record phase %s for run %s", result.Name, runID)
}

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	state, err := json.Marshal(cp.State)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal checkpoint state")
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx, pgCheckpointUpsert, cp.RunID, string(cp.Phase), state, cp.CreatedAt)
	return eris.Wrapf(err, "postgres: save checkpoint %s", cp.RunID)
}

func (s *PostgresStore) LoadCheckpoint(ctx context.Context, runID string) (*model.Checkpoint, error) {
	cp, err := scanPgCheckpoint(s.pool.QueryRow(ctx, pgSelectCheckpoint+` WHERE run_id = $1`, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: checkpoint %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load checkpoint %s", runID)
	}
	return cp, nil
}

func (s *PostgresStore) ResumeCheckpoint(ctx context.Context, runID string) (*model.Checkpoint, error) {
	var cp *model.Checkpoint
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		cp, err = scanPgCheckpoint(tx.QueryRow(ctx, pgSelectCheckpoint+` WHERE run_id = $1 FOR UPDATE`, runID))
		if errors.Is(err, pgx.ErrNoRows) {
			return eris.Wrapf(ErrNotSuspended, "postgres: resume %s", runID)
		}
		if err != nil {
			return eris.Wrapf(err, "postgres: load checkpoint %s", runID)
		}
		tag, err := tx.Exec(ctx, pgDeleteCheckpoint, runID)
		if err != nil {
			return eris.Wrapf(err, "postgres: consume checkpoint %s", runID)
		}
		if tag.RowsAffected() == 0 {
			return eris.Wrapf(ErrNotSuspended, "postgres: resume %s", runID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cp, nil
}

func (s *PostgresStore) DeleteCheckpoint(ctx context.Context, runID string) error {
	_, err := s.pool.Exec(ctx, pgDeleteCheckpoint, runID)
	return eris.Wrapf(err, "postgres: delete checkpoint %s", runID)
}

func (s *PostgresStore) ListCheckpoints(ctx context.Context, createdBefore time.Time) ([]model.Checkpoint, error) {
	if createdBefore.IsZero() {
		createdBefore = time.Now().UTC().Add(time.Hour)
	}
	rows, err := s.pool.Query(ctx, pgListCheckpointsBy, createdBefore)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list checkpoints")
	}
	defer rows.Close()

	var out []model.Checkpoint
	for rows.Next() {
		cp, err := scanPgCheckpoint(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan checkpoint")
		}
		out = append(out, *cp)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list checkpoints iterate")
}

func (s *PostgresStore) PersistReport(ctx context.Context, runID, ticker, body string) (*model.Report, error) {
	r := &model.Report{
		ID:        uuid.New().String(),
		RunID:     runID,
		Ticker:    ticker,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}

	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, pgInsertReport, r.ID, r.RunID, r.Ticker, r.Body, r.CreatedAt); err != nil {
			return eris.Wrapf(err, "postgres: insert report for run %s", runID)
		}
		if s.retention > 0 {
			if _, err := tx.Exec(ctx, pgPruneReports, ticker, s.retention); err != nil {
				return eris.Wrapf(err, "postgres: prune reports for %s", ticker)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *PostgresStore) LatestReport(ctx context.Context, ticker string) (*model.Report, error) {
	reports, err := s.ListReports(ctx, ticker, 1)
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "postgres: report for %s", ticker)
	}
	return &reports[0], nil
}

func (s *PostgresStore) ListReports(ctx context.Context, ticker string, limit int) ([]model.Report, error) {
	rows, err := s.pool.Query(ctx, pgSelectReports, ticker, listLimit(limit))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list reports for %s", ticker)
	}
	defer rows.Close()

	var out []model.Report
	for rows.Next() {
		var r model.Report
		if err := rows.Scan(&r.ID, &r.RunID, &r.Ticker, &r.Body, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan report")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list reports iterate")
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var phase, status, confidence string
	if err := row.Scan(&r.ID, &r.Ticker, &phase, &status, &r.Degraded, &r.AbortReason,
		&r.Score, &confidence, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Phase = model.Phase(phase)
	r.Status = model.RunStatus(status)
	r.Confidence = model.Confidence(confidence)
	return &r, nil
}

func scanPgCheckpoint(row pgx.Row) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	var phase string
	var state []byte
	if err := row.Scan(&cp.RunID, &phase, &state, &cp.CreatedAt); err != nil {
		return nil, err
	}
	cp.Phase = model.Phase(phase)
	if err := json.Unmarshal(state, &cp.State); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal checkpoint %s", cp.RunID)
	}
	return &cp, nil
}
