package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/equity-research/internal/db"
	"github.com/sells-group/equity-research/internal/model"
)

// timeLayout is fixed-width so lexical order matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db        *sql.DB
	retention int
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, opts ...Option) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if dsn == ":memory:" {
		// Every pooled connection would otherwise get its own database.
		conn.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	o := buildOptions(opts)
	return &SQLiteStore{db: conn, retention: o.retention}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	ticker       TEXT NOT NULL,
	phase        TEXT NOT NULL,
	status       TEXT NOT NULL,
	degraded     INTEGER NOT NULL DEFAULT 0,
	abort_reason TEXT NOT NULL DEFAULT '',
	score        INTEGER NOT NULL DEFAULT 0,
	confidence   TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS run_phases (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	name        TEXT NOT NULL,
	status      TEXT NOT NULL,
	payload     TEXT,
	error       TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoints (
	run_id     TEXT PRIMARY KEY,
	phase      TEXT NOT NULL,
	state      TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS reports (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL UNIQUE,
	ticker     TEXT NOT NULL,
	report     TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_ticker ON runs(ticker);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);
CREATE INDEX IF NOT EXISTS idx_reports_ticker_created ON reports(ticker, created_at);
`

var sqliteCheckpointUpsert = mustUpsert(db.UpsertConfig{
	Table:        "checkpoints",
	Columns:      []string{"run_id", "phase", "state", "created_at"},
	ConflictKeys: []string{"run_id"},
}, db.Question)

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, ticker string) (*model.Run, error) {
	now := time.Now().UTC()
	run := &model.Run{
		ID:        uuid.New().String(),
		Ticker:    ticker,
		Phase:     model.PhaseCollecting,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, ticker, phase, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Ticker, string(run.Phase), string(run.Status), formatTime(now), formatTime(now),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return run, nil
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *model.Run) error {
	run.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET phase = ?, status = ?, degraded = ?, abort_reason = ?, score = ?, confidence = ?, updated_at = ?
		 WHERE id = ?`,
		string(run.Phase), string(run.Status), run.Degraded, run.AbortReason, run.Score,
		string(run.Confidence), formatTime(run.UpdatedAt), run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run %s", run.ID)
	}
	return checkRowsAffected(res, "run", run.ID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, ticker, phase, status, degraded, abort_reason, score, confidence, created_at, updated_at
		 FROM runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: run %s", runID)
	}
	if err != nil {
		return nil, err
	}

	phases, err := s.listPhases(ctx, runID)
	if err != nil {
		return nil, err
	}
	r.Phases = phases
	return r, nil
}

func (s *SQLiteStore) listPhases(ctx context.Context, runID string) ([]model.PhaseResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, status, payload, error, duration_ms FROM run_phases WHERE run_id = ? ORDER BY created_at, rowid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list phases %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var phases []model.PhaseResult
	for rows.Next() {
		var p model.PhaseResult
		var payload sql.NullString
		if err := rows.Scan(&p.Name, &p.Status, &payload, &p.Error, &p.Duration); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan phase")
		}
		if payload.Valid {
			p.Payload = json.RawMessage(payload.String)
		}
		phases = append(phases, p)
	}
	return phases, eris.Wrap(rows.Err(), "sqlite: list phases iterate")
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, ticker, phase, status, degraded, abort_reason, score, confidence, created_at, updated_at
		FROM runs WHERE 1=1`
	var args []any

	if filter.Ticker != "" {
		query += ` AND ticker = ?`
		args = append(args, filter.Ticker)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, formatTime(filter.CreatedAfter))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) RecordPhase(ctx context.Context, runID string, result model.PhaseResult) error {
	var payload any
	if len(result.Payload) > 0 {
		payload = string(result.Payload)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_phases (id, run_id, name, status, payload, error, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), runID, result.Name, string(result.Status), payload,
		result.Error, result.Duration, formatTime(time.Now().UTC()),
	)
	return eris.Wrapf(err, "sqlite: record phase %s for run %s", result.Name, runID)
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	state, err := json.Marshal(cp.State)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal checkpoint state")
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, sqliteCheckpointUpsert,
		cp.RunID, string(cp.Phase), string(state), formatTime(cp.CreatedAt),
	)
	return eris.Wrapf(err, "sqlite: save checkpoint %s", cp.RunID)
}

const sqliteSelectCheckpoint = `SELECT run_id, phase, state, created_at FROM checkpoints`

func (s *SQLiteStore) LoadCheckpoint(ctx context.Context, runID string) (*model.Checkpoint, error) {
	cp, err := scanCheckpoint(s.db.QueryRowContext(ctx, sqliteSelectCheckpoint+` WHERE run_id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: checkpoint %s", runID)
	}
	return cp, err
}

func (s *SQLiteStore) ResumeCheckpoint(ctx context.Context, runID string) (*model.Checkpoint, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin resume")
	}
	defer tx.Rollback() //nolint:errcheck

	cp, err := scanCheckpoint(tx.QueryRowContext(ctx, sqliteSelectCheckpoint+` WHERE run_id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotSuspended, "sqlite: resume %s", runID)
	}
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE run_id = ?`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: consume checkpoint %s", runID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, eris.Wrapf(ErrNotSuspended, "sqlite: resume %s", runID)
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit resume")
	}
	return cp, nil
}

func (s *SQLiteStore) DeleteCheckpoint(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE run_id = ?`, runID)
	return eris.Wrapf(err, "sqlite: delete checkpoint %s", runID)
}

func (s *SQLiteStore) ListCheckpoints(ctx context.Context, createdBefore time.Time) ([]model.Checkpoint, error) {
	query := sqliteSelectCheckpoint
	var args []any
	if !createdBefore.IsZero() {
		query += ` WHERE created_at < ?`
		args = append(args, formatTime(createdBefore))
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list checkpoints")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cp)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list checkpoints iterate")
}

func (s *SQLiteStore) PersistReport(ctx context.Context, runID, ticker, body string) (*model.Report, error) {
	r := &model.Report{
		ID:        uuid.New().String(),
		RunID:     runID,
		Ticker:    ticker,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin persist report")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO reports (id, run_id, ticker, report, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.RunID, r.Ticker, r.Body, formatTime(r.CreatedAt),
	); err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert report for run %s", runID)
	}

	if s.retention > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM reports WHERE ticker = ? AND id NOT IN (
				SELECT id FROM reports WHERE ticker = ? ORDER BY created_at DESC, rowid DESC LIMIT ?
			)`,
			ticker, ticker, s.retention,
		); err != nil {
			return nil, eris.Wrapf(err, "sqlite: prune reports for %s", ticker)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit persist report")
	}
	return r, nil
}

func (s *SQLiteStore) LatestReport(ctx context.Context, ticker string) (*model.Report, error) {
	reports, err := s.ListReports(ctx, ticker, 1)
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: report for %s", ticker)
	}
	return &reports[0], nil
}

func (s *SQLiteStore) ListReports(ctx context.Context, ticker string, limit int) ([]model.Report, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, ticker, report, created_at FROM reports
		 WHERE ticker = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		ticker, listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list reports for %s", ticker)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Report
	for rows.Next() {
		var r model.Report
		var created string
		if err := rows.Scan(&r.ID, &r.RunID, &r.Ticker, &r.Body, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan report")
		}
		if r.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list reports iterate")
}

// helpers

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sqlite: parse time %q", s)
	}
	return t, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

// scanRun returns sql.ErrNoRows unwrapped so callers can map it.
func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var created, updated string
	err := row.Scan(&r.ID, &r.Ticker, &r.Phase, &r.Status, &r.Degraded, &r.AbortReason,
		&r.Score, &r.Confidence, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &r, nil
}

func scanCheckpoint(row scannable) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	var state, created string
	err := row.Scan(&cp.RunID, &cp.Phase, &state, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan checkpoint")
	}
	if err := json.Unmarshal([]byte(state), &cp.State); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal checkpoint %s", cp.RunID)
	}
	if cp.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &cp, nil
}

func mustUpsert(cfg db.UpsertConfig, ph db.Placeholder) string {
	stmt, err := db.UpsertSQL(cfg, ph)
	if err != nil {
		panic(err)
	}
	return stmt
}
