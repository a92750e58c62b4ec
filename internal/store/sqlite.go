package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"polyagents/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ RunStore = (*SQLiteStore)(nil)

// SQLiteStore implements RunStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer at a time; SQLite serialises writes anyway.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", dbPath, err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var schema = []string{
	`PRAGMA foreign_keys = ON`,
	`CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		created_at  INTEGER NOT NULL,
		planner     TEXT NOT NULL,
		universe    TEXT NOT NULL,
		plan        TEXT NOT NULL,
		start_ms    INTEGER,
		end_ms      INTEGER,
		stats       TEXT NOT NULL,
		error       TEXT NOT NULL DEFAULT '',
		rebalances  INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS runs_created_at ON runs (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS equity_points (
		run_id  TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
		seq     INTEGER NOT NULL,
		ts      INTEGER NOT NULL,
		equity  REAL NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`,
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts a run and its curve in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *domain.Run) error {
	plan, err := json.Marshal(run.Plan)
	if err != nil {
		return fmt.Errorf("encoding plan: %w", err)
	}
	universe, err := json.Marshal(run.Plan.Universe)
	if err != nil {
		return fmt.Errorf("encoding universe: %w", err)
	}
	stats, err := json.Marshal(run.Stats)
	if err != nil {
		return fmt.Errorf("encoding stats: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, created_at, planner, universe, plan, start_ms, end_ms, stats, error, rebalances)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.UnixMilli(), run.Planner, string(universe), string(plan),
		nullableMillis(run.Start), nullableMillis(run.End), string(stats), run.Error, run.Rebalances,
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO equity_points (run_id, seq, ts, equity) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, p := range run.Curve {
		if _, err := stmt.ExecContext(ctx, run.ID, i, p.Time.UnixMilli(), p.Value); err != nil {
			return fmt.Errorf("inserting equity point %d of run %s: %w", i, run.ID, err)
		}
	}

	return tx.Commit()
}

// GetRun retrieves a run with its curve.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	var (
		run            domain.Run
		created        int64
		plan, stats    string
		startMs, endMs sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, planner, plan, start_ms, end_ms, stats, error, rebalances
		 FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &created, &run.Planner, &plan, &startMs, &endMs, &stats, &run.Error, &run.Rebalances)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading run %s: %w", id, err)
	}

	run.CreatedAt = time.UnixMilli(created).UTC()
	run.Start = fromNullableMillis(startMs)
	run.End = fromNullableMillis(endMs)
	if err := json.Unmarshal([]byte(plan), &run.Plan); err != nil {
		return nil, fmt.Errorf("decoding plan of run %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(stats), &run.Stats); err != nil {
		return nil, fmt.Errorf("decoding stats of run %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT ts, equity FROM equity_points WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("reading curve of run %s: %w", id, err)
	}
	defer rows.Close()

	run.Curve = []domain.EquityPoint{}
	for rows.Next() {
		var ts int64
		var p domain.EquityPoint
		if err := rows.Scan(&ts, &p.Value); err != nil {
			return nil, err
		}
		p.Time = time.UnixMilli(ts).UTC()
		run.Curve = append(run.Curve, p)
	}
	return &run, rows.Err()
}

// ListRuns returns run summaries, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, planner, universe, stats, error
		 FROM runs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []domain.RunSummary
	for rows.Next() {
		var (
			r               domain.RunSummary
			created         int64
			universe, stats string
		)
		if err := rows.Scan(&r.ID, &created, &r.Planner, &universe, &stats, &r.Error); err != nil {
			return nil, err
		}
		r.CreatedAt = time.UnixMilli(created).UTC()
		if err := json.Unmarshal([]byte(universe), &r.Universe); err != nil {
			return nil, fmt.Errorf("decoding universe of run %s: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(stats), &r.Stats); err != nil {
			return nil, fmt.Errorf("decoding stats of run %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullableMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullableMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
