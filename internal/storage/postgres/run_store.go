// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/modian-insight/internal/runs"
)

var validTablePrefix = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$|^$`)

const defaultListLimit = 50

// Config controls the Postgres connection pool used for crawl-run rows.
type Config struct {
	DSN             string
	TablePrefix     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// RunStore implements runs.Repository using Postgres.
type RunStore struct {
	pool     pool
	runs     string
	failures string
}

var _ runs.Repository = (*RunStore)(nil)

// NewRunStore creates a Postgres-backed RunStore using the provided config.
func NewRunStore(ctx context.Context, cfg Config) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	if !validTablePrefix.MatchString(cfg.TablePrefix) {
		return nil, fmt.Errorf("invalid table prefix %q", cfg.TablePrefix)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewRunStoreWithPool(p, cfg.TablePrefix)
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(p pool, tablePrefix string) (*RunStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if !validTablePrefix.MatchString(tablePrefix) {
		return nil, fmt.Errorf("invalid table prefix %q", tablePrefix)
	}
	return &RunStore{
		pool:     p,
		runs:     tablePrefix + "crawl_runs",
		failures: tablePrefix + "crawl_failures",
	}, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate creates the tables when they do not exist yet.
func (s *RunStore) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id            UUID PRIMARY KEY,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	status        TEXT NOT NULL,
	total         INTEGER NOT NULL DEFAULT 0,
	completed     INTEGER NOT NULL DEFAULT 0,
	failed        INTEGER NOT NULL DEFAULT 0,
	error_message TEXT
);
CREATE TABLE IF NOT EXISTS %[2]s (
	id         BIGSERIAL PRIMARY KEY,
	run_id     UUID NOT NULL REFERENCES %[1]s (id) ON DELETE CASCADE,
	project_id BIGINT NOT NULL,
	reason     TEXT NOT NULL,
	failed_at  TIMESTAMPTZ NOT NULL
);`, s.runs, s.failures)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("migrate crawl run tables: %w", err)
	}
	return nil
}

// StartRun inserts or refreshes a running row.
func (s *RunStore) StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time, total int) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, started_at, status, total, completed, failed)
		VALUES ($1, $2, $3, $4, 0, 0)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, total = EXCLUDED.total;
	`, s.runs)
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, string(runs.StatusRunning), total); err != nil {
		return fmt.Errorf("failed to upsert run start: %w", err)
	}
	return nil
}

// UpdateCounters stores the latest counters.
func (s *RunStore) UpdateCounters(ctx context.Context, runID uuid.UUID, completed, failed int) error {
	query := fmt.Sprintf(`UPDATE %s SET completed = $1, failed = $2 WHERE id = $3;`, s.runs)
	tag, err := s.pool.Exec(ctx, query, completed, failed, runID)
	if err != nil {
		return fmt.Errorf("failed to update run counters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return runs.ErrNotFound
	}
	return nil
}

// RecordFailure appends a failure row.
func (s *RunStore) RecordFailure(ctx context.Context, failure runs.Failure) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (run_id, project_id, reason, failed_at)
		VALUES ($1, $2, $3, $4);
	`, s.failures)
	if _, err := s.pool.Exec(ctx, query, failure.RunID, failure.ProjectID, failure.Reason, failure.At); err != nil {
		return fmt.Errorf("failed to insert run failure: %w", err)
	}
	return nil
}

// CompleteRun marks a run finished with a status and optional error message.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status runs.Status,
	errMsg *string,
) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET finished_at = $1, status = $2, error_message = $3
		WHERE id = $4;
	`, s.runs)
	if _, err := s.pool.Exec(ctx, query, finishedAt, string(status), errMsg, runID); err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (runs.Run, error) {
	query := fmt.Sprintf(`
		SELECT id, started_at, finished_at, status, total, completed, failed, error_message
		FROM %s
		WHERE id = $1;
	`, s.runs)
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return runs.Run{}, runs.ErrNotFound
		}
		return runs.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs newest first, with optional status filtering.
func (s *RunStore) ListRuns(ctx context.Context, status *runs.Status, limit, offset int) ([]runs.Run, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var statusArg *string
	if status != nil {
		v := string(*status)
		statusArg = &v
	}
	query := fmt.Sprintf(`
		SELECT id, started_at, finished_at, status, total, completed, failed, error_message
		FROM %s
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`, s.runs)
	rows, err := s.pool.Query(ctx, query, statusArg, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	out := []runs.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return out, nil
}

// ListFailures retrieves the failures of one run in insertion order.
func (s *RunStore) ListFailures(ctx context.Context, runID uuid.UUID, limit, offset int) ([]runs.Failure, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := fmt.Sprintf(`
		SELECT run_id, project_id, reason, failed_at
		FROM %s
		WHERE run_id = $1
		ORDER BY id ASC
		LIMIT $2 OFFSET $3;
	`, s.failures)
	rows, err := s.pool.Query(ctx, query, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list run failures: %w", err)
	}
	defer rows.Close()

	out := []runs.Failure{}
	for rows.Next() {
		var f runs.Failure
		if err := rows.Scan(&f.RunID, &f.ProjectID, &f.Reason, &f.At); err != nil {
			return nil, fmt.Errorf("failed to scan failure row: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate run failures: %w", err)
	}
	return out, nil
}

func scanRun(row pgx.Row) (runs.Run, error) {
	var (
		run    runs.Run
		status string
	)
	err := row.Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.Total,
		&run.Completed,
		&run.Failed,
		&run.ErrorMessage,
	)
	if err != nil {
		return runs.Run{}, err
	}
	run.Status = runs.Status(status)
	return run, nil
}
