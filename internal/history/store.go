// Package history persists run results to PostgreSQL so flakiness can be
// tracked across runs. History is optional; the runner skips it when no
// database URL is configured.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/nhantruonghcmut/uitf/api/schemas"
)

// DBPool abstracts pgxpool.Pool so tests can substitute a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is the PostgreSQL run-history store.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// Connect opens a pool for the given URL and verifies the connection.
func Connect(ctx context.Context, url string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	return New(ctx, pool, logger)
}

// New creates a store over an existing pool and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("history"),
	}, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    environment TEXT NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL,
    duration_ms BIGINT NOT NULL,
    passed      INT NOT NULL,
    failed      INT NOT NULL,
    skipped     INT NOT NULL,
    broken      INT NOT NULL
);
CREATE TABLE IF NOT EXISTS test_results (
    run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    suite       TEXT NOT NULL,
    name        TEXT NOT NULL,
    platform    TEXT NOT NULL,
    status      TEXT NOT NULL,
    error       TEXT NOT NULL DEFAULT '',
    retries     INT NOT NULL DEFAULT 0,
    started_at  TIMESTAMPTZ NOT NULL,
    duration_ms BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_test_results_case ON test_results (suite, name);
`

// EnsureSchema creates the history tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to ensure history schema: %w", err)
	}
	return nil
}

// SaveRun persists a run and its per-test results in one transaction.
func (s *Store) SaveRun(ctx context.Context, run *schemas.RunResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	passed, failed, skipped, broken := run.Counts()
	_, err = tx.Exec(ctx,
		`INSERT INTO runs (id, environment, started_at, duration_ms, passed, failed, skipped, broken)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.RunID, run.Environment, run.StartedAt.UTC(), run.Duration.Milliseconds(),
		passed, failed, skipped, broken)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if len(run.Results) > 0 {
		rows := make([][]interface{}, len(run.Results))
		for i, tr := range run.Results {
			rows[i] = []interface{}{
				run.RunID, tr.Suite, tr.Name, string(tr.Platform), string(tr.Status),
				tr.Error, tr.Retries, tr.StartedAt.UTC(), tr.Duration.Milliseconds(),
			}
		}
		copyCount, err := tx.CopyFrom(
			ctx,
			pgx.Identifier{"test_results"},
			[]string{"run_id", "suite", "name", "platform", "status", "error", "retries", "started_at", "duration_ms"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("failed to copy test results: %w", err)
		}
		if int(copyCount) != len(run.Results) {
			return fmt.Errorf("mismatch in copied result count: expected %d, got %d", len(run.Results), copyCount)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Run persisted.", zap.String("run_id", run.RunID), zap.Int("results", len(run.Results)))
	return nil
}

// RunSummary is one row of the run history listing.
type RunSummary struct {
	RunID       string
	Environment string
	StartedAt   time.Time
	Duration    time.Duration
	Passed      int
	Failed      int
	Skipped     int
	Broken      int
}

// RecentRuns lists the most recent runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, environment, started_at, duration_ms, passed, failed, skipped, broken
		 FROM runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var durationMs int64
		if err := rows.Scan(&r.RunID, &r.Environment, &r.StartedAt, &durationMs,
			&r.Passed, &r.Failed, &r.Skipped, &r.Broken); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		r.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run rows: %w", err)
	}
	return out, nil
}

// FlakyTest identifies a case that has gone broken or failed repeatedly.
type FlakyTest struct {
	Suite       string
	Name        string
	BrokenCount int
	FailedCount int
	LastSeen    time.Time
}

// FlakyTests returns cases with at least minBroken broken outcomes since the
// given time, most flaky first.
func (s *Store) FlakyTests(ctx context.Context, since time.Time, minBroken int) ([]FlakyTest, error) {
	if minBroken <= 0 {
		minBroken = 1
	}
	rows, err := s.pool.Query(ctx,
		`SELECT suite, name,
		        COUNT(*) FILTER (WHERE status = 'broken') AS broken_count,
		        COUNT(*) FILTER (WHERE status = 'failed') AS failed_count,
		        MAX(started_at) AS last_seen
		 FROM test_results
		 WHERE started_at >= $1
		 GROUP BY suite, name
		 HAVING COUNT(*) FILTER (WHERE status = 'broken') >= $2
		 ORDER BY broken_count DESC, failed_count DESC`,
		since.UTC(), minBroken)
	if err != nil {
		return nil, fmt.Errorf("failed to query flaky tests: %w", err)
	}
	defer rows.Close()

	var out []FlakyTest
	for rows.Next() {
		var f FlakyTest
		if err := rows.Scan(&f.Suite, &f.Name, &f.BrokenCount, &f.FailedCount, &f.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan flaky test row: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating flaky test rows: %w", err)
	}
	return out, nil
}

// Close releases the underlying pool when the store owns one.
func (s *Store) Close() {
	if p, ok := s.pool.(*pgxpool.Pool); ok {
		p.Close()
	}
}
