package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nhantruonghcmut/uitf/api/schemas"
)

var resultColumns = []string{
	"run_id", "suite", "name", "platform", "status", "error", "retries", "started_at", "duration_ms",
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	store, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return store, mockPool
}

func sampleRun() *schemas.RunResult {
	started := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	return &schemas.RunResult{
		RunID:       "run-1234",
		Environment: "staging",
		StartedAt:   started,
		Duration:    90 * time.Second,
		Results: []schemas.TestResult{
			{Suite: "checkout", Name: "guest purchase", Platform: schemas.PlatformWeb,
				Status: schemas.StatusPassed, StartedAt: started, Duration: 40 * time.Second},
			{Suite: "login", Name: "biometric fallback", Platform: schemas.PlatformAndroid,
				Status: schemas.StatusBroken, Error: "device offline", Retries: 1,
				StartedAt: started.Add(time.Minute), Duration: 20 * time.Second},
		},
	}
}

func TestNewFailsWhenPingFails(t *testing.T) {
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectPing().WillReturnError(errors.New("connection refused"))
	_, err = New(context.Background(), mockPool, zap.NewNop())
	assert.ErrorContains(t, err, "failed to ping database")
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveRun(t *testing.T) {
	store, mockPool := newMockStore(t)
	run := sampleRun()

	mockPool.ExpectBegin()
	mockPool.ExpectExec("INSERT INTO runs").
		WithArgs(run.RunID, run.Environment, run.StartedAt.UTC(), run.Duration.Milliseconds(),
			1, 0, 0, 1).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectCopyFrom(pgx.Identifier{"test_results"}, resultColumns).
		WillReturnResult(2)
	mockPool.ExpectCommit()
	mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

	require.NoError(t, store.SaveRun(context.Background(), run))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveRunRollsBackOnCopyFailure(t *testing.T) {
	store, mockPool := newMockStore(t)
	run := sampleRun()

	mockPool.ExpectBegin()
	mockPool.ExpectExec("INSERT INTO runs").
		WithArgs(run.RunID, run.Environment, run.StartedAt.UTC(), run.Duration.Milliseconds(),
			1, 0, 0, 1).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectCopyFrom(pgx.Identifier{"test_results"}, resultColumns).
		WillReturnError(errors.New("copy blew up"))
	mockPool.ExpectRollback()

	err := store.SaveRun(context.Background(), run)
	assert.ErrorContains(t, err, "failed to copy test results")
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveRunCountMismatch(t *testing.T) {
	store, mockPool := newMockStore(t)
	run := sampleRun()

	mockPool.ExpectBegin()
	mockPool.ExpectExec("INSERT INTO runs").
		WithArgs(run.RunID, run.Environment, run.StartedAt.UTC(), run.Duration.Milliseconds(),
			1, 0, 0, 1).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectCopyFrom(pgx.Identifier{"test_results"}, resultColumns).
		WillReturnResult(1)
	mockPool.ExpectRollback()

	err := store.SaveRun(context.Background(), run)
	assert.ErrorContains(t, err, "mismatch in copied result count")
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	store, mockPool := newMockStore(t)

	mockPool.ExpectExec("CREATE TABLE IF NOT EXISTS runs").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRecentRuns(t *testing.T) {
	store, mockPool := newMockStore(t)
	started := time.Date(2026, 8, 19, 9, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{
		"id", "environment", "started_at", "duration_ms", "passed", "failed", "skipped", "broken",
	}).AddRow("run-1", "staging", started, int64(90000), 10, 1, 0, 2)
	mockPool.ExpectQuery("SELECT id, environment, started_at").
		WithArgs(5).
		WillReturnRows(rows)

	runs, err := store.RecentRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].RunID)
	assert.Equal(t, 90*time.Second, runs[0].Duration)
	assert.Equal(t, 2, runs[0].Broken)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestFlakyTests(t *testing.T) {
	store, mockPool := newMockStore(t)
	since := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	lastSeen := since.AddDate(0, 0, 7)

	rows := pgxmock.NewRows([]string{"suite", "name", "broken_count", "failed_count", "last_seen"}).
		AddRow("login", "biometric fallback", 4, 1, lastSeen).
		AddRow("checkout", "guest purchase", 2, 0, lastSeen)
	mockPool.ExpectQuery("SELECT suite, name").
		WithArgs(since.UTC(), 2).
		WillReturnRows(rows)

	flaky, err := store.FlakyTests(context.Background(), since, 2)
	require.NoError(t, err)
	require.Len(t, flaky, 2)
	assert.Equal(t, "biometric fallback", flaky[0].Name)
	assert.Equal(t, 4, flaky[0].BrokenCount)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
