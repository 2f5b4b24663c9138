package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/modian-insight/internal/runs"
)

func newMockStore(t *testing.T, prefix string) (*RunStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewRunStoreWithPool(mock, prefix)
	require.NoError(t, err)
	return store, mock
}

func TestNewRunStoreWithPoolValidatesPrefix(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewRunStoreWithPool(mock, "bad-prefix;")
	require.Error(t, err)
	_, err = NewRunStoreWithPool(nil, "")
	require.Error(t, err)
}

func TestMigrateCreatesTables(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, "insight_")
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS insight_crawl_runs").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLifecycleStatements(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, "")
	ctx := context.Background()
	runID := uuid.New()
	started := time.Unix(1700000000, 0).UTC()
	finished := started.Add(time.Minute)
	msg := "loop panicked"

	mock.ExpectExec("INSERT INTO crawl_runs").
		WithArgs(runID, started, "running", 10).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE crawl_runs SET completed").
		WithArgs(4, 1, runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO crawl_failures").
		WithArgs(runID, int64(42), "fetch failed", finished).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE crawl_runs").
		WithArgs(finished, "failed", &msg, runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.StartRun(ctx, runID, started, 10))
	require.NoError(t, store.UpdateCounters(ctx, runID, 4, 1))
	require.NoError(t, store.RecordFailure(ctx, runs.Failure{RunID: runID, ProjectID: 42, Reason: "fetch failed", At: finished}))
	require.NoError(t, store.CompleteRun(ctx, runID, finished, runs.StatusFailed, &msg))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateCountersMissingRun(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, "")
	runID := uuid.New()
	mock.ExpectExec("UPDATE crawl_runs SET completed").
		WithArgs(1, 0, runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.ErrorIs(t, store.UpdateCounters(context.Background(), runID, 1, 0), runs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRun(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, "")
	runID := uuid.New()
	started := time.Unix(1700000000, 0).UTC()
	finished := started.Add(time.Hour)

	mock.ExpectQuery("SELECT id, started_at").
		WithArgs(runID).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "started_at", "finished_at", "status", "total", "completed", "failed", "error_message",
		}).AddRow(runID, started, &finished, "completed", 3, 2, 1, nil))

	run, err := store.GetRun(context.Background(), runID)
	require.NoError(t, err)
	require.Equal(t, runID, run.ID)
	require.Equal(t, runs.StatusCompleted, run.Status)
	require.Equal(t, 3, run.Total)
	require.Equal(t, 2, run.Completed)
	require.Equal(t, 1, run.Failed)
	require.NotNil(t, run.FinishedAt)
	require.Nil(t, run.ErrorMessage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, "")
	runID := uuid.New()
	mock.ExpectQuery("SELECT id, started_at").
		WithArgs(runID).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "started_at", "finished_at", "status", "total", "completed", "failed", "error_message",
		}))

	_, err := store.GetRun(context.Background(), runID)
	require.ErrorIs(t, err, runs.ErrNotFound)
}

func TestListRunsAndFailures(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, "")
	runID := uuid.New()
	started := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("FROM crawl_runs").
		WithArgs(pgxmock.AnyArg(), 50, 0).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "started_at", "finished_at", "status", "total", "completed", "failed", "error_message",
		}).AddRow(runID, started, nil, "running", 5, 1, 0, nil))
	mock.ExpectQuery("FROM crawl_failures").
		WithArgs(runID, 10, 0).
		WillReturnRows(pgxmock.NewRows([]string{"run_id", "project_id", "reason", "failed_at"}).
			AddRow(runID, int64(9), "parse failed", started))

	running := runs.StatusRunning
	list, err := store.ListRuns(context.Background(), &running, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, runs.StatusRunning, list[0].Status)
	require.Nil(t, list[0].FinishedAt)

	failures, err := store.ListFailures(context.Background(), runID, 10, 0)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	require.Equal(t, int64(9), failures[0].ProjectID)
	require.Equal(t, "parse failed", failures[0].Reason)
	require.NoError(t, mock.ExpectationsWereMet())
}
