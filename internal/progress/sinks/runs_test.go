package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/modian-insight/internal/progress"
	"github.com/JakeFAU/modian-insight/internal/runs"
	"github.com/JakeFAU/modian-insight/internal/storage/memory"
)

func TestRunSinkPersistsLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewRunStore()
	sink := NewRunSink(repo, nil)
	runID := uuid.New()
	taskID := progress.UUIDToBytes(runID)
	now := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, sink.Consume(ctx, []progress.Event{
		{TaskID: taskID, TS: now, Stage: progress.StageTaskStart, Total: 3},
		{TaskID: taskID, TS: now.Add(time.Second), Stage: progress.StageProjectDone, ProjectID: 1, Total: 3, Completed: 1},
		{TaskID: taskID, TS: now.Add(2 * time.Second), Stage: progress.StageProjectFailed, ProjectID: 2, Total: 3, Completed: 1, Failed: 1, Note: "fetch failed: http status 500"},
		{TaskID: taskID, TS: now.Add(3 * time.Second), Stage: progress.StageProjectDone, ProjectID: 3, Total: 3, Completed: 2, Failed: 1},
		{TS: now, Stage: progress.StageVersionStored, ProjectID: 3, Version: 1},
	}))

	run, err := repo.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, runs.StatusRunning, run.Status)
	assert.Equal(t, 3, run.Total)
	assert.Equal(t, 2, run.Completed)
	assert.Equal(t, 1, run.Failed)

	failures, err := repo.ListFailures(ctx, runID, 10, 0)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, int64(2), failures[0].ProjectID)
	assert.Equal(t, "fetch failed: http status 500", failures[0].Reason)

	require.NoError(t, sink.Consume(ctx, []progress.Event{
		{TaskID: taskID, TS: now.Add(4 * time.Second), Stage: progress.StageTaskDone, Status: progress.TaskCompleted, Total: 3, Completed: 2, Failed: 1},
	}))
	run, err = repo.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, runs.StatusCompleted, run.Status)
	require.NotNil(t, run.FinishedAt)
	assert.Nil(t, run.ErrorMessage)
}

func TestRunSinkRecordsFailedTask(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewRunStore()
	sink := NewRunSink(repo, nil)
	runID := uuid.New()
	taskID := progress.UUIDToBytes(runID)
	now := time.Now()

	require.NoError(t, sink.Consume(ctx, []progress.Event{
		{TaskID: taskID, TS: now, Stage: progress.StageTaskStart, Total: 5},
		{TaskID: taskID, TS: now, Stage: progress.StageTaskError, Note: "internal error: boom"},
		{TaskID: taskID, TS: now, Stage: progress.StageTaskDone, Status: progress.TaskFailed, Note: "internal error: boom"},
	}))

	run, err := repo.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, runs.StatusFailed, run.Status)
	require.NotNil(t, run.ErrorMessage)
	assert.Equal(t, "internal error: boom", *run.ErrorMessage)
}

// TestRunSinkHandlesErrors surfaces repository failures back to the caller.
func TestRunSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	sink := NewRunSink(memory.NewRunStore(), nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{TaskID: progress.UUIDToBytes(uuid.New()), TS: time.Now(), Stage: progress.StageProjectDone, ProjectID: 1, Completed: 1},
	})
	require.ErrorIs(t, err, runs.ErrNotFound)

	var nilSink *RunSink
	require.NoError(t, nilSink.Consume(context.Background(), nil))
}
