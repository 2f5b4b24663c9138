package sinks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/modian-insight/internal/progress"
	"github.com/JakeFAU/modian-insight/internal/runs"
)

// RunSink persists task lifecycles and per-project failures via a
// runs.Repository. Counter updates are collapsed per task within a batch to
// reduce write amplification.
type RunSink struct {
	repo   runs.Repository
	logger *zap.Logger
}

// NewRunSink constructs a RunSink for the provided repository.
func NewRunSink(repo runs.Repository, logger *zap.Logger) *RunSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunSink{repo: repo, logger: logger}
}

type counters struct {
	completed, failed int
}

// Consume forwards lifecycle events in order. It respects ctx deadlines and
// returns the first repository error.
func (s *RunSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	pending := make(map[uuid.UUID]counters)

	for _, evt := range batch {
		if !evt.HasTask() {
			continue
		}
		runID := evt.TaskUUID()
		switch evt.Stage {
		case progress.StageTaskStart:
			if err := s.repo.StartRun(ctx, runID, evt.TS, evt.Total); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageProjectDone:
			pending[runID] = counters{completed: evt.Completed, failed: evt.Failed}
		case progress.StageProjectFailed:
			pending[runID] = counters{completed: evt.Completed, failed: evt.Failed}
			if err := s.repo.RecordFailure(ctx, runs.Failure{
				RunID:     runID,
				ProjectID: evt.ProjectID,
				Reason:    evt.Note,
				At:        evt.TS,
			}); err != nil {
				return fmt.Errorf("record failure: %w", err)
			}
		case progress.StageTaskDone:
			delete(pending, runID)
			if err := s.repo.UpdateCounters(ctx, runID, evt.Completed, evt.Failed); err != nil {
				return fmt.Errorf("update counters: %w", err)
			}
			status := runs.StatusCompleted
			var note *string
			if evt.Status == progress.TaskFailed {
				status = runs.StatusFailed
			}
			if evt.Note != "" {
				note = &evt.Note
			}
			if err := s.repo.CompleteRun(ctx, runID, evt.TS, status, note); err != nil {
				return fmt.Errorf("complete run: %w", err)
			}
		}
	}

	for runID, c := range pending {
		if err := s.repo.UpdateCounters(ctx, runID, c.completed, c.failed); err != nil {
			return fmt.Errorf("update counters: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *RunSink) Close(context.Context) error {
	return nil
}
