package runs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("crawl run not found")

// Status mirrors the crawl_runs status column.
type Status string

// Run statuses persisted in crawl_runs.status.
const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusRunning, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Run models one crawl task as recorded for diagnostics.
type Run struct {
	// ID is the crawl task id.
	ID uuid.UUID `json:"id"`
	// StartedAt captures when the task started running.
	StartedAt time.Time `json:"started_at"`
	// FinishedAt is nil until the run is marked completed/failed.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     Status     `json:"status"`
	Total      int        `json:"total"`
	Completed  int        `json:"completed"`
	Failed     int        `json:"failed"`
	// ErrorMessage optionally stores the internal failure reason.
	ErrorMessage *string `json:"error_message,omitempty"`
}

// Failure records why one project could not be crawled during a run.
type Failure struct {
	RunID     uuid.UUID `json:"run_id"`
	ProjectID int64     `json:"project_id"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

// Repository persists crawl-run diagnostics.
type Repository interface {
	// StartRun inserts (or idempotently refreshes) a running row.
	StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time, total int) error
	// UpdateCounters stores the latest completed/failed counters.
	UpdateCounters(ctx context.Context, runID uuid.UUID, completed, failed int) error
	// RecordFailure appends a per-project failure.
	RecordFailure(ctx context.Context, failure Failure) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status Status, errMsg *string) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs filtered by optional status, newest first.
	ListRuns(ctx context.Context, status *Status, limit, offset int) ([]Run, error)
	// ListFailures returns the recorded failures of one run in order.
	ListFailures(ctx context.Context, runID uuid.UUID, limit, offset int) ([]Failure, error)
}
