// Package progress defines the event structures emitted while crawl tasks run
// and project versions are stored.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageTaskStart      Stage = "TASK_START"
	StageTaskPaused     Stage = "TASK_PAUSED"
	StageTaskResumed    Stage = "TASK_RESUMED"
	StageTaskDone       Stage = "TASK_DONE"
	StageTaskError      Stage = "TASK_ERROR"
	StageProjectDone    Stage = "PROJECT_DONE"
	StageProjectFailed  Stage = "PROJECT_FAILED"
	StageVersionStored  Stage = "VERSION_STORED"
	StageVersionSkipped Stage = "VERSION_SKIPPED"
	StageStoreError     Stage = "STORE_ERROR"
)

// Terminal task statuses carried by TASK_DONE events.
const (
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// Event captures a single component of crawl progress.
type Event struct {
	// TaskID identifies the crawl task using the 16-byte UUID form.
	TaskID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or project milestone occurred.
	Stage Stage
	// ProjectID scopes project and version events.
	ProjectID int64
	// Version is the stored version number for VERSION_STORED.
	Version int
	// Total, Completed and Failed mirror the task counters at emit time.
	Total     int
	Completed int
	Failed    int
	// Status is the terminal task status for TASK_DONE, or the project
	// status for version events.
	Status string
	// Name and Category describe the project for version events.
	Name     string
	Category string
	// Fingerprint is the content hash of a stored version.
	Fingerprint string
	// Dur captures task wall time for TASK_DONE.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageTaskStart, StageTaskPaused, StageTaskResumed, StageTaskError:
		if e.TaskID == [16]byte{} {
			return errors.New("task id is required")
		}
	case StageTaskDone:
		if e.TaskID == [16]byte{} {
			return errors.New("task id is required")
		}
		if e.Status != TaskCompleted && e.Status != TaskFailed {
			return fmt.Errorf("task done requires a terminal status, got %q", e.Status)
		}
	case StageProjectDone, StageProjectFailed:
		if e.TaskID == [16]byte{} {
			return errors.New("task id is required")
		}
		if e.ProjectID <= 0 {
			return errors.New("project event requires project id")
		}
	case StageVersionStored:
		if e.ProjectID <= 0 || e.Version <= 0 {
			return errors.New("version stored requires project id and version")
		}
	case StageVersionSkipped, StageStoreError:
		if e.ProjectID <= 0 {
			return errors.New("store event requires project id")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// TaskUUID converts the binary task ID to uuid.UUID for repositories.
func (e Event) TaskUUID() uuid.UUID {
	return uuid.UUID(e.TaskID)
}

// HasTask reports whether the event is scoped to a task.
func (e Event) HasTask() bool {
	return e.TaskID != [16]byte{}
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
