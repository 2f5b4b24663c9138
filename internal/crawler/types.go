package crawler

import (
	"encoding/json"
	"errors"
	"slices"
	"time"

	"github.com/JakeFAU/modian-insight/internal/project"
)

// Control errors returned synchronously to callers.
var (
	ErrAlreadyRunning    = errors.New("crawler: a task is already running")
	ErrInvalidTargetSpec = errors.New("crawler: specify either target ids or a start and end id")
	ErrInvalidDelay      = errors.New("crawler: delay out of bounds")
	ErrNoActiveTask      = errors.New("crawler: no active task")
	ErrInvalidTransition = errors.New("crawler: invalid task state transition")
)

// TaskStatus represents the lifecycle state of a crawl task.
type TaskStatus string

// Task status values.
const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskPaused    TaskStatus = "paused"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Progress tracks per-task counters.
type Progress struct {
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Current   *int64 `json:"current,omitempty"`
}

// Task is a snapshot of a crawl task. The orchestrator owns the live value;
// callers only ever receive copies.
type Task struct {
	ID          string        `json:"id"`
	StartID     *int64        `json:"start_id,omitempty"`
	EndID       *int64        `json:"end_id,omitempty"`
	TargetIDs   []int64       `json:"target_ids,omitempty"`
	Delay       time.Duration `json:"-"`
	Status      TaskStatus    `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Progress    Progress      `json:"progress"`
	Error       string        `json:"error,omitempty"`
}

// DelayMillis returns the pacing delay in milliseconds.
func (t Task) DelayMillis() int64 {
	return t.Delay.Milliseconds()
}

func (t Task) clone() Task {
	c := t
	c.TargetIDs = slices.Clone(t.TargetIDs)
	c.StartID = clonePtr(t.StartID)
	c.EndID = clonePtr(t.EndID)
	c.StartedAt = clonePtr(t.StartedAt)
	c.CompletedAt = clonePtr(t.CompletedAt)
	c.Progress.Current = clonePtr(t.Progress.Current)
	return c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Options selects the projects a task visits. Exactly one of IDs or the
// inclusive StartID..EndID range must be set. A zero Delay uses the default.
type Options struct {
	IDs     []int64
	StartID *int64
	EndID   *int64
	Delay   time.Duration
}

// EventType names an orchestrator event.
type EventType string

// Event types, in the order a task normally produces them.
const (
	EventTaskStarted     EventType = "task_started"
	EventTaskPaused      EventType = "task_paused"
	EventTaskResumed     EventType = "task_resumed"
	EventProjectCrawled  EventType = "project_crawled"
	EventProjectFailed   EventType = "project_failed"
	EventProgressUpdated EventType = "progress_updated"
	EventTaskError       EventType = "task_error"
	EventTaskCompleted   EventType = "task_completed"
)

// Event is one orchestrator notification. Task is a snapshot taken when the
// event was queued.
type Event struct {
	Type      EventType
	At        time.Time
	Task      Task
	ProjectID int64
	Record    *project.Record
	Raw       json.RawMessage
	Err       error
}

// Listener receives events on the dispatcher goroutine. Listeners may call
// back into the Crawler.
type Listener func(Event)

// targets enumerates task ids without materializing large ranges.
type targets struct {
	ids        []int64
	start, end int64
	isRange    bool
}

func (t targets) Len() int {
	if t.isRange {
		return int(t.end - t.start + 1)
	}
	return len(t.ids)
}

func (t targets) At(i int) int64 {
	if t.isRange {
		return t.start + int64(i)
	}
	return t.ids[i]
}
