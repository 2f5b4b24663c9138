package progress

import (
	"github.com/google/uuid"

	"github.com/JakeFAU/modian-insight/internal/crawler"
)

// FromCrawler converts an orchestrator event. ok is false for events without
// a progress counterpart.
func FromCrawler(evt crawler.Event) (Event, bool) {
	out := Event{
		TS:        evt.At.UTC(),
		ProjectID: evt.ProjectID,
		Total:     evt.Task.Progress.Total,
		Completed: evt.Task.Progress.Completed,
		Failed:    evt.Task.Progress.Failed,
	}
	if id, err := uuid.Parse(evt.Task.ID); err == nil {
		out.TaskID = UUIDToBytes(id)
	}
	if evt.Err != nil {
		out.Note = evt.Err.Error()
	}

	switch evt.Type {
	case crawler.EventTaskStarted:
		out.Stage = StageTaskStart
	case crawler.EventTaskPaused:
		out.Stage = StageTaskPaused
	case crawler.EventTaskResumed:
		out.Stage = StageTaskResumed
	case crawler.EventTaskError:
		out.Stage = StageTaskError
	case crawler.EventProjectCrawled:
		out.Stage = StageProjectDone
		if evt.Record != nil {
			out.Name = evt.Record.Name
			out.Category = evt.Record.Category
			out.Status = string(evt.Record.Status)
		}
	case crawler.EventProjectFailed:
		out.Stage = StageProjectFailed
	case crawler.EventTaskCompleted:
		out.Stage = StageTaskDone
		out.Status = TaskCompleted
		if evt.Task.Status == crawler.TaskFailed {
			out.Status = TaskFailed
		}
		if out.Note == "" {
			out.Note = evt.Task.Error
		}
		if evt.Task.StartedAt != nil && evt.Task.CompletedAt != nil {
			out.Dur = max(evt.Task.CompletedAt.Sub(*evt.Task.StartedAt), 0)
		}
	default:
		return Event{}, false
	}
	return out, true
}

// Forward returns a crawler listener that emits converted events.
func Forward(em Emitter) crawler.Listener {
	return func(evt crawler.Event) {
		if out, ok := FromCrawler(evt); ok {
			em.Emit(out)
		}
	}
}
