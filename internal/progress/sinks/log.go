package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/modian-insight/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is useful
// during development or audits where a durable store is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("stage", string(evt.Stage)),
			zap.Time("ts", evt.TS),
		}
		if evt.HasTask() {
			fields = append(fields, zap.Stringer("task_id", evt.TaskUUID()))
		}
		if evt.ProjectID > 0 {
			fields = append(fields, zap.Int64("project_id", evt.ProjectID))
		}
		if evt.Version > 0 {
			fields = append(fields, zap.Int("version", evt.Version))
		}
		if evt.Total > 0 {
			fields = append(fields,
				zap.Int("total", evt.Total),
				zap.Int("completed", evt.Completed),
				zap.Int("failed", evt.Failed),
			)
		}
		if evt.Status != "" {
			fields = append(fields, zap.String("status", evt.Status))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
