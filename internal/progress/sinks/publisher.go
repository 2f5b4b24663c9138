package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/modian-insight/internal/progress"
)

// Publisher pushes notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// VersionNotification is the message published for every stored version.
type VersionNotification struct {
	ProjectID   int64     `json:"project_id"`
	Version     int       `json:"version"`
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	Status      string    `json:"status"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	TaskID      string    `json:"task_id,omitempty"`
	StoredAt    time.Time `json:"stored_at"`
}

// PublisherSink announces newly stored versions. Other stages are ignored.
type PublisherSink struct {
	publisher Publisher
	topic     string
	logger    *zap.Logger
}

// NewPublisherSink constructs a PublisherSink for topic.
func NewPublisherSink(publisher Publisher, topic string, logger *zap.Logger) *PublisherSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublisherSink{publisher: publisher, topic: topic, logger: logger}
}

// Consume publishes one message per VERSION_STORED event and stops at the
// first failure.
func (s *PublisherSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	for _, evt := range batch {
		if evt.Stage != progress.StageVersionStored {
			continue
		}
		msg := VersionNotification{
			ProjectID:   evt.ProjectID,
			Version:     evt.Version,
			Name:        evt.Name,
			Category:    evt.Category,
			Status:      evt.Status,
			Fingerprint: evt.Fingerprint,
			StoredAt:    evt.TS,
		}
		if evt.HasTask() {
			msg.TaskID = evt.TaskUUID().String()
		}
		id, err := s.publisher.Publish(ctx, s.topic, msg)
		if err != nil {
			return fmt.Errorf("publish version %d of project %d: %w", evt.Version, evt.ProjectID, err)
		}
		s.logger.Debug("version notification published",
			zap.String("message_id", id),
			zap.Int64("project_id", evt.ProjectID),
			zap.Int("version", evt.Version),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
