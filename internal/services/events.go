package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/ineydlis/school-test-service/internal/events"
)

// TopicAttemptCompleted carries finalized attempts to downstream consumers
// (notifications, gradebook sync).
const TopicAttemptCompleted = "test.attempt.completed"

type AttemptCompletedEvent struct {
	AttemptID         uint      `json:"attempt_id"`
	TestID            uint      `json:"test_id"`
	StudentID         string    `json:"student_id"`
	AttemptNumber     int       `json:"attempt_number"`
	Score             int       `json:"score"`
	MaxScore          int       `json:"max_score"`
	Percentage        int       `json:"percentage"`
	NeedsManualReview bool      `json:"needs_manual_review"`
	CompletedAt       time.Time `json:"completed_at"`
}

// EventPublisher is the service-level view of the broker: fire and forget,
// a publish failure never rolls back a finalized attempt.
type EventPublisher interface {
	PublishAttemptCompleted(ctx context.Context, event *AttemptCompletedEvent)
}

type eventNotifier struct {
	publisher events.EventPublisher
	logger    *slog.Logger
}

func NewEventNotifier(publisher events.EventPublisher, logger *slog.Logger) EventPublisher {
	return &eventNotifier{publisher: publisher, logger: logger}
}

func (n *eventNotifier) PublishAttemptCompleted(ctx context.Context, event *AttemptCompletedEvent) {
	if n.publisher == nil {
		return
	}

	err := n.publisher.Publish(ctx, TopicAttemptCompleted, &events.Event{
		Type:       "attempt.completed",
		OccurredAt: time.Now(),
		Data:       event,
	})
	if err != nil {
		n.logger.Error("Failed to publish attempt completed event",
			"attempt_id", event.AttemptID,
			"error", err)
	}
}
