package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"norvis/internal/model"
	"norvis/internal/pgmq"

	"github.com/google/uuid"
)

// EventPublisher records audit and notification events. Callers log
// failures; a failed publish never fails the originating request.
type EventPublisher interface {
	Publish(ctx context.Context, evt model.Event) error
}

type queueEventPublisher struct {
	client *pgmq.Client
	queue  string
}

// NewQueueEventPublisher writes events into a pgmq queue that the
// notification orchestrator drains.
func NewQueueEventPublisher(client *pgmq.Client, queue string) EventPublisher {
	return &queueEventPublisher{client: client, queue: queue}
}

func (p *queueEventPublisher) Publish(ctx context.Context, evt model.Event) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	if _, err := p.client.SendJSON(ctx, p.queue, evt); err != nil {
		return fmt.Errorf("publishing %s event: %w", evt.Type, err)
	}
	return nil
}

type nopEventPublisher struct{}

func NopEventPublisher() EventPublisher {
	return nopEventPublisher{}
}

func (nopEventPublisher) Publish(context.Context, model.Event) error { return nil }

// newEvent builds an event with a JSON payload.
func newEvent(eventType, userID string, payload any, at time.Time) model.Event {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = nil
	}
	return model.Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		UserID:     userID,
		Payload:    raw,
		OccurredAt: at.UTC(),
	}
}
