// Package notification forwards audit events from the pgmq outbox to Pub/Sub.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"norvis/internal/model"
	"norvis/internal/pgmq"

	"github.com/rs/zerolog"
)

// Queue is satisfied by *pgmq.Client.
type Queue interface {
	ReadWithPoll(ctx context.Context, queue string, visibilitySec, maxMessages, pollSec int) ([]*pgmq.Message, error)
	Send(ctx context.Context, queue string, payload []byte) (int64, error)
	Delete(ctx context.Context, queue string, msgID int64) error
}

// Publisher is satisfied by *pubsub.PubSubPublisher.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, attrs map[string]string) (string, error)
}

type Config struct {
	Queue           string
	DeadLetterQueue string
	Topic           string
	VisibilitySec   int
	PollSec         int
	MaxMessages     int
	MaxRetries      int
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
}

type Forwarder struct {
	queue     Queue
	publisher Publisher
	cfg       Config
	logger    zerolog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
}

func NewForwarder(queue Queue, publisher Publisher, cfg Config, logger zerolog.Logger) *Forwarder {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.MaxMessages < 1 {
		cfg.MaxMessages = 1
	}
	if cfg.VisibilitySec < 1 {
		cfg.VisibilitySec = 30
	}
	return &Forwarder{
		queue:     queue,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.With().Str("orchestrator", "notification").Logger(),
		sleep:     sleepCtx,
		now:       time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run drains the queue until ctx is cancelled.
func (f *Forwarder) Run(ctx context.Context) error {
	f.logger.Info().Str("queue", f.cfg.Queue).Str("topic", f.cfg.Topic).Msg("Starting notification orchestrator")
	for {
		select {
		case <-ctx.Done():
			f.logger.Info().Msg("Shutting down notification orchestrator")
			return nil
		default:
		}
		if _, err := f.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			f.logger.Error().Err(err).Msg("Error reading notification queue")
			_ = f.sleep(ctx, time.Second)
		}
	}
}

// Poll reads one batch and handles every message in it. It returns how many
// messages were read.
func (f *Forwarder) Poll(ctx context.Context) (int, error) {
	msgs, err := f.queue.ReadWithPoll(ctx, f.cfg.Queue, f.cfg.VisibilitySec, f.cfg.MaxMessages, f.cfg.PollSec)
	if err != nil {
		return 0, err
	}
	for _, msg := range msgs {
		f.handle(ctx, msg)
	}
	return len(msgs), nil
}

func (f *Forwarder) handle(ctx context.Context, msg *pgmq.Message) {
	var evt model.Event
	if err := json.Unmarshal(msg.Data, &evt); err != nil || evt.Type == "" {
		if err == nil {
			err = fmt.Errorf("event has no type")
		}
		f.logger.Error().Err(err).Int64("msg_id", msg.ID).Msg("Malformed notification; moving to DLQ")
		f.deadLetter(ctx, msg, err, 0)
		return
	}

	attrs := map[string]string{"event_type": evt.Type, "user_id": evt.UserID}
	backoff := f.cfg.BackoffInitial
	var pubErr error
	for attempt := 1; attempt <= f.cfg.MaxRetries; attempt++ {
		start := time.Now()
		_, pubErr = f.publisher.Publish(ctx, f.cfg.Topic, msg.Data, attrs)
		if pubErr == nil {
			f.logger.Debug().
				Int64("msg_id", msg.ID).
				Str("event_type", evt.Type).
				Dur("duration", time.Since(start)).
				Msg("Notification forwarded")
			break
		}
		f.logger.Warn().Err(pubErr).Int("attempt", attempt).Int64("msg_id", msg.ID).Msg("Notification publish failed")
		if attempt == f.cfg.MaxRetries {
			break
		}
		if err := f.sleep(ctx, backoff); err != nil {
			// Shutting down; the lease lapses and the message is redelivered.
			return
		}
		backoff *= 2
		if f.cfg.BackoffMax > 0 && backoff > f.cfg.BackoffMax {
			backoff = f.cfg.BackoffMax
		}
	}

	if pubErr != nil {
		f.logger.Warn().
			Int("attempts", f.cfg.MaxRetries).
			Str("event_type", evt.Type).
			Err(pubErr).
			Msg("Exhausted all notification retries; moving job to DLQ")
		f.deadLetter(ctx, msg, pubErr, f.cfg.MaxRetries)
		return
	}

	if err := f.queue.Delete(ctx, f.cfg.Queue, msg.ID); err != nil {
		f.logger.Error().Err(err).Int64("msg_id", msg.ID).Msg("Error deleting notification message")
	}
}

// deadLetter parks msg on the DLQ and acknowledges the original. If the DLQ
// write fails the original is left to be redelivered.
func (f *Forwarder) deadLetter(ctx context.Context, msg *pgmq.Message, cause error, attempts int) {
	payload := json.RawMessage(msg.Data)
	if !json.Valid(msg.Data) {
		quoted, _ := json.Marshal(string(msg.Data))
		payload = quoted
	}
	entry := model.DeadLetterMessage{
		SourceQueue: f.cfg.Queue,
		MessageID:   msg.ID,
		Payload:     payload,
		Error:       cause.Error(),
		Attempts:    attempts,
		FailedAt:    f.now().UTC(),
	}
	b, err := json.Marshal(entry)
	if err != nil {
		f.logger.Error().Err(err).Msg("Failed to marshal dead-letter entry")
		return
	}
	if _, err := f.queue.Send(ctx, f.cfg.DeadLetterQueue, b); err != nil {
		f.logger.Error().Err(err).Str("dlq", f.cfg.DeadLetterQueue).Msg("Failed to send message to dead-letter queue")
		return
	}
	if err := f.queue.Delete(ctx, f.cfg.Queue, msg.ID); err != nil {
		f.logger.Error().Err(err).Int64("msg_id", msg.ID).Msg("Error deleting notification message after failure")
	}
}
