package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"norvis/internal/model"
	"norvis/internal/pgmq"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	batch   []*pgmq.Message
	readErr error
	sent    map[string][][]byte
	deleted []int64
	sendErr error
}

func (q *fakeQueue) ReadWithPoll(context.Context, string, int, int, int) ([]*pgmq.Message, error) {
	b := q.batch
	q.batch = nil
	return b, q.readErr
}

func (q *fakeQueue) Send(_ context.Context, queue string, payload []byte) (int64, error) {
	if q.sendErr != nil {
		return 0, q.sendErr
	}
	if q.sent == nil {
		q.sent = map[string][][]byte{}
	}
	q.sent[queue] = append(q.sent[queue], payload)
	return int64(len(q.sent[queue])), nil
}

func (q *fakeQueue) Delete(_ context.Context, _ string, id int64) error {
	q.deleted = append(q.deleted, id)
	return nil
}

type fakePublisher struct {
	failures int
	calls    int
	attrs    map[string]string
}

func (p *fakePublisher) Publish(_ context.Context, _ string, _ []byte, attrs map[string]string) (string, error) {
	p.calls++
	p.attrs = attrs
	if p.calls <= p.failures {
		return "", errors.New("unavailable")
	}
	return "server-id", nil
}

func newTestForwarder(q Queue, p Publisher) (*Forwarder, *[]time.Duration) {
	f := NewForwarder(q, p, Config{
		Queue:           "notification_queue",
		DeadLetterQueue: "notification_queue_dlq",
		Topic:           "norvis-audit",
		MaxRetries:      4,
		BackoffInitial:  time.Second,
		BackoffMax:      3 * time.Second,
	}, zerolog.Nop())
	var slept []time.Duration
	f.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	f.now = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }
	return f, &slept
}

func eventMessage(t *testing.T, id int64) *pgmq.Message {
	t.Helper()
	b, err := json.Marshal(model.Event{ID: "e1", Type: model.EventQuotaExhausted, UserID: "u1"})
	require.NoError(t, err)
	return &pgmq.Message{ID: id, Data: b}
}

func TestForwardSuccess(t *testing.T) {
	q := &fakeQueue{batch: []*pgmq.Message{eventMessage(t, 7)}}
	p := &fakePublisher{}
	f, slept := newTestForwarder(q, p)

	n, err := f.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, p.calls)
	assert.Equal(t, "quota.exhausted", p.attrs["event_type"])
	assert.Equal(t, "u1", p.attrs["user_id"])
	assert.Equal(t, []int64{7}, q.deleted)
	assert.Empty(t, *slept)
	assert.Empty(t, q.sent)
}

func TestForwardRetriesWithCappedBackoff(t *testing.T) {
	q := &fakeQueue{batch: []*pgmq.Message{eventMessage(t, 8)}}
	p := &fakePublisher{failures: 3}
	f, slept := newTestForwarder(q, p)

	_, err := f.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, p.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, *slept)
	assert.Equal(t, []int64{8}, q.deleted)
	assert.Empty(t, q.sent)
}

func TestForwardExhaustedGoesToDLQ(t *testing.T) {
	q := &fakeQueue{batch: []*pgmq.Message{eventMessage(t, 9)}}
	p := &fakePublisher{failures: 100}
	f, _ := newTestForwarder(q, p)

	_, err := f.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, p.calls)
	require.Len(t, q.sent["notification_queue_dlq"], 1)
	assert.Equal(t, []int64{9}, q.deleted)

	var dl model.DeadLetterMessage
	require.NoError(t, json.Unmarshal(q.sent["notification_queue_dlq"][0], &dl))
	assert.Equal(t, int64(9), dl.MessageID)
	assert.Equal(t, 4, dl.Attempts)
	assert.Equal(t, "unavailable", dl.Error)
	assert.Equal(t, "notification_queue", dl.SourceQueue)
}

func TestMalformedMessageGoesToDLQ(t *testing.T) {
	q := &fakeQueue{batch: []*pgmq.Message{{ID: 10, Data: []byte("not json")}}}
	p := &fakePublisher{}
	f, _ := newTestForwarder(q, p)

	_, err := f.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, p.calls)
	require.Len(t, q.sent["notification_queue_dlq"], 1)
	assert.Equal(t, []int64{10}, q.deleted)
}

func TestDLQFailureKeepsOriginal(t *testing.T) {
	q := &fakeQueue{batch: []*pgmq.Message{{ID: 11, Data: []byte("{}")}}, sendErr: errors.New("db down")}
	f, _ := newTestForwarder(q, &fakePublisher{})

	_, err := f.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, q.deleted)
}

func TestPollReadError(t *testing.T) {
	q := &fakeQueue{readErr: errors.New("connection refused")}
	f, _ := newTestForwarder(q, &fakePublisher{})

	_, err := f.Poll(context.Background())
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f, _ := newTestForwarder(&fakeQueue{}, &fakePublisher{})
	assert.NoError(t, f.Run(ctx))
}
