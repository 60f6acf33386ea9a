// Package pgmq is a thin client for the pgmq Postgres extension used as the
// notification outbox.
package pgmq

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Client wraps a Postgres DB for pgmq queue operations.
type Client struct {
	db *sql.DB
}

func New(db *sql.DB) *Client {
	return &Client{db: db}
}

// Message is one leased queue entry. ReadCount grows each time the
// visibility timeout lapses without a delete.
type Message struct {
	ID        int64
	ReadCount int
	Data      []byte
}

// CreateQueue is idempotent.
func (c *Client) CreateQueue(ctx context.Context, queue string) error {
	if _, err := c.db.ExecContext(ctx, "SELECT pgmq.create($1)", queue); err != nil {
		return fmt.Errorf("pgmq create %s: %w", queue, err)
	}
	return nil
}

// Send pushes a JSON payload into the given queue.
func (c *Client) Send(ctx context.Context, queue string, payload []byte) (int64, error) {
	var id int64
	err := c.db.QueryRowContext(ctx, "SELECT pgmq.send($1, $2::jsonb, 0)", queue, string(payload)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("pgmq send to %s: %w", queue, err)
	}
	return id, nil
}

// SendJSON marshals v and sends it.
func (c *Client) SendJSON(ctx context.Context, queue string, v any) (int64, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("pgmq marshal for %s: %w", queue, err)
	}
	return c.Send(ctx, queue, b)
}

// ReadWithPoll leases up to maxMessages for visibilitySec seconds, waiting at
// most pollSec seconds for the queue to become non-empty.
func (c *Client) ReadWithPoll(ctx context.Context, queue string, visibilitySec, maxMessages, pollSec int) ([]*Message, error) {
	const query = "SELECT msg_id, read_ct, message FROM pgmq.read_with_poll($1, $2, $3, $4)"
	rows, err := c.db.QueryContext(ctx, query, queue, visibilitySec, maxMessages, pollSec)
	if err != nil {
		return nil, fmt.Errorf("pgmq read_with_poll on %s: %w", queue, err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m := &Message{}
		if err := rows.Scan(&m.ID, &m.ReadCount, &m.Data); err != nil {
			return nil, fmt.Errorf("pgmq read scan: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgmq read rows: %w", err)
	}
	return msgs, nil
}

// Delete acknowledges one message.
func (c *Client) Delete(ctx context.Context, queue string, msgID int64) error {
	if _, err := c.db.ExecContext(ctx, "SELECT pgmq.delete($1, $2::bigint)", queue, msgID); err != nil {
		return fmt.Errorf("pgmq delete %d from %s: %w", msgID, queue, err)
	}
	return nil
}
