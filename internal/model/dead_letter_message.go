package model

import (
	"encoding/json"
	"time"
)

// DeadLetterMessage wraps a notification that could not be delivered after
// all retries. Payload is the original queue message, unchanged.
type DeadLetterMessage struct {
	SourceQueue string          `json:"source_queue"`
	MessageID   int64           `json:"message_id"`
	Payload     json.RawMessage `json:"payload"`
	Error       string          `json:"error"`
	Attempts    int             `json:"attempts"`
	FailedAt    time.Time       `json:"failed_at"`
}
