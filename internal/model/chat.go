package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Chat represents a chat conversation owned by a user
type Chat struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Title     string    `db:"title" json:"title"`
	Model     string    `db:"model" json:"model"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

const (
	RoleChatUser      = "user"
	RoleChatAssistant = "assistant"
	RoleChatSystem    = "system"
)

// Message represents a message in a chat
type Message struct {
	ID        string       `db:"id" json:"id"`
	ChatID    string       `db:"chat_id" json:"chat_id"`
	Role      string       `db:"role" json:"role"`
	Parts     MessageParts `db:"parts" json:"parts"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
}

// MessageParts is an array of message parts (JSONB)
type MessageParts []MessagePart

// MessagePart represents a single part of a message
type MessagePart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Text concatenates the text parts.
func (m MessageParts) Text() string {
	var out string
	for _, p := range m {
		if p.Type == "text" {
			out += p.Text
		}
	}
	return out
}

// Value implements the driver.Valuer interface for JSONB
func (m MessageParts) Value() (driver.Value, error) {
	if m == nil {
		return json.Marshal([]MessagePart{})
	}
	return json.Marshal(m)
}

// Scan implements the sql.Scanner interface for JSONB
func (m *MessageParts) Scan(value interface{}) error {
	if value == nil {
		*m = make(MessageParts, 0)
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*m = make(MessageParts, 0)
		return fmt.Errorf("cannot scan %T into MessageParts", value)
	}

	if len(bytes) == 0 {
		*m = make(MessageParts, 0)
		return nil
	}

	return json.Unmarshal(bytes, m)
}
