package model

import (
	"encoding/json"
	"time"
)

const (
	EventSubscriptionUpgraded = "subscription.upgraded"
	EventQuotaExhausted       = "quota.exhausted"
	EventSubscriptionExpired  = "subscription.expired"
)

// Event is an audit/notification record published after state changes.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	UserID     string          `json:"user_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}
