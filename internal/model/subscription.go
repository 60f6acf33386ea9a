package model

import (
	"fmt"
	"strings"
	"time"
)

// Tier is a named subscription level determining the daily message ceiling.
type Tier string

const (
	TierFree    Tier = "FREE"
	TierPremium Tier = "PREMIUM"
	TierPro     Tier = "PRO"
	TierCustom  Tier = "CUSTOM"
)

// ParseTier accepts tier names case-insensitively.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown subscription tier %q", s)
	}
	return t, nil
}

func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPremium, TierPro, TierCustom:
		return true
	}
	return false
}

// SubscriptionQuota is the persisted per-user daily allowance.
type SubscriptionQuota struct {
	UserID                string     `db:"user_id" json:"user_id"`
	SubscriptionType      Tier       `db:"subscription_type" json:"subscription_type"`
	MessageLimit          int        `db:"message_limit" json:"message_limit"`
	DailyMessageCount     int        `db:"daily_message_count" json:"daily_message_count"`
	LastMessageResetDate  time.Time  `db:"last_message_reset_date" json:"last_message_reset_date"`
	SubscriptionStartDate *time.Time `db:"subscription_start_date" json:"subscription_start_date,omitempty"`
	SubscriptionEndDate   *time.Time `db:"subscription_end_date" json:"subscription_end_date,omitempty"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
}

// SubscriptionInfo is the read-only projection shown to the user.
type SubscriptionInfo struct {
	Tier      Tier       `json:"tier"`
	IsPremium bool       `json:"is_premium"`
	Remaining int        `json:"remaining"`
	Limit     int        `json:"limit"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	ResetAt   time.Time  `json:"reset_at"`
}

// QuotaDecision is the outcome of evaluating one message against the quota.
// Limit and ResetAt are always populated; RetryAfterSeconds only on denial.
type QuotaDecision struct {
	Allowed           bool
	Remaining         int
	Limit             int
	ResetAt           time.Time
	RetryAfterSeconds int
}
