package dto

import "time"

type SubscriptionCheckoutRequest struct {
	Tier string `json:"tier" validate:"required,oneof=PREMIUM PRO premium pro"`
}

type CheckoutResponse struct {
	URL string `json:"url"`
}

// AdminSubscriptionUpdateDTO overrides a user's tier. CustomLimit is only
// read for CUSTOM.
type AdminSubscriptionUpdateDTO struct {
	Tier         string `json:"tier" validate:"required"`
	DurationDays int    `json:"duration_days" validate:"min=0"`
	CustomLimit  int    `json:"custom_limit,omitempty" validate:"min=0"`
}

type SubscriptionInfoDTO struct {
	Tier      string     `json:"tier"`
	IsPremium bool       `json:"is_premium"`
	Remaining int        `json:"remaining"`
	Limit     int        `json:"limit"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	ResetAt   time.Time  `json:"reset_at"`
}

// LimitExceededDTO is the body of a 429.
type LimitExceededDTO struct {
	Error             string     `json:"error"`
	Limit             int        `json:"limit,omitempty"`
	ResetAt           *time.Time `json:"reset_at,omitempty"`
	RetryAfterSeconds int        `json:"retry_after_seconds"`
}
