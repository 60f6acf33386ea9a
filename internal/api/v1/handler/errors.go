package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"norvis/internal/api/v1/dto"
	"norvis/internal/provider"
	"norvis/internal/quota"
	"norvis/internal/ratelimit"
	"norvis/internal/service"

	"github.com/rs/zerolog"
)

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ratelimit.ErrStoreUnavailable),
		errors.Is(err, service.ErrQuotaUnavailable),
		errors.Is(err, service.ErrPaymentsDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, provider.ErrProviderFailed):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrQuotaNotFound),
		errors.Is(err, service.ErrChatNotFound),
		errors.Is(err, service.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrUserAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, provider.ErrUnknownModel),
		errors.Is(err, quota.ErrInvalidTier),
		errors.Is(err, quota.ErrInvalidDuration),
		errors.Is(err, quota.ErrInvalidLimit),
		errors.Is(err, service.ErrUnsupportedPlan),
		errors.Is(err, service.ErrWebhookSignature),
		errors.Is(err, service.ErrWebhookPayload):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, logger zerolog.Logger, err error, msg string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Msg(msg)
		http.Error(w, msg, status)
		return
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, logger zerolog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeLimited writes a 429 with Retry-After in whole seconds.
func writeLimited(w http.ResponseWriter, logger zerolog.Logger, body dto.LimitExceededDTO) {
	if body.RetryAfterSeconds < 1 {
		body.RetryAfterSeconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(body.RetryAfterSeconds))
	writeJSON(w, logger, http.StatusTooManyRequests, body)
}
