package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"norvis/internal/api/v1/dto"
	"norvis/internal/middleware"
	"norvis/internal/model"
	"norvis/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// maxWebhookBody matches Stripe's documented upper bound for event payloads.
const maxWebhookBody = 65536

// Payments is the slice of *service.StripeService the handlers use.
type Payments interface {
	CreateCheckoutSession(ctx context.Context, userID string, tier model.Tier) (string, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// SubscriptionHandler handles subscription-related endpoints.
type SubscriptionHandler struct {
	quotas   service.QuotaService
	payments Payments
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewSubscriptionHandler creates a new SubscriptionHandler.
func NewSubscriptionHandler(quotas service.QuotaService, payments Payments, validate *validator.Validate, logger zerolog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{quotas: quotas, payments: payments, validate: validate, logger: logger}
}

// RegisterRoutes registers the subscription endpoints. The Stripe webhook is
// authenticated by its signature, not a bearer token.
func (h *SubscriptionHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("GET /subscription", authMw(http.HandlerFunc(h.Info)))
	mux.Handle("POST /subscriptions/checkout", authMw(http.HandlerFunc(h.Checkout)))
	mux.HandleFunc("POST /webhooks/stripe", h.Webhook)
	mux.Handle("PUT /admin/users/{id}/subscription", authMw(middleware.RequireAdmin(http.HandlerFunc(h.AdminUpdate))))
}

// Info godoc
// @Summary Get subscription status
// @Description Effective tier, remaining messages today and the next reset.
// @Tags subscriptions
// @Produce json
// @Success 200 {object} dto.SubscriptionInfoDTO
// @Failure 401 {string} string "Unauthorized"
// @Failure 404 {string} string "Quota not found"
// @Router /subscription [get]
func (h *SubscriptionHandler) Info(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	info, err := h.quotas.GetSubscriptionInfo(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err, "failed to load subscription")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, dto.SubscriptionInfoDTO{
		Tier:      string(info.Tier),
		IsPremium: info.IsPremium,
		Remaining: info.Remaining,
		Limit:     info.Limit,
		EndDate:   info.EndDate,
		ResetAt:   info.ResetAt,
	})
}

// Checkout godoc
// @Summary Start a checkout
// @Description Creates a Stripe Checkout session and returns its URL.
// @Tags subscriptions
// @Accept json
// @Produce json
// @Param request body dto.SubscriptionCheckoutRequest true "Plan"
// @Success 200 {object} dto.CheckoutResponse
// @Failure 400 {string} string "Unsupported plan"
// @Failure 401 {string} string "Unauthorized"
// @Failure 503 {string} string "Payments disabled"
// @Router /subscriptions/checkout [post]
func (h *SubscriptionHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req dto.SubscriptionCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	tier, err := model.ParseTier(req.Tier)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	url, err := h.payments.CreateCheckoutSession(r.Context(), userID, tier)
	if err != nil {
		writeError(w, h.logger, err, "failed to create checkout session")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, dto.CheckoutResponse{URL: url})
}

// Webhook godoc
// @Summary Stripe webhook
// @Description Receives Stripe events. Errors other than bad input return 5xx so Stripe retries delivery.
// @Tags webhooks
// @Accept json
// @Param Stripe-Signature header string true "Stripe signature"
// @Success 200 {string} string "OK"
// @Failure 400 {string} string "Invalid signature or payload"
// @Router /webhooks/stripe [post]
func (h *SubscriptionHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	if err := h.payments.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		writeError(w, h.logger, err, "failed to process webhook")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// AdminUpdate godoc
// @Summary Override a user's subscription
// @Description Sets any tier, including CUSTOM limits. Admin only.
// @Tags admin
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param request body dto.AdminSubscriptionUpdateDTO true "New subscription"
// @Success 200 {object} dto.SubscriptionInfoDTO
// @Failure 400 {string} string "Invalid tier, duration or limit"
// @Failure 403 {string} string "Forbidden"
// @Failure 404 {string} string "Quota not found"
// @Router /admin/users/{id}/subscription [put]
func (h *SubscriptionHandler) AdminUpdate(w http.ResponseWriter, r *http.Request) {
	var req dto.AdminSubscriptionUpdateDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	tier, err := model.ParseTier(req.Tier)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	targetID := r.PathValue("id")
	if err := h.quotas.Upgrade(r.Context(), targetID, tier, req.DurationDays, req.CustomLimit); err != nil {
		writeError(w, h.logger, err, "failed to update subscription")
		return
	}
	h.logger.Info().
		Str("admin_id", middleware.UserID(r.Context())).
		Str("user_id", targetID).
		Str("tier", string(tier)).
		Msg("Subscription overridden by admin")

	info, err := h.quotas.GetSubscriptionInfo(r.Context(), targetID)
	if err != nil {
		writeError(w, h.logger, err, "failed to load subscription")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, dto.SubscriptionInfoDTO{
		Tier:      string(info.Tier),
		IsPremium: info.IsPremium,
		Remaining: info.Remaining,
		Limit:     info.Limit,
		EndDate:   info.EndDate,
		ResetAt:   info.ResetAt,
	})
}
