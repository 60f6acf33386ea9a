package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"norvis/internal/config"
	"norvis/internal/model"
	"norvis/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	customerpkg "github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/webhook"
)

var (
	ErrUnsupportedPlan   = errors.New("plan is not available for purchase")
	ErrWebhookSignature  = errors.New("stripe webhook signature verification failed")
	ErrWebhookPayload    = errors.New("invalid stripe webhook payload")
	ErrPaymentsDisabled  = errors.New("payments are not configured")
	errSessionNotPaidYet = errors.New("checkout session not paid yet")
)

// StripeService sells fixed-duration tier passes through Stripe Checkout and
// applies them when Stripe confirms payment.
type StripeService struct {
	cfg      *config.Config
	userRepo repository.UserRepository
	quotas   QuotaService
	logger   zerolog.Logger
}

// NewStripeService initializes Stripe key and returns service with a scoped logger
func NewStripeService(cfg *config.Config, userRepo repository.UserRepository, quotas QuotaService, logger zerolog.Logger) *StripeService {
	stripe.Key = cfg.StripeSecretKey
	lg := logger.With().Str("service", "StripeService").Logger()
	return &StripeService{cfg: cfg, userRepo: userRepo, quotas: quotas, logger: lg}
}

// GetOrCreateCustomer ensures a Stripe Customer exists for a user
func (s *StripeService) GetOrCreateCustomer(ctx context.Context, user *model.User) (string, error) {
	if user.StripeCustomerID != nil && *user.StripeCustomerID != "" {
		return *user.StripeCustomerID, nil
	}
	params := &stripe.CustomerParams{
		Email:    stripe.String(user.Email),
		Name:     stripe.String(user.Name),
		Metadata: map[string]string{"user_id": user.UserID},
	}
	cust, err := customerpkg.New(params)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", user.UserID).Msg("Failed to create Stripe customer")
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	if err := s.userRepo.UpdateStripeCustomerID(ctx, user.UserID, cust.ID); err != nil {
		s.logger.Error().Err(err).Str("user_id", user.UserID).Msg("Failed to store stripe customer id in user_profiles")
		return "", fmt.Errorf("store stripe customer id: %w", err)
	}
	return cust.ID, nil
}

// PriceFor maps a purchasable tier to its configured Stripe price.
func (s *StripeService) PriceFor(tier model.Tier) (string, error) {
	var price string
	switch tier {
	case model.TierPremium:
		price = s.cfg.StripePricePremium
	case model.TierPro:
		price = s.cfg.StripePricePro
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedPlan, tier)
	}
	if price == "" {
		return "", fmt.Errorf("%w: no price configured for %s", ErrUnsupportedPlan, tier)
	}
	return price, nil
}

// CreateCheckoutSession returns the hosted checkout URL for a tier pass.
func (s *StripeService) CreateCheckoutSession(ctx context.Context, userID string, tier model.Tier) (string, error) {
	if s.cfg.StripeSecretKey == "" {
		return "", ErrPaymentsDisabled
	}
	priceID, err := s.PriceFor(tier)
	if err != nil {
		return "", err
	}
	user, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch user for checkout session")
		return "", fmt.Errorf("fetch user: %w", err)
	}
	if user == nil {
		return "", ErrUserNotFound
	}
	customerID, err := s.GetOrCreateCustomer(ctx, user)
	if err != nil {
		return "", err
	}

	metadata := map[string]string{
		"user_id":       userID,
		"tier":          string(tier),
		"duration_days": strconv.Itoa(s.cfg.SubscriptionDays),
	}
	params := &stripe.CheckoutSessionParams{
		Customer:          stripe.String(customerID),
		ClientReferenceID: stripe.String(userID),
		LineItems:         []*stripe.CheckoutSessionLineItemParams{{Price: stripe.String(priceID), Quantity: stripe.Int64(1)}},
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(s.cfg.StripeReturnURL + "?status=success"),
		CancelURL:         stripe.String(s.cfg.StripeReturnURL + "?status=cancel"),
		Metadata:          metadata,
	}
	sess, err := checkoutsession.New(params)
	if err != nil {
		s.logger.Error().Err(err).Str("tier", string(tier)).Msg("Failed to create Stripe checkout session")
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

// HandleWebhook verifies and applies one Stripe event. Unhandled event types
// are acknowledged and ignored.
func (s *StripeService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.cfg.StripeWebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		s.logger.Error().Err(err).Msg("Signature verification failed for Stripe webhook")
		return fmt.Errorf("%w: %w", ErrWebhookSignature, err)
	}
	s.logger.Info().Str("event_type", string(event.Type)).Str("event_id", event.ID).Msg("Stripe webhook received")

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return fmt.Errorf("%w: %w", ErrWebhookPayload, err)
		}
		err := s.applyCheckout(ctx, &cs)
		if errors.Is(err, errSessionNotPaidYet) {
			s.logger.Info().Str("session_id", cs.ID).Msg("Checkout completed without payment, waiting for async payment")
			return nil
		}
		return err
	default:
		s.logger.Debug().Str("event_type", string(event.Type)).Msg("Unhandled Stripe webhook event")
	}
	return nil
}

func (s *StripeService) applyCheckout(ctx context.Context, cs *stripe.CheckoutSession) error {
	if cs.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return errSessionNotPaidYet
	}
	userID := cs.Metadata["user_id"]
	if userID == "" {
		userID = cs.ClientReferenceID
	}
	if userID == "" && cs.Customer != nil && cs.Customer.ID != "" {
		u, err := s.userRepo.GetUserByStripeCustomerID(ctx, cs.Customer.ID)
		if err != nil {
			return fmt.Errorf("looking up stripe customer %s: %w", cs.Customer.ID, err)
		}
		if u != nil {
			userID = u.UserID
		}
	}
	if userID == "" {
		return fmt.Errorf("%w: session %s has no user_id", ErrWebhookPayload, cs.ID)
	}
	tier, err := model.ParseTier(cs.Metadata["tier"])
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWebhookPayload, err)
	}
	days, err := strconv.Atoi(cs.Metadata["duration_days"])
	if err != nil {
		return fmt.Errorf("%w: duration_days: %w", ErrWebhookPayload, err)
	}

	if err := s.quotas.Upgrade(ctx, userID, tier, days, 0); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Str("session_id", cs.ID).Msg("Failed to apply paid upgrade")
		return err
	}
	s.logger.Info().Str("user_id", userID).Str("tier", string(tier)).Int("days", days).Msg("Applied paid upgrade")
	return nil
}
