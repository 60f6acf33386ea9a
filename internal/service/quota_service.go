package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"norvis/internal/clock"
	"norvis/internal/metrics"
	"norvis/internal/model"
	"norvis/internal/quota"
	"norvis/internal/repository"

	"github.com/rs/zerolog"
)

var (
	ErrQuotaNotFound = repository.ErrQuotaNotFound
	// ErrQuotaUnavailable wraps storage failures while evaluating or changing a quota.
	ErrQuotaUnavailable = errors.New("quota storage unavailable")
)

// QuotaService enforces the per-user daily message allowance.
type QuotaService interface {
	// EnsureQuota creates the FREE record for a new user. Existing records are left alone.
	EnsureQuota(ctx context.Context, userID string) error
	// EvaluateAndConsume atomically resets, checks and counts one message.
	EvaluateAndConsume(ctx context.Context, userID string) (model.QuotaDecision, error)
	// Upgrade assigns tier for durationDays starting now. customLimit applies to CUSTOM only.
	Upgrade(ctx context.Context, userID string, tier model.Tier, durationDays, customLimit int) error
	GetSubscriptionInfo(ctx context.Context, userID string) (*model.SubscriptionInfo, error)
	// DowngradeExpired rewrites lapsed paid tiers to FREE and returns how many changed.
	DowngradeExpired(ctx context.Context) (int, error)
}

type quotaService struct {
	repo    repository.QuotaRepository
	events  EventPublisher
	metrics *metrics.Metrics
	clock   clock.Clock
	loc     *time.Location
	logger  zerolog.Logger
}

func NewQuotaService(
	repo repository.QuotaRepository,
	events EventPublisher,
	m *metrics.Metrics,
	clk clock.Clock,
	loc *time.Location,
	logger zerolog.Logger,
) QuotaService {
	if events == nil {
		events = NopEventPublisher()
	}
	if clk == nil {
		clk = clock.Real()
	}
	if loc == nil {
		loc = time.Local
	}
	return &quotaService{
		repo:    repo,
		events:  events,
		metrics: m,
		clock:   clk,
		loc:     loc,
		logger:  logger.With().Str("service", "QuotaService").Logger(),
	}
}

// storageErr leaves domain sentinels untouched and marks everything else as
// a storage failure.
func storageErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrQuotaNotFound),
		errors.Is(err, quota.ErrInvalidTier),
		errors.Is(err, quota.ErrInvalidDuration),
		errors.Is(err, quota.ErrInvalidLimit):
		return err
	}
	return fmt.Errorf("%w: %w", ErrQuotaUnavailable, err)
}

func (s *quotaService) EnsureQuota(ctx context.Context, userID string) error {
	q := quota.NewFree(userID, s.clock.Now(), s.loc)
	if err := s.repo.CreateQuota(ctx, &q); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to create quota")
		return storageErr(err)
	}
	return nil
}

func (s *quotaService) EvaluateAndConsume(ctx context.Context, userID string) (model.QuotaDecision, error) {
	var (
		decision model.QuotaDecision
		tier     model.Tier
	)
	_, err := s.repo.UpdateQuota(ctx, userID, func(q *model.SubscriptionQuota) error {
		now := s.clock.Now()
		decision = quota.Consume(q, now, s.loc)
		tier = quota.EffectiveTier(q, now)
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to evaluate quota")
		return model.QuotaDecision{}, storageErr(err)
	}

	s.metrics.QuotaDecision(string(tier), decision.Allowed)
	if !decision.Allowed {
		s.logger.Info().
			Str("user_id", userID).
			Str("tier", string(tier)).
			Int("limit", decision.Limit).
			Time("reset_at", decision.ResetAt).
			Msg("Daily message quota exhausted")
		return decision, nil
	}
	if decision.Remaining == 0 {
		s.publish(ctx, newEvent(model.EventQuotaExhausted, userID, map[string]any{
			"tier":     tier,
			"limit":    decision.Limit,
			"reset_at": decision.ResetAt,
		}, s.clock.Now()))
	}
	return decision, nil
}

func (s *quotaService) Upgrade(ctx context.Context, userID string, tier model.Tier, durationDays, customLimit int) error {
	// Reject bad input before taking the row lock.
	var candidate model.SubscriptionQuota
	if err := quota.ApplyUpgrade(&candidate, tier, durationDays, customLimit, s.clock.Now()); err != nil {
		return err
	}

	updated, err := s.repo.UpdateQuota(ctx, userID, func(q *model.SubscriptionQuota) error {
		return quota.ApplyUpgrade(q, tier, durationDays, customLimit, s.clock.Now())
	})
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Str("tier", string(tier)).Msg("Failed to upgrade subscription")
		return storageErr(err)
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("tier", string(updated.SubscriptionType)).
		Int("limit", updated.MessageLimit).
		Int("duration_days", durationDays).
		Msg("Subscription updated")
	s.publish(ctx, newEvent(model.EventSubscriptionUpgraded, userID, map[string]any{
		"tier":     updated.SubscriptionType,
		"limit":    updated.MessageLimit,
		"end_date": updated.SubscriptionEndDate,
	}, s.clock.Now()))
	return nil
}

func (s *quotaService) GetSubscriptionInfo(ctx context.Context, userID string) (*model.SubscriptionInfo, error) {
	q, err := s.repo.GetQuota(ctx, userID)
	if err != nil {
		if !errors.Is(err, repository.ErrQuotaNotFound) {
			s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch quota")
		}
		return nil, storageErr(err)
	}
	info := quota.Info(*q, s.clock.Now(), s.loc)
	return &info, nil
}

func (s *quotaService) DowngradeExpired(ctx context.Context) (int, error) {
	now := s.clock.Now()
	ids, err := s.repo.DowngradeExpired(ctx, now, quota.TierLimits[model.TierFree])
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to downgrade expired subscriptions")
		return 0, storageErr(err)
	}
	for _, id := range ids {
		s.publish(ctx, newEvent(model.EventSubscriptionExpired, id, map[string]any{"tier": model.TierFree}, now))
	}
	if len(ids) > 0 {
		s.logger.Info().Int("count", len(ids)).Msg("Downgraded expired subscriptions")
	}
	return len(ids), nil
}

func (s *quotaService) publish(ctx context.Context, evt model.Event) {
	if err := s.events.Publish(ctx, evt); err != nil {
		s.logger.Warn().Err(err).Str("event_type", evt.Type).Str("user_id", evt.UserID).Msg("Failed to publish event")
	}
}
