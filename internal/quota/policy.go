// Package quota holds the subscription quota policy: the tier table, the
// calendar-day reset rule and read-time expiry of paid tiers. It is pure;
// persistence and locking live in the repository and service layers.
package quota

import (
	"errors"
	"fmt"
	"time"

	"norvis/internal/model"
)

var (
	ErrInvalidTier     = errors.New("invalid subscription tier")
	ErrInvalidDuration = errors.New("invalid subscription duration")
	ErrInvalidLimit    = errors.New("invalid custom message limit")
)

// MaxCustomLimit caps admin-assigned CUSTOM limits.
const MaxCustomLimit = 5000

// TierLimits maps fixed tiers to their daily message ceilings. CUSTOM is
// admin-specified and therefore absent.
var TierLimits = map[model.Tier]int{
	model.TierFree:    25,
	model.TierPremium: 300,
	model.TierPro:     700,
}

// LimitFor returns the daily ceiling for tier. customLimit is only consulted
// for CUSTOM and must be in 1..MaxCustomLimit.
func LimitFor(tier model.Tier, customLimit int) (int, error) {
	if tier == model.TierCustom {
		if customLimit < 1 || customLimit > MaxCustomLimit {
			return 0, fmt.Errorf("%w: %d not in 1..%d", ErrInvalidLimit, customLimit, MaxCustomLimit)
		}
		return customLimit, nil
	}
	limit, ok := TierLimits[tier]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}
	return limit, nil
}

// DayStart returns midnight of t's calendar day in loc.
func DayStart(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// NextReset returns the next daily reset boundary after t.
func NextReset(t time.Time, loc *time.Location) time.Time {
	d := DayStart(t, loc)
	return time.Date(d.Year(), d.Month(), d.Day()+1, 0, 0, 0, 0, loc)
}

// Rollover zeroes the daily count when now lies on a later calendar day than
// the last settled reset. It reports whether q changed.
func Rollover(q *model.SubscriptionQuota, now time.Time, loc *time.Location) bool {
	today := DayStart(now, loc)
	if !today.After(DayStart(q.LastMessageResetDate, loc)) {
		return false
	}
	q.DailyMessageCount = 0
	q.LastMessageResetDate = today
	return true
}

// Expired reports whether a paid tier's validity window has passed.
func Expired(q *model.SubscriptionQuota, now time.Time) bool {
	if q.SubscriptionType == model.TierFree {
		return false
	}
	return q.SubscriptionEndDate == nil || q.SubscriptionEndDate.Before(now)
}

// EffectiveTier is the tier used for evaluation. An expired paid tier counts
// as FREE even if storage has not been downgraded yet.
func EffectiveTier(q *model.SubscriptionQuota, now time.Time) model.Tier {
	if Expired(q, now) {
		return model.TierFree
	}
	return q.SubscriptionType
}

// EffectiveLimit is the ceiling applied at now.
func EffectiveLimit(q *model.SubscriptionQuota, now time.Time) int {
	if EffectiveTier(q, now) == model.TierFree {
		return TierLimits[model.TierFree]
	}
	return q.MessageLimit
}

// IsPremium is true for a non-FREE tier whose end date lies in the future.
func IsPremium(q *model.SubscriptionQuota, now time.Time) bool {
	return q.SubscriptionType != model.TierFree && !Expired(q, now)
}

// Consume applies the reset rule, then checks and increments the count.
// q is mutated; callers persist it atomically.
func Consume(q *model.SubscriptionQuota, now time.Time, loc *time.Location) model.QuotaDecision {
	Rollover(q, now, loc)
	limit := EffectiveLimit(q, now)
	if q.DailyMessageCount >= limit {
		reset := NextReset(now, loc)
		return model.QuotaDecision{
			Allowed:           false,
			Limit:             limit,
			ResetAt:           reset,
			RetryAfterSeconds: RetryAfter(now, reset),
		}
	}
	q.DailyMessageCount++
	return model.QuotaDecision{
		Allowed:   true,
		Remaining: limit - q.DailyMessageCount,
		Limit:     limit,
		ResetAt:   NextReset(now, loc),
	}
}

// RetryAfter is the whole seconds from now until resetAt, rounded up and
// never below 1.
func RetryAfter(now, resetAt time.Time) int {
	d := resetAt.Sub(now)
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return max(secs, 1)
}

// Info projects q at now without mutating it.
func Info(q model.SubscriptionQuota, now time.Time, loc *time.Location) model.SubscriptionInfo {
	Rollover(&q, now, loc)
	limit := EffectiveLimit(&q, now)
	return model.SubscriptionInfo{
		Tier:      EffectiveTier(&q, now),
		IsPremium: IsPremium(&q, now),
		Remaining: max(limit-q.DailyMessageCount, 0),
		Limit:     limit,
		EndDate:   q.SubscriptionEndDate,
		ResetAt:   NextReset(now, loc),
	}
}

// ApplyUpgrade overwrites tier, limit and validity window. The daily count is
// kept so a mid-day upgrade grants the new ceiling immediately. Re-applying
// the same parameters at the same instant yields the same record.
func ApplyUpgrade(q *model.SubscriptionQuota, tier model.Tier, durationDays, customLimit int, now time.Time) error {
	if !tier.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}
	limit, err := LimitFor(tier, customLimit)
	if err != nil {
		return err
	}
	if tier != model.TierFree && durationDays < 1 {
		return fmt.Errorf("%w: %d days", ErrInvalidDuration, durationDays)
	}
	q.SubscriptionType = tier
	q.MessageLimit = limit
	if tier == model.TierFree {
		q.SubscriptionStartDate = nil
		q.SubscriptionEndDate = nil
		return nil
	}
	start := now
	end := now.AddDate(0, 0, durationDays)
	q.SubscriptionStartDate = &start
	q.SubscriptionEndDate = &end
	return nil
}

// NewFree returns the signup record.
func NewFree(userID string, now time.Time, loc *time.Location) model.SubscriptionQuota {
	return model.SubscriptionQuota{
		UserID:               userID,
		SubscriptionType:     model.TierFree,
		MessageLimit:         TierLimits[model.TierFree],
		LastMessageResetDate: DayStart(now, loc),
		UpdatedAt:            now,
	}
}
