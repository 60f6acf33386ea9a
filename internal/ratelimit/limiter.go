// Package ratelimit bounds anonymous chat usage per client IP within a
// rolling window. Denial is a normal outcome returned as a Decision; only an
// unreachable backing store produces an error.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"norvis/internal/clock"
	"norvis/internal/metrics"

	"github.com/rs/zerolog"
)

// ErrStoreUnavailable wraps failures of the backing store.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// Config holds the guest policy parameters.
type Config struct {
	MaxMessages   int
	Window        time.Duration
	SweepInterval time.Duration
}

// DefaultConfig is three messages per rolling hour, swept every five minutes.
func DefaultConfig() Config {
	return Config{
		MaxMessages:   3,
		Window:        time.Hour,
		SweepInterval: 5 * time.Minute,
	}
}

// Decision is the result of one check. RetryAfterSeconds is set on denial,
// Remaining on allow.
type Decision struct {
	Allowed           bool
	Remaining         int
	RetryAfterSeconds int
}

// Store performs the atomic check-and-increment for one key.
type Store interface {
	CheckAndConsume(ctx context.Context, key string, now time.Time) (Decision, error)
	// Sweep deletes entries whose window has elapsed and returns how many were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
	Close() error
}

// Limiter owns a Store and its periodic sweep.
type Limiter struct {
	store    Store
	clock    clock.Clock
	interval time.Duration
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	started   atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

type Option func(*Limiter)

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

func WithClock(c clock.Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// NewLimiter wires a store. Call Start to launch the background sweep and
// Close to stop it and release the store.
func NewLimiter(store Store, cfg Config, logger zerolog.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		store:    store,
		clock:    clock.Real(),
		interval: cfg.SweepInterval,
		logger:   logger.With().Str("component", "GuestLimiter").Logger(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckAndConsume consults the store for ip at the limiter's current time.
func (l *Limiter) CheckAndConsume(ctx context.Context, ip string) (Decision, error) {
	d, err := l.store.CheckAndConsume(ctx, ip, l.clock.Now())
	if err != nil {
		l.logger.Error().Err(err).Str("ip", ip).Msg("Guest rate limit check failed")
		if !errors.Is(err, ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		return Decision{}, err
	}
	l.metrics.GuestDecision(d.Allowed)
	if !d.Allowed {
		l.logger.Info().Str("ip", ip).Int("retry_after_seconds", d.RetryAfterSeconds).Msg("Guest message denied")
	}
	return d, nil
}

// Sweep runs one expiry pass immediately.
func (l *Limiter) Sweep(ctx context.Context) (int, error) {
	n, err := l.store.Sweep(ctx, l.clock.Now())
	if err != nil {
		return 0, err
	}
	l.metrics.GuestSwept(n)
	return n, nil
}

// Start launches the sweep goroutine. It is detached from request handling
// and stops on Close.
func (l *Limiter) Start() {
	l.startOnce.Do(func() {
		l.started.Store(true)
		go l.sweepLoop()
	})
}

func (l *Limiter) sweepLoop() {
	defer close(l.done)
	if l.interval <= 0 {
		<-l.stop
		return
	}
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			n, err := l.Sweep(context.Background())
			if err != nil {
				l.logger.Error().Err(err).Msg("Guest rate limit sweep failed")
				continue
			}
			if n > 0 {
				l.logger.Debug().Int("removed", n).Msg("Swept expired guest entries")
			}
		}
	}
}

// Close stops the sweeper (if started) and closes the store.
func (l *Limiter) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.stop)
		if l.started.Load() {
			<-l.done
		}
		err = l.store.Close()
	})
	return err
}

// retryAfterSeconds rounds the remaining window up to whole seconds, never below one.
func retryAfterSeconds(remaining time.Duration) int {
	secs := int(math.Ceil(remaining.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
