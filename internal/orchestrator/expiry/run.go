// Package expiry periodically rewrites lapsed paid subscriptions to FREE.
// Quota evaluation already treats them as FREE; the sweep keeps storage and
// reporting in step and emits subscription.expired events.
package expiry

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Downgrader is satisfied by service.QuotaService.
type Downgrader interface {
	DowngradeExpired(ctx context.Context) (int, error)
}

// Run sweeps once immediately and then every interval until ctx is done.
func Run(ctx context.Context, logger zerolog.Logger, svc Downgrader, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("expiry sweep interval must be positive, got %s", interval)
	}
	log := logger.With().Str("orchestrator", "expiry").Logger()
	log.Info().Dur("interval", interval).Msg("Starting expiry orchestrator")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		sweep(ctx, log, svc)
		select {
		case <-ctx.Done():
			log.Info().Msg("Shutting down expiry orchestrator")
			return nil
		case <-ticker.C:
		}
	}
}

func sweep(ctx context.Context, log zerolog.Logger, svc Downgrader) {
	n, err := svc.DowngradeExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Msg("Expiry sweep failed")
		}
		return
	}
	log.Debug().Int("downgraded", n).Msg("Expiry sweep finished")
}
