package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"norvis/internal/metrics"

	"github.com/rs/zerolog"
)

type route struct {
	prefix   string
	provider Provider
}

// Registry routes a model name to the provider serving it by longest
// matching prefix.
type Registry struct {
	mu      sync.RWMutex
	routes  []route
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewRegistry(m *metrics.Metrics, logger zerolog.Logger) *Registry {
	return &Registry{
		metrics: m,
		logger:  logger.With().Str("component", "ProviderRegistry").Logger(),
	}
}

// Register makes p serve every model starting with one of prefixes.
func (r *Registry) Register(p Provider, prefixes ...string) error {
	if p == nil {
		return fmt.Errorf("provider cannot be nil")
	}
	if len(prefixes) == 0 {
		return fmt.Errorf("provider %s needs at least one model prefix", p.Name())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, prefix := range prefixes {
		r.routes = append(r.routes, route{prefix: prefix, provider: p})
	}
	sort.SliceStable(r.routes, func(i, j int) bool {
		return len(r.routes[i].prefix) > len(r.routes[j].prefix)
	})
	return nil
}

// Resolve returns the provider for modelName or ErrUnknownModel.
func (r *Registry) Resolve(modelName string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rt := range r.routes {
		if strings.HasPrefix(modelName, rt.prefix) {
			return rt.provider, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownModel, modelName)
}

// Generate resolves the model and calls its provider. Vendor failures are
// wrapped in ErrProviderFailed.
func (r *Registry) Generate(ctx context.Context, req Request) (*Response, error) {
	p, err := r.Resolve(req.Model)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := p.Generate(ctx, req)
	elapsed := time.Since(start)
	r.metrics.ProviderCall(p.Name(), elapsed, err)
	if err != nil {
		r.logger.Error().Err(err).
			Str("provider", p.Name()).
			Str("model", req.Model).
			Dur("duration", elapsed).
			Msg("Provider call failed")
		return nil, fmt.Errorf("%w: %s: %w", ErrProviderFailed, p.Name(), err)
	}
	r.logger.Debug().
		Str("provider", p.Name()).
		Str("model", req.Model).
		Int("output_tokens", resp.OutputTokens).
		Dur("duration", elapsed).
		Msg("Provider call completed")
	return resp, nil
}
