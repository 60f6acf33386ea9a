// Package metrics exposes Prometheus collectors for limiter, quota and
// provider activity. A nil *Metrics records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry         *prometheus.Registry
	guestDecisions   *prometheus.CounterVec
	guestSwept       prometheus.Counter
	quotaDecisions   *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	providerErrors   *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		guestDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "norvis_guest_decisions_total",
			Help: "Guest rate limiter decisions by result.",
		}, []string{"result"}),
		guestSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "norvis_guest_sweeps_removed_total",
			Help: "Expired guest entries removed by the sweeper.",
		}),
		quotaDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "norvis_quota_decisions_total",
			Help: "Subscription quota decisions by tier and result.",
		}, []string{"tier", "result"}),
		providerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "norvis_provider_request_duration_seconds",
			Help:    "AI provider call latency.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"provider"}),
		providerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "norvis_provider_errors_total",
			Help: "AI provider call failures.",
		}, []string{"provider"}),
	}
	reg.MustRegister(
		m.guestDecisions,
		m.guestSwept,
		m.quotaDecisions,
		m.providerDuration,
		m.providerErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func result(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}

func (m *Metrics) GuestDecision(allowed bool) {
	if m == nil {
		return
	}
	m.guestDecisions.WithLabelValues(result(allowed)).Inc()
}

func (m *Metrics) GuestSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.guestSwept.Add(float64(n))
}

func (m *Metrics) QuotaDecision(tier string, allowed bool) {
	if m == nil {
		return
	}
	m.quotaDecisions.WithLabelValues(tier, result(allowed)).Inc()
}

func (m *Metrics) ProviderCall(provider string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.providerDuration.WithLabelValues(provider).Observe(d.Seconds())
	if err != nil {
		m.providerErrors.WithLabelValues(provider).Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
