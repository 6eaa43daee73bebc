// Package metrics exposes Prometheus instrumentation for pipeline runs,
// provider calls and the response cache.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	defaultMetrics *Metrics
	defaultOnce    sync.Once
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
//
// Metrics:
//   - equity_research_phase_duration_seconds{phase,status}
//   - equity_research_runs_total{outcome} - done, degraded, aborted, suspended
//   - equity_research_cache_requests_total{result} - hit, miss
//   - equity_research_provider_requests_total{provider,status}
//   - equity_research_suspended_runs - runs waiting for review
type Metrics struct {
	PhaseDuration    *prometheus.HistogramVec
	RunsTotal        *prometheus.CounterVec
	CacheRequests    *prometheus.CounterVec
	ProviderRequests *prometheus.CounterVec
	SuspendedRuns    prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PhaseDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "equity_research_phase_duration_seconds",
				Help:    "Duration of pipeline phases in seconds",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"phase", "status"},
		),
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "equity_research_runs_total",
				Help: "Pipeline runs by outcome",
			},
			[]string{"outcome"},
		),
		CacheRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "equity_research_cache_requests_total",
				Help: "Provider response cache lookups",
			},
			[]string{"result"},
		),
		ProviderRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "equity_research_provider_requests_total",
				Help: "External provider calls by provider and status",
			},
			[]string{"provider", "status"},
		),
		SuspendedRuns: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "equity_research_suspended_runs",
				Help: "Runs suspended for human review",
			},
		),
	}
}

// Default returns the process-wide metrics registered on the default
// registerer. Registration happens once.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// ObservePhase records a phase duration.
func (m *Metrics) ObservePhase(phase, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(phase, status).Observe(d.Seconds())
}

// RunFinished counts a run reaching outcome.
func (m *Metrics) RunFinished(outcome string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
}

// CacheLookup counts a cache hit or miss. Its signature matches
// cache.Cache.OnLookup.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheRequests.WithLabelValues(result).Inc()
}

// ProviderCall counts an external call. err == nil records "ok".
func (m *Metrics) ProviderCall(provider string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ProviderRequests.WithLabelValues(provider, status).Inc()
}

// SetSuspended sets the suspended run gauge.
func (m *Metrics) SetSuspended(n int) {
	if m == nil {
		return
	}
	m.SuspendedRuns.Set(float64(n))
}
