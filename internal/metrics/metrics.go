package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	ProviderAttempts   *prometheus.CounterVec
	ProviderLatency    *prometheus.HistogramVec
	CacheLookups       *prometheus.CounterVec
	CacheWriteFailures prometheus.Counter
	CachePurged        prometheus.Counter
}

// New creates the metrics and registers them with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		ProviderAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "elevation_provider_attempts_total",
			Help: "Provider attempts by provider and observation status",
		}, []string{"provider", "status"}),
		ProviderLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "elevation_provider_latency_seconds",
			Help:    "Wall time of provider calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "elevation_cache_lookups_total",
			Help: "Cache lookups by result (hit, miss, error)",
		}, []string{"result"}),
		CacheWriteFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "elevation_cache_write_failures_total",
			Help: "Successful fetches whose cache write failed",
		}),
		CachePurged: f.NewCounter(prometheus.CounterOpts{
			Name: "elevation_cache_purged_entries_total",
			Help: "Entries removed by explicit purges",
		}),
	}
}

// ObserveAttempt records one provider attempt. Safe on a nil receiver.
func (m *Metrics) ObserveAttempt(provider, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ProviderAttempts.WithLabelValues(provider, status).Inc()
	m.ProviderLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// ObserveCacheLookup records a lookup result. Safe on a nil receiver.
func (m *Metrics) ObserveCacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// IncCacheWriteFailures counts a lost caching opportunity. Safe on a nil receiver.
func (m *Metrics) IncCacheWriteFailures() {
	if m == nil {
		return
	}
	m.CacheWriteFailures.Inc()
}

// AddPurged counts purged entries. Safe on a nil receiver.
func (m *Metrics) AddPurged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CachePurged.Add(float64(n))
}
