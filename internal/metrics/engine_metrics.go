package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Engine metrics
var (
	EngineInvocationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "engine_invocations_total",
		Help:      "Total number of engine invocations by mode and outcome",
	}, []string{"mode", "outcome"})

	EngineFallbacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "engine_fallbacks_total",
		Help:      "Total number of compatibility fallbacks by outcome",
	}, []string{"outcome"})

	EngineInvocationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "engine_invocation_duration_seconds",
		Help:      "Wall-clock duration of engine invocations in seconds",
		Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
	}, []string{"mode"})

	CacheRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "probability_cache_requests_total",
		Help:      "Total number of probability cache lookups by result",
	}, []string{"result"})

	CacheHitRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "probability_cache_hit_ratio",
		Help:      "Ratio of probability cache hits to lookups",
	})
)

// RecordEngineInvocation records an engine invocation by mode and outcome.
func RecordEngineInvocation(mode, outcome string, durationSeconds float64) {
	EngineInvocationsTotal.WithLabelValues(mode, outcome).Inc()
	EngineInvocationDuration.WithLabelValues(mode).Observe(durationSeconds)
}

// RecordEngineFallback records a compatibility fallback and whether the retry succeeded.
func RecordEngineFallback(outcome string) {
	EngineFallbacksTotal.WithLabelValues(outcome).Inc()
}

// RecordCacheLookup records a cache hit or miss and updates the hit ratio.
func RecordCacheLookup(hit bool, ratio float64) {
	if hit {
		CacheRequestsTotal.WithLabelValues("hit").Inc()
	} else {
		CacheRequestsTotal.WithLabelValues("miss").Inc()
	}
	CacheHitRatio.Set(ratio)
}
