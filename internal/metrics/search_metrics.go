package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Sensitivity search metrics
var (
	SearchCandidatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "search_candidates_total",
		Help:      "Total number of search candidates by status",
	}, []string{"status"})

	SearchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "search_duration_seconds",
		Help:      "Duration of sensitivity searches in seconds",
		Buckets:   []float64{0.01, 0.1, 1, 10, 60, 300, 900, 1800},
	})

	SearchBestDelta = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "search_best_delta",
		Help:      "Probability gain of the best candidate in the last search",
	})
)

// RecordSearchCandidate records the status of one candidate.
func RecordSearchCandidate(status string) {
	SearchCandidatesTotal.WithLabelValues(status).Inc()
}

// RecordSearch records a finished search.
func RecordSearch(durationSeconds, bestDelta float64) {
	SearchDuration.Observe(durationSeconds)
	SearchBestDelta.Set(bestDelta)
}
