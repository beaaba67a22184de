// Package metrics provides the centralized Prometheus metrics registry for the rally coach.
package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rally_coach"

// Global registry instance
var (
	registry *prometheus.Registry
	once     sync.Once
)

// Counter metrics
var (
	PredictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "predictions_total",
		Help:      "Total number of pipeline runs by kind and status",
	}, []string{"kind", "status"})
	DataSourceRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "data_source_requests_total",
		Help:      "Total number of historical data requests by source and status",
	}, []string{"source", "status"})
	ScheduledJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduled_jobs_total",
		Help:      "Total number of scheduled report jobs by job and status",
	}, []string{"job", "status"})
	APIRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "Total number of API requests by endpoint and HTTP status code",
	}, []string{"endpoint", "code"})
)

// Histogram metrics
var (
	PipelineDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "pipeline_duration_seconds",
		Help:      "Duration of complete pipeline runs in seconds",
		Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 600},
	}, []string{"kind"})
)

// InitRegistry initializes the global Prometheus registry.
func InitRegistry() *prometheus.Registry {
	once.Do(func() {
		registry = prometheus.NewRegistry()

		registry.MustRegister(PredictionsTotal)
		registry.MustRegister(DataSourceRequestsTotal)
		registry.MustRegister(ScheduledJobsTotal)
		registry.MustRegister(APIRequestsTotal)
		registry.MustRegister(PipelineDuration)

		registry.MustRegister(EngineInvocationsTotal)
		registry.MustRegister(EngineFallbacksTotal)
		registry.MustRegister(EngineInvocationDuration)
		registry.MustRegister(CacheRequestsTotal)
		registry.MustRegister(CacheHitRatio)

		registry.MustRegister(SearchCandidatesTotal)
		registry.MustRegister(SearchDuration)
		registry.MustRegister(SearchBestDelta)
	})
	return registry
}

// GetRegistry returns the global Prometheus registry.
func GetRegistry() *prometheus.Registry {
	return InitRegistry()
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(GetRegistry(), promhttp.HandlerOpts{})
}

// RecordPipelineRun records a finished predict or strategy run.
func RecordPipelineRun(kind string, success bool, durationSeconds float64) {
	PredictionsTotal.WithLabelValues(kind, statusLabel(success)).Inc()
	PipelineDuration.WithLabelValues(kind).Observe(durationSeconds)
}

// RecordDataSourceRequest records a request against a historical data source.
func RecordDataSourceRequest(source string, success bool) {
	DataSourceRequestsTotal.WithLabelValues(source, statusLabel(success)).Inc()
}

// RecordScheduledJob records a scheduler job outcome.
func RecordScheduledJob(job string, success bool) {
	ScheduledJobsTotal.WithLabelValues(job, statusLabel(success)).Inc()
}

// RecordAPIRequest records an answered API request.
func RecordAPIRequest(endpoint string, code int) {
	APIRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
