package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegistry(t *testing.T) {
	InitRegistry()
	registry := GetRegistry()

	assert.NotNil(t, registry)
	assert.IsType(t, &prometheus.Registry{}, registry)
	assert.Same(t, registry, InitRegistry())
}

func TestRecordPipelineRun(t *testing.T) {
	InitRegistry()
	before := testutil.ToFloat64(PredictionsTotal.WithLabelValues("predict", "success"))

	RecordPipelineRun("predict", true, 0.25)

	after := testutil.ToFloat64(PredictionsTotal.WithLabelValues("predict", "success"))
	assert.Equal(t, before+1, after)
}

func TestRecordEngineInvocation(t *testing.T) {
	InitRegistry()
	before := testutil.ToFloat64(EngineInvocationsTotal.WithLabelValues("real", "timeout"))

	assert.NotPanics(t, func() {
		RecordEngineInvocation("real", "timeout", 120)
		RecordEngineFallback("succeeded")
	})

	assert.Equal(t, before+1, testutil.ToFloat64(EngineInvocationsTotal.WithLabelValues("real", "timeout")))
}

func TestRecordCacheLookup(t *testing.T) {
	InitRegistry()

	RecordCacheLookup(true, 0.75)
	assert.Equal(t, 0.75, testutil.ToFloat64(CacheHitRatio))

	RecordCacheLookup(false, 0.5)
	assert.Equal(t, 0.5, testutil.ToFloat64(CacheHitRatio))
}

func TestSearchMetrics(t *testing.T) {
	InitRegistry()

	assert.NotPanics(t, func() {
		RecordSearchCandidate("evaluated")
		RecordSearchCandidate("excluded")
		RecordSearch(1.5, 0.04)
	})
	assert.Equal(t, 0.04, testutil.ToFloat64(SearchBestDelta))
}

func TestMetricsHandler(t *testing.T) {
	InitRegistry()
	RecordDataSourceRequest("csv", true)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rally_coach_data_source_requests_total")
}

func BenchmarkRecordSearchCandidate(b *testing.B) {
	InitRegistry()
	for i := 0; i < b.N; i++ {
		RecordSearchCandidate("evaluated")
	}
}

func TestRecordAPIRequest(t *testing.T) {
	InitRegistry()
	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("predict", "404"))
	RecordAPIRequest("predict", 404)
	assert.Equal(t, before+1, testutil.ToFloat64(APIRequestsTotal.WithLabelValues("predict", "404")))
}
