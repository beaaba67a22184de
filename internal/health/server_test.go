package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/rally-coach/internal/logger"
	"github.com/yourusername/rally-coach/internal/metrics"
)

func TestHealthAndLive(t *testing.T) {
	s := NewServer(Config{ServiceName: "rally-coach", Version: "test", EngineMode: "mock", Logger: logger.Discard()})

	for _, path := range []string{"/health", "/live"} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, "rally-coach", resp.Service)
	}
}

func TestReadyRunsChecks(t *testing.T) {
	healthy := CheckFunc{CheckName: "history", Fn: func(ctx context.Context) error { return nil }}
	broken := CheckFunc{CheckName: "engine", Fn: func(ctx context.Context) error { return errors.New("console missing") }}

	tests := []struct {
		name   string
		ready  bool
		checks []Checker
		status int
	}{
		{"not marked ready", false, nil, http.StatusServiceUnavailable},
		{"ready and healthy", true, []Checker{healthy}, http.StatusOK},
		{"failing check", true, []Checker{healthy, broken}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(Config{ServiceName: "rally-coach", Checks: tt.checks, Logger: logger.Discard()})
			s.SetReady(tt.ready)

			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
			assert.Equal(t, tt.status, rec.Code)

			var resp ReadyResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			for _, c := range tt.checks {
				assert.Contains(t, resp.Checks, c.Name())
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.InitRegistry()
	metrics.RecordPipelineRun("predict", true, 0.5)

	s := NewServer(Config{ServiceName: "rally-coach", MetricsHandler: metrics.Handler(), Logger: logger.Discard()})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rally_coach_")
}

func TestExtraRoutesMounted(t *testing.T) {
	api := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	s := NewServer(Config{ServiceName: "rally-coach", Routes: map[string]http.Handler{"/predict": api}, Logger: logger.Discard()})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/predict", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
