package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
)

type fakeReporter struct {
	name    string
	lastRun time.Time
	lastErr error
	metrics map[string]interface{}
}

func (f *fakeReporter) Name() string                       { return f.name }
func (f *fakeReporter) LastRun() (time.Time, error)        { return f.lastRun, f.lastErr }
func (f *fakeReporter) GetMetrics() map[string]interface{} { return f.metrics }

func TestHealthzHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	healthzHandler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestMetricsHandlerServesPrometheusText(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	promhttp.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Body.String())
}

func TestStatuszHandler(t *testing.T) {
	ran := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	reporters := []StatusReporter{
		&fakeReporter{
			name:    "packages",
			lastRun: ran,
			metrics: map[string]interface{}{"packages_sampled": 3},
		},
		&fakeReporter{
			name:    "stale",
			lastErr: assert.AnError,
			metrics: map[string]interface{}{},
		},
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/statusz", nil)

	statuszHandler(reporters)(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var statuses []MonitorStatus
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
	assert.Len(t, statuses, 2)

	assert.Equal(t, "packages", statuses[0].Monitor)
	assert.Equal(t, "2025-06-01T12:00:00Z", statuses[0].LastRun)
	assert.Empty(t, statuses[0].LastError)
	assert.Equal(t, float64(3), statuses[0].Metrics["packages_sampled"])

	assert.Equal(t, "stale", statuses[1].Monitor)
	assert.Empty(t, statuses[1].LastRun)
	assert.Equal(t, assert.AnError.Error(), statuses[1].LastError)
}

func TestStatuszHandlerNoReporters(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/statusz", nil)

	statuszHandler(nil)(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}
