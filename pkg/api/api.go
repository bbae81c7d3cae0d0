// Package api exposes the daemon's operational HTTP surface: liveness,
// Prometheus metrics and per-monitor status.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// StatusReporter is the read-only status surface a monitor exposes to the
// /statusz endpoint.
type StatusReporter interface {
	Name() string
	LastRun() (time.Time, error)
	GetMetrics() map[string]interface{}
}

// MonitorStatus is one entry in the /statusz response.
type MonitorStatus struct {
	Monitor   string                 `json:"monitor"`
	LastRun   string                 `json:"last_run,omitempty"`
	LastError string                 `json:"last_error,omitempty"`
	Metrics   map[string]interface{} `json:"metrics"`
}

// StartAPIServer initializes and starts a simple HTTP server in a goroutine.
// It provides endpoints for health checks (/healthz), Prometheus metrics
// (/metrics) and monitor status (/statusz). The server runs until the
// application is terminated.
func StartAPIServer(port string, reporters ...StatusReporter) {
	http.HandleFunc("/healthz", healthzHandler)
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/statusz", statuszHandler(reporters))

	log.Info().Msgf("API server starting on :%s", port)
	err := http.ListenAndServe(":"+port, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("API server failed to start")
	}
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func statuszHandler(reporters []StatusReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statuses := make([]MonitorStatus, 0, len(reporters))
		for _, rep := range reporters {
			lastRun, lastErr := rep.LastRun()
			status := MonitorStatus{
				Monitor: rep.Name(),
				Metrics: rep.GetMetrics(),
			}
			if !lastRun.IsZero() {
				status.LastRun = lastRun.Format(time.RFC3339)
			}
			if lastErr != nil {
				status.LastError = lastErr.Error()
			}
			statuses = append(statuses, status)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(statuses); err != nil {
			log.Error().Err(err).Msg("Failed to encode monitor status")
		}
	}
}
