// Package alerting pushes detection results to downstream consumers, e.g.
// a SIEM collector. Delivery is fire-and-forget: failures are logged per
// sink and never fail the detection pipeline, and nothing is retried.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Alert is the payload delivered to every sink. The detection fields use
// the same wire names as the pipeline's result so downstream indexing sees
// one shape.
type Alert struct {
	ID           string   `json:"id"`
	Host         string   `json:"host"`
	Timestamp    string   `json:"timestamp"`
	Package      string   `json:"package_name"`
	AnomalyScore float64  `json:"anomaly_score"`
	RiskLevel    string   `json:"risk_level"`
	ActionsTaken []string `json:"actions_taken"`
}

// Sink delivers one alert to one destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, alert Alert) error
}

// Dispatcher stamps alerts with an ID and host, then fans them out to its
// sinks in registration order.
type Dispatcher struct {
	sinks []Sink
	host  string
	log   zerolog.Logger
}

func NewDispatcher(base zerolog.Logger, sinks ...Sink) *Dispatcher {
	host, _ := os.Hostname()
	return &Dispatcher{
		sinks: sinks,
		host:  host,
		log:   base.With().Str("component", "alerting").Logger(),
	}
}

// Dispatch sends the alert to every sink. A failing sink is logged and
// skipped; the remaining sinks still receive the alert.
func (d *Dispatcher) Dispatch(ctx context.Context, alert Alert) {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.Host == "" {
		alert.Host = d.host
	}

	for _, sink := range d.sinks {
		if err := sink.Send(ctx, alert); err != nil {
			d.log.Warn().Err(err).
				Str("sink", sink.Name()).
				Str("alert_id", alert.ID).
				Str("package", alert.Package).
				Msg("Alert delivery failed")
			continue
		}
		d.log.Debug().
			Str("sink", sink.Name()).
			Str("alert_id", alert.ID).
			Msg("Alert delivered")
	}
}

// LogSink writes alerts to the process log. It never fails.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(base zerolog.Logger) *LogSink {
	return &LogSink{log: base.With().Str("component", "alerting").Logger()}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, alert Alert) error {
	s.log.Warn().
		Str("alert_id", alert.ID).
		Str("package", alert.Package).
		Float64("anomaly_score", alert.AnomalyScore).
		Str("risk_level", alert.RiskLevel).
		Strs("actions_taken", alert.ActionsTaken).
		Msg("Supply chain anomaly detected")
	return nil
}

// HTTPSink POSTs alerts as JSON to a collector endpoint.
type HTTPSink struct {
	endpoint string
	httpc    *http.Client
}

func NewHTTPSink(endpoint string, timeout time.Duration) *HTTPSink {
	return &HTTPSink{
		endpoint: endpoint,
		httpc:    &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSink) Name() string { return "http" }

func (s *HTTPSink) Send(ctx context.Context, alert Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encoding alert %s: %w", alert.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("building alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("posting alert to %s: %w", s.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alert endpoint %s returned status %d", s.endpoint, resp.StatusCode)
	}
	return nil
}
