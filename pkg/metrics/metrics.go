// Package metrics holds the Prometheus collectors shared across the
// detection pipeline. Collectors are registered once at init; duplicate
// registration (tests importing the package repeatedly) is ignored.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// DetectionsTotal counts anomalous detection events by package and tier.
	DetectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "warden", Subsystem: "pipeline", Name: "detections_total", Help: "Total number of anomaly detections by package and risk level."},
		[]string{"package", "risk_level"},
	)
	// WindowsScored counts every window pushed through the model, anomalous
	// or not.
	WindowsScored = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "warden", Subsystem: "pipeline", Name: "windows_scored_total", Help: "Total number of telemetry windows scored by the detector."},
	)
	// AnomalyScores tracks the score distribution across all scored windows.
	AnomalyScores = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "warden", Subsystem: "pipeline", Name: "anomaly_score_distribution",
			Help:    "Distribution of anomaly scores produced by the detector.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 9),
		},
	)
	// LastDetectionTimestamp is the Unix time of the most recent anomaly.
	LastDetectionTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "warden", Subsystem: "pipeline", Name: "last_detection_timestamp_seconds", Help: "Unix timestamp of the most recent anomaly detection."},
	)
	// ActionsTotal counts executed response actions by outcome
	// (success, failure or skipped).
	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "warden", Subsystem: "mitigation", Name: "actions_total", Help: "Total number of response actions by action name and outcome."},
		[]string{"action", "outcome"},
	)
	// BackupRecords is the current number of ledger records per package.
	BackupRecords = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "warden", Subsystem: "backup", Name: "records", Help: "Current number of backup records in the ledger per package."},
		[]string{"package"},
	)
)

func init() {
	_ = prometheus.Register(DetectionsTotal)
	_ = prometheus.Register(WindowsScored)
	_ = prometheus.Register(AnomalyScores)
	_ = prometheus.Register(LastDetectionTimestamp)
	_ = prometheus.Register(ActionsTotal)
	_ = prometheus.Register(BackupRecords)
}
