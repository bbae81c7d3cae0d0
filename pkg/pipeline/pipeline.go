// Package pipeline runs a package's telemetry history through the full
// detection flow: windowing, scoring, the detection gate, mitigation and
// alert dispatch. One detection event is processed start-to-finish before
// the next begins.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pkg-warden/warden/pkg/alerting"
	"github.com/pkg-warden/warden/pkg/features"
	"github.com/pkg-warden/warden/pkg/metrics"
	"github.com/pkg-warden/warden/pkg/mitigation"
	"github.com/pkg-warden/warden/pkg/risk"
	"github.com/pkg-warden/warden/pkg/telemetry"
)

// DetectionResult is the outcome of scoring one window. Field names are the
// wire format consumed by alert sinks and downstream indexing.
type DetectionResult struct {
	Timestamp    string   `json:"timestamp"`
	Package      string   `json:"package_name"`
	AnomalyScore float64  `json:"anomaly_score"`
	Threshold    float64  `json:"threshold"`
	IsAnomaly    bool     `json:"is_anomaly"`
	RiskLevel    string   `json:"risk_level"`
	ActionsTaken []string `json:"actions_taken"`
}

// Scorer produces an anomaly score for one window. Implemented by
// detector.Model.
type Scorer interface {
	Score(w features.Window) (float64, error)
}

// Responder executes the mitigation flow for one anomalous package.
// Implemented by mitigation.Orchestrator.
type Responder interface {
	HandleDetection(ctx context.Context, target mitigation.Target, detectedAt time.Time) ([]string, risk.Tier)
}

// AlertDispatcher forwards detection results downstream. Implemented by
// alerting.Dispatcher.
type AlertDispatcher interface {
	Dispatch(ctx context.Context, alert alerting.Alert)
}

type Config struct {
	// Threshold is the detection gate: only scores strictly above it are
	// anomalies. Non-positive falls back to 0.8.
	Threshold float64
	// History is how many trailing samples are pulled per cycle.
	// Non-positive falls back to five windows worth.
	History int
}

// Pipeline ties the stages together. It remembers the newest window stamp
// already scored per package, so a cycle only processes windows that ended
// after the previous cycle's coverage.
type Pipeline struct {
	cfg       Config
	store     telemetry.Store
	windower  *features.Windower
	scorer    Scorer
	responder Responder
	alerts    AlertDispatcher
	log       zerolog.Logger

	mu       sync.Mutex
	lastSeen map[string]time.Time
	now      func() time.Time
}

func New(cfg Config, store telemetry.Store, windower *features.Windower, scorer Scorer, responder Responder, alerts AlertDispatcher, base zerolog.Logger) *Pipeline {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.8
	}
	if cfg.History <= 0 {
		cfg.History = 5 * windower.WindowSize()
	}
	return &Pipeline{
		cfg:       cfg,
		store:     store,
		windower:  windower,
		scorer:    scorer,
		responder: responder,
		alerts:    alerts,
		log:       base.With().Str("component", "pipeline").Logger(),
		lastSeen:  make(map[string]time.Time),
		now:       time.Now,
	}
}

// ProcessPackage scores every not-yet-seen window of the package's trailing
// history and returns one DetectionResult per scored window, oldest first.
// Too little history for a single window is not an error; it returns no
// results. A window whose scoring fails is logged and skipped; the
// remaining windows still run.
func (p *Pipeline) ProcessPackage(ctx context.Context, pkg string) ([]DetectionResult, error) {
	samples, err := p.store.Recent(pkg, p.cfg.History)
	if err != nil {
		return nil, fmt.Errorf("loading telemetry for %s: %w", pkg, err)
	}
	if len(samples) == 0 {
		return nil, nil
	}

	table := p.windower.Process(samples)
	p.windower.AddDerivedFeatures(table)
	windows, stamps := p.windower.MakeWindows(table)
	if len(windows) == 0 {
		p.log.Debug().Str("package", pkg).Int("samples", len(samples)).
			Msg("Not enough history to form a window")
		return nil, nil
	}

	version := latestVersion(table)
	mark := p.coverage(pkg)

	var results []DetectionResult
	for i, window := range windows {
		if !stamps[i].After(mark) {
			continue
		}
		result, err := p.processWindow(ctx, pkg, version, window)
		if err != nil {
			p.log.Warn().Err(err).Str("package", pkg).Msg("Window scoring failed")
			continue
		}
		results = append(results, result)
	}

	p.advanceCoverage(pkg, stamps[len(stamps)-1])
	return results, nil
}

// processWindow scores one window and, when the score clears the detection
// gate, hands the event to the responder and dispatches an alert. Scores at
// or below the gate produce a non-anomalous result with no actions and the
// risk level "none".
func (p *Pipeline) processWindow(ctx context.Context, pkg, version string, window features.Window) (DetectionResult, error) {
	score, err := p.scorer.Score(window)
	if err != nil {
		return DetectionResult{}, err
	}

	metrics.WindowsScored.Inc()
	metrics.AnomalyScores.Observe(score)

	detectedAt := p.now()
	result := DetectionResult{
		Timestamp:    detectedAt.Format(time.RFC3339),
		Package:      pkg,
		AnomalyScore: score,
		Threshold:    p.cfg.Threshold,
		RiskLevel:    "none",
		ActionsTaken: []string{},
	}

	if score <= p.cfg.Threshold {
		p.log.Debug().Str("package", pkg).
			Float64("score", score).
			Float64("threshold", p.cfg.Threshold).
			Msg("Window below detection threshold")
		return result, nil
	}

	target := mitigation.Target{Package: pkg, Version: version, Score: score}
	executed, tier := p.responder.HandleDetection(ctx, target, detectedAt)

	result.IsAnomaly = true
	result.RiskLevel = tier.String()
	result.ActionsTaken = executed

	metrics.DetectionsTotal.WithLabelValues(pkg, tier.String()).Inc()
	metrics.LastDetectionTimestamp.Set(float64(detectedAt.Unix()))

	p.log.Warn().Str("package", pkg).
		Float64("score", score).
		Str("risk_level", result.RiskLevel).
		Strs("actions_taken", executed).
		Msg("Anomaly detected")

	p.alerts.Dispatch(ctx, alerting.Alert{
		Timestamp:    result.Timestamp,
		Package:      pkg,
		AnomalyScore: score,
		RiskLevel:    result.RiskLevel,
		ActionsTaken: executed,
	})

	return result, nil
}

func (p *Pipeline) coverage(pkg string) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeen[pkg]
}

func (p *Pipeline) advanceCoverage(pkg string, stamp time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if stamp.After(p.lastSeen[pkg]) {
		p.lastSeen[pkg] = stamp
	}
}

// latestVersion is the version string of the newest row that carries one.
func latestVersion(t *features.Table) string {
	for i := len(t.Rows) - 1; i >= 0; i-- {
		if t.Rows[i].Version != "" {
			return t.Rows[i].Version
		}
	}
	return ""
}
