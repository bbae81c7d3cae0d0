package mitigation

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pkg-warden/warden/pkg/config"
	"github.com/pkg-warden/warden/pkg/errors"
	"github.com/pkg-warden/warden/pkg/metrics"
	"github.com/pkg-warden/warden/pkg/risk"
)

// Orchestrator walks one detection event through classification, the
// tier's configured response actions and the audit record. Each event is
// handled start-to-finish; actions run once, in configured order, with no
// retry loop.
type Orchestrator struct {
	thresholds risk.Thresholds
	responses  map[string][]string
	registry   map[ActionKind]Action
	audit      zerolog.Logger
	log        zerolog.Logger
}

// NewOrchestrator validates the tier thresholds and indexes the executors
// by kind. Duplicate executors for one kind are a wiring mistake and fail
// construction.
func NewOrchestrator(cfg config.MitigationConfig, actions []Action, audit zerolog.Logger, base zerolog.Logger) (*Orchestrator, error) {
	thresholds := risk.Thresholds{
		High:   cfg.Thresholds.HighRisk,
		Medium: cfg.Thresholds.MediumRisk,
		Low:    cfg.Thresholds.LowRisk,
	}
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}

	registry := make(map[ActionKind]Action, len(actions))
	for _, action := range actions {
		if _, dup := registry[action.Kind()]; dup {
			return nil, fmt.Errorf("duplicate executor for action %q", action.Kind())
		}
		registry[action.Kind()] = action
	}

	return &Orchestrator{
		thresholds: thresholds,
		responses:  cfg.ResponseActions,
		registry:   registry,
		audit:      audit,
		log:        base.With().Str("component", "mitigation").Logger(),
	}, nil
}

// HandleDetection classifies the target's score, executes the tier's
// actions in order and emits the audit record. It returns the names of the
// actions that succeeded, in execution order, plus the tier applied. A
// failed, unknown or unregistered action never stops the remaining ones.
func (o *Orchestrator) HandleDetection(ctx context.Context, target Target, detectedAt time.Time) ([]string, risk.Tier) {
	tier := risk.Classify(target.Score, o.thresholds)

	names := o.responses[tier.Key()]
	executed := make([]string, 0, len(names))

	for _, name := range names {
		kind, known := ParseActionKind(name)
		if !known {
			errors.NewUnknownActionError("mitigation", name).Log(o.log)
			metrics.ActionsTotal.WithLabelValues(name, "skipped").Inc()
			continue
		}
		action, registered := o.registry[kind]
		if !registered {
			o.log.Warn().Str("action", name).Msg("No executor registered for action")
			metrics.ActionsTotal.WithLabelValues(name, "skipped").Inc()
			continue
		}

		outcome := o.runAction(ctx, action, target)
		if outcome.OK {
			executed = append(executed, string(kind))
			metrics.ActionsTotal.WithLabelValues(string(kind), "success").Inc()
			o.log.Info().
				Str("action", string(kind)).
				Str("package", target.Package).
				Msg("Response action succeeded")
		} else {
			metrics.ActionsTotal.WithLabelValues(string(kind), "failure").Inc()
			o.log.Warn().
				Str("action", string(kind)).
				Str("package", target.Package).
				Str("reason", outcome.Reason).
				Msg("Response action failed")
		}
	}

	o.audit.Info().
		Str("timestamp", detectedAt.Format(time.RFC3339)).
		Str("package", target.Package).
		Str("risk_level", tier.String()).
		Float64("anomaly_score", target.Score).
		Strs("actions_taken", executed).
		Msg("Mitigation response recorded")

	return executed, tier
}

// runAction isolates one executor so a panic degrades to a failed outcome
// for that action alone.
func (o *Orchestrator) runAction(ctx context.Context, action Action, target Target) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error().
				Str("action", string(action.Kind())).
				Str("package", target.Package).
				Interface("panic", r).
				Msg("Response action panicked")
			out = Outcome{Reason: fmt.Sprintf("action panicked: %v", r)}
		}
	}()
	return action.Execute(ctx, target)
}
