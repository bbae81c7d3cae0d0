// Package mitigation turns classified detections into remediation: it maps
// risk tiers onto ordered action lists and executes them against the
// package manager, the validator and the notification channels.
package mitigation

import "context"

// ActionKind is the closed vocabulary of response actions. Configured
// action names outside this set are skipped with a warning, never executed.
type ActionKind string

const (
	ActionRollback     ActionKind = "rollback"
	ActionValidate     ActionKind = "validate"
	ActionBlockUpdates ActionKind = "block_updates"
	ActionNotify       ActionKind = "notify"
)

// ParseActionKind maps a configured action name onto the vocabulary. The
// second return is false for unrecognized names.
func ParseActionKind(name string) (ActionKind, bool) {
	switch kind := ActionKind(name); kind {
	case ActionRollback, ActionValidate, ActionBlockUpdates, ActionNotify:
		return kind, true
	}
	return "", false
}

// Target identifies the package a response action operates on. Actions are
// evaluated independently against the same target; outcomes of earlier
// actions are not fed into later ones.
type Target struct {
	Package string
	Version string
	Score   float64
}

// Outcome is the result of one executed action. Reason explains failures
// and is logged, never raised.
type Outcome struct {
	OK     bool
	Reason string
}

// Action is a single remediation step. Implementations must not panic;
// the orchestrator still recovers and records a failed outcome if one does.
type Action interface {
	Kind() ActionKind
	Execute(ctx context.Context, target Target) Outcome
}
