// pkg/errors/pipeline_errors.go
package errors

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Kind classifies a failure inside the detection pipeline. The set is
// closed: every failure the system survives maps onto one of these.
type Kind string

const (
	// KindConfigUnavailable marks a missing or unreadable configuration
	// document. Callers substitute built-in defaults; never fatal.
	KindConfigUnavailable Kind = "config_unavailable"
	// KindNetworkFailure marks registry, install or notification I/O
	// errors. Surfaced as a false result plus reason, never propagated
	// across component boundaries.
	KindNetworkFailure Kind = "network_failure"
	// KindIntegrityMismatch marks a computed digest that differs from
	// the registry-published digest. A validation failure, not an error.
	KindIntegrityMismatch Kind = "integrity_mismatch"
	// KindUnknownAction marks a configured action name outside the fixed
	// vocabulary. Warned and skipped.
	KindUnknownAction Kind = "unknown_action"
	// KindBackupNotFound marks a rollback with no target version and no
	// backup history.
	KindBackupNotFound Kind = "backup_not_found"
	// KindResource marks local resource failures (files, processes).
	KindResource Kind = "resource"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// PipelineError is a structured error from a pipeline component.
type PipelineError struct {
	Component   string                 `json:"component"`
	Kind        Kind                   `json:"kind"`
	Message     string                 `json:"message"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Severity    Severity               `json:"severity"`
	Recoverable bool                   `json:"recoverable"`
	Cause       error                  `json:"-"`
}

// Error implements the error interface
func (pe *PipelineError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", pe.Component, pe.Kind, pe.Message)
}

// Unwrap returns the underlying cause
func (pe *PipelineError) Unwrap() error {
	return pe.Cause
}

// Log writes the error to the given logger at a level matching its severity.
func (pe *PipelineError) Log(logger zerolog.Logger) {
	logEvent := pe.logEvent(logger).
		Str("component", pe.Component).
		Str("kind", string(pe.Kind)).
		Str("message", pe.Message).
		Bool("recoverable", pe.Recoverable)

	if pe.Details != nil {
		logEvent = logEvent.Interface("details", pe.Details)
	}

	if pe.Cause != nil {
		logEvent = logEvent.AnErr("cause", pe.Cause)
	}

	logEvent.Msg("Pipeline error occurred")
}

// logEvent returns the appropriate zerolog event for severity
func (pe *PipelineError) logEvent(logger zerolog.Logger) *zerolog.Event {
	switch pe.Severity {
	case SeverityCritical:
		return logger.Error()
	case SeverityHigh:
		return logger.Error()
	case SeverityMedium:
		return logger.Warn()
	case SeverityLow:
		return logger.Info()
	case SeverityInfo:
		return logger.Debug()
	default:
		return logger.Info()
	}
}

// Helper functions for creating common error types

func NewConfigError(component string, cause error, details map[string]interface{}) *PipelineError {
	return &PipelineError{
		Component:   component,
		Kind:        KindConfigUnavailable,
		Message:     "Configuration unavailable, using defaults",
		Details:     details,
		Timestamp:   time.Now(),
		Severity:    SeverityLow,
		Recoverable: true,
		Cause:       cause,
	}
}

func NewNetworkError(component string, operation string, cause error) *PipelineError {
	return &PipelineError{
		Component: component,
		Kind:      KindNetworkFailure,
		Message:   fmt.Sprintf("Network operation failed: %s", operation),
		Details: map[string]interface{}{
			"operation": operation,
		},
		Timestamp:   time.Now(),
		Severity:    SeverityMedium,
		Recoverable: true,
		Cause:       cause,
	}
}

func NewIntegrityError(component string, pkg string, artifact string) *PipelineError {
	return &PipelineError{
		Component: component,
		Kind:      KindIntegrityMismatch,
		Message:   fmt.Sprintf("Digest mismatch for package: %s", pkg),
		Details: map[string]interface{}{
			"package":  pkg,
			"artifact": artifact,
		},
		Timestamp:   time.Now(),
		Severity:    SeverityHigh,
		Recoverable: false,
	}
}

func NewUnknownActionError(component string, action string) *PipelineError {
	return &PipelineError{
		Component: component,
		Kind:      KindUnknownAction,
		Message:   fmt.Sprintf("Unknown action skipped: %s", action),
		Details: map[string]interface{}{
			"action": action,
		},
		Timestamp:   time.Now(),
		Severity:    SeverityLow,
		Recoverable: true,
	}
}

func NewBackupNotFoundError(component string, pkg string) *PipelineError {
	return &PipelineError{
		Component: component,
		Kind:      KindBackupNotFound,
		Message:   fmt.Sprintf("No backup history for package: %s", pkg),
		Details: map[string]interface{}{
			"package": pkg,
		},
		Timestamp:   time.Now(),
		Severity:    SeverityMedium,
		Recoverable: true,
	}
}

func NewResourceError(component string, resource string, cause error) *PipelineError {
	return &PipelineError{
		Component: component,
		Kind:      KindResource,
		Message:   fmt.Sprintf("Resource unavailable: %s", resource),
		Details: map[string]interface{}{
			"resource": resource,
		},
		Timestamp:   time.Now(),
		Severity:    SeverityMedium,
		Recoverable: true,
		Cause:       cause,
	}
}
