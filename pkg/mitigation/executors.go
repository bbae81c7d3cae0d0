package mitigation

import (
	"context"

	"github.com/pkg-warden/warden/pkg/validator"
)

// Reverter restores a package to a known-good version. Implemented by
// rollback.Manager.
type Reverter interface {
	Rollback(ctx context.Context, name, targetVersion string) error
}

// PackageValidator re-checks a package against the upstream index.
// Implemented by validator.Validator.
type PackageValidator interface {
	Validate(ctx context.Context, name, version string) validator.Result
}

// UpdateBlocker pins a package against future updates. Implemented by
// pkgmgr.Pinner.
type UpdateBlocker interface {
	PinUpdates(name string) error
}

// RollbackAction reinstalls the most recent backed-up version. It never
// passes an explicit target: the ledger decides.
type RollbackAction struct {
	reverter Reverter
}

func NewRollbackAction(reverter Reverter) *RollbackAction {
	return &RollbackAction{reverter: reverter}
}

func (a *RollbackAction) Kind() ActionKind { return ActionRollback }

func (a *RollbackAction) Execute(ctx context.Context, target Target) Outcome {
	if err := a.reverter.Rollback(ctx, target.Package, ""); err != nil {
		return Outcome{Reason: err.Error()}
	}
	return Outcome{OK: true, Reason: "rolled back to most recent backup"}
}

// ValidateAction runs the two-gate package validation; its success is the
// validator's verdict.
type ValidateAction struct {
	validator PackageValidator
}

func NewValidateAction(v PackageValidator) *ValidateAction {
	return &ValidateAction{validator: v}
}

func (a *ValidateAction) Kind() ActionKind { return ActionValidate }

func (a *ValidateAction) Execute(ctx context.Context, target Target) Outcome {
	res := a.validator.Validate(ctx, target.Package, target.Version)
	return Outcome{OK: res.OK, Reason: res.Reason}
}

// BlockUpdatesAction pins the package so no further versions install.
type BlockUpdatesAction struct {
	blocker UpdateBlocker
}

func NewBlockUpdatesAction(blocker UpdateBlocker) *BlockUpdatesAction {
	return &BlockUpdatesAction{blocker: blocker}
}

func (a *BlockUpdatesAction) Kind() ActionKind { return ActionBlockUpdates }

func (a *BlockUpdatesAction) Execute(ctx context.Context, target Target) Outcome {
	if err := a.blocker.PinUpdates(target.Package); err != nil {
		return Outcome{Reason: err.Error()}
	}
	return Outcome{OK: true, Reason: "updates blocked"}
}
