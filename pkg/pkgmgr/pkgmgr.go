// Package pkgmgr drives the system package tooling used for remediation:
// exact-version installs through pip and apt-style update pins.
package pkgmgr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Installer installs an exact version of a package.
type Installer interface {
	Install(ctx context.Context, name, version string) error
}

// PipInstaller installs packages with `pip install name==version`.
type PipInstaller struct {
	binary string
	logger zerolog.Logger
}

func NewPipInstaller(logger zerolog.Logger) *PipInstaller {
	return &PipInstaller{
		binary: "pip",
		logger: logger.With().Str("component", "pkgmgr").Logger(),
	}
}

// Install runs the installer for an exact version pin. A non-zero exit is
// returned as an error carrying the command output.
func (p *PipInstaller) Install(ctx context.Context, name, version string) error {
	spec := fmt.Sprintf("%s==%s", name, version)
	cmd := exec.CommandContext(ctx, p.binary, "install", spec)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("installing %s: %w: %s", spec, err, bytes.TrimSpace(output))
	}

	p.logger.Info().Str("package", name).Str("version", version).Msg("Installed package version")
	return nil
}

// Pinner blocks future updates for a package by writing a preferences file
// that pins every candidate version below installable priority.
type Pinner struct {
	dir    string
	logger zerolog.Logger
}

func NewPinner(dir string, logger zerolog.Logger) *Pinner {
	return &Pinner{
		dir:    dir,
		logger: logger.With().Str("component", "pkgmgr").Logger(),
	}
}

// PinUpdates writes the pin file for a package. Overwrites any existing pin,
// so repeated calls are idempotent.
func (p *Pinner) PinUpdates(name string) error {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("creating preferences dir %s: %w", p.dir, err)
	}

	path := filepath.Join(p.dir, name+"-block")
	content := fmt.Sprintf("Package: %s\nPin: version *\nPin-Priority: -1\n", name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing pin file %s: %w", path, err)
	}

	p.logger.Info().Str("package", name).Str("path", path).Msg("Blocked updates for package")
	return nil
}
