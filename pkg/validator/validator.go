// Package validator checks that an installed package still matches what the
// upstream index publishes for it.
package validator

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pkg-warden/warden/pkg/errors"
	"github.com/pkg-warden/warden/pkg/registry"
)

// DefaultAllowedSources are the hosts trusted when no allow-list is
// configured.
var DefaultAllowedSources = []string{"pypi.org", "github.com", "gitlab.com"}

// Stage identifies which validation gate produced a failure.
type Stage string

const (
	StageSource    Stage = "source"
	StageIntegrity Stage = "integrity"
)

// Result is the outcome of a validation run. Stage is set only when OK is
// false and names the gate that rejected the package.
type Result struct {
	OK     bool
	Stage  Stage
	Reason string
}

// IndexClient is the slice of the registry client the validator needs.
// Implemented by registry.Client.
type IndexClient interface {
	GetProject(ctx context.Context, name string) (*registry.Project, error)
	GetRelease(ctx context.Context, name, version string) ([]registry.Artifact, error)
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// Validator runs the two validation gates in order: source trust first,
// then artifact integrity. Both gates fail closed, so a network failure or
// an unexpected index response counts as an invalid package.
type Validator struct {
	client  IndexClient
	allowed []string
	logger  zerolog.Logger
}

// New returns a Validator using client to reach the package index. An empty
// allow-list falls back to DefaultAllowedSources.
func New(client IndexClient, allowedSources []string, logger zerolog.Logger) *Validator {
	if len(allowedSources) == 0 {
		allowedSources = DefaultAllowedSources
	}
	return &Validator{
		client:  client,
		allowed: allowedSources,
		logger:  logger.With().Str("component", "validator").Logger(),
	}
}

// Validate checks the package's declared source and the integrity of its
// published artifacts for the exact version. The gates short-circuit: a
// package from an untrusted source is never downloaded.
func (v *Validator) Validate(ctx context.Context, name, version string) Result {
	trusted, err := v.sourceTrusted(ctx, name)
	if err != nil {
		errors.NewNetworkError("validator", "project metadata fetch", err).Log(v.logger)
		trusted = false
	}
	if !trusted {
		return Result{Stage: StageSource, Reason: fmt.Sprintf("package %s is from an untrusted source", name)}
	}

	intact, err := v.integrityHolds(ctx, name, version)
	if err != nil {
		errors.NewNetworkError("validator", "release metadata fetch", err).Log(v.logger)
		intact = false
	}
	if !intact {
		return Result{Stage: StageIntegrity, Reason: fmt.Sprintf("package %s version %s failed integrity check", name, version)}
	}

	return Result{OK: true, Reason: "package validation successful"}
}

// sourceTrusted reports whether any of the project's declared URLs contains
// an allow-listed host. Matching is a case-insensitive substring test.
func (v *Validator) sourceTrusted(ctx context.Context, name string) (bool, error) {
	proj, err := v.client.GetProject(ctx, name)
	if err != nil {
		return false, err
	}
	for _, raw := range proj.Info.ProjectURLs {
		url := strings.ToLower(raw)
		for _, src := range v.allowed {
			if strings.Contains(url, strings.ToLower(src)) {
				return true, nil
			}
		}
	}
	return false, nil
}

// integrityHolds downloads the version's published artifacts and reports
// whether at least one matches both of its advertised digests. A failure to
// verify one artifact does not stop the scan of the remaining ones.
func (v *Validator) integrityHolds(ctx context.Context, name, version string) (bool, error) {
	artifacts, err := v.client.GetRelease(ctx, name, version)
	if err != nil {
		return false, err
	}
	if len(artifacts) == 0 {
		return false, nil
	}

	for _, artifact := range artifacts {
		ok, err := v.verifyArtifact(ctx, artifact)
		if err != nil {
			v.logger.Warn().Err(err).Str("url", artifact.URL).Msg("Artifact verification errored")
			continue
		}
		if ok {
			return true, nil
		}
		errors.NewIntegrityError("validator", name, artifact.URL).Log(v.logger)
	}
	return false, nil
}

func (v *Validator) verifyArtifact(ctx context.Context, artifact registry.Artifact) (bool, error) {
	body, err := v.client.Download(ctx, artifact.URL)
	if err != nil {
		return false, err
	}
	defer body.Close()

	md5Hash := md5.New()
	sha256Hash := sha256.New()
	if _, err := io.Copy(io.MultiWriter(md5Hash, sha256Hash), body); err != nil {
		return false, fmt.Errorf("reading artifact %s: %w", artifact.URL, err)
	}

	md5OK := hex.EncodeToString(md5Hash.Sum(nil)) == strings.ToLower(artifact.MD5Digest)
	sha256OK := hex.EncodeToString(sha256Hash.Sum(nil)) == strings.ToLower(artifact.SHA256Digest)
	return md5OK && sha256OK, nil
}
