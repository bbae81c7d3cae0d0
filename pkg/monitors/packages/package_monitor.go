// Package packages implements the monitor that drives the detection
// pipeline. Each cycle it samples the configured packages plus any package
// whose files changed since the last cycle, persists the telemetry, runs
// every sampled package through detection and snapshots versions that came
// through clean so a later rollback has a known-good target.
package packages

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg-warden/warden/pkg/metrics"
	"github.com/pkg-warden/warden/pkg/monitors/base"
	"github.com/pkg-warden/warden/pkg/pipeline"
	"github.com/pkg-warden/warden/pkg/rollback"
	"github.com/pkg-warden/warden/pkg/telemetry"
	"github.com/rs/zerolog"
)

// Sampler produces one telemetry sample per package. Implemented by
// telemetry.Collector.
type Sampler interface {
	Packages() []string
	Collect(ctx context.Context, pkg string) (telemetry.Sample, error)
}

// ChangeFeed reports packages whose files changed since the last drain.
// Implemented by telemetry.Watcher.
type ChangeFeed interface {
	Drain() []string
}

// Processor runs one package's accumulated telemetry through detection and
// response. Implemented by pipeline.Pipeline.
type Processor interface {
	ProcessPackage(ctx context.Context, pkg string) ([]pipeline.DetectionResult, error)
}

// BackupKeeper preserves known-good package states. Implemented by
// rollback.Manager.
type BackupKeeper interface {
	Backup(name, version string) error
	History(name string) []rollback.Record
}

// PackageMonitor implements the scheduler.Monitor interface for supply
// chain monitoring of installed packages.
type PackageMonitor struct {
	*base.BaseMonitor
	sampler   Sampler
	store     telemetry.Store
	feed      ChangeFeed
	processor Processor
	backups   BackupKeeper
	extra     []string
}

// NewPackageMonitor creates a new PackageMonitor.
func NewPackageMonitor(sampler Sampler, store telemetry.Store, feed ChangeFeed, processor Processor, backups BackupKeeper, logger zerolog.Logger) *PackageMonitor {
	return &PackageMonitor{
		BaseMonitor: base.NewBaseMonitor("packages", logger),
		sampler:     sampler,
		store:       store,
		feed:        feed,
		processor:   processor,
		backups:     backups,
	}
}

// Configure accepts the monitor's config block. The "packages" key lists
// additional packages to sample on every cycle, on top of the globally
// configured telemetry set.
func (pm *PackageMonitor) Configure(config map[string]interface{}) error {
	raw, ok := config["packages"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		pm.extra = append(pm.extra, v...)
	case []interface{}:
		for _, item := range v {
			name, ok := item.(string)
			if !ok {
				return fmt.Errorf("packages entries must be strings, got %T", item)
			}
			pm.extra = append(pm.extra, name)
		}
	default:
		return fmt.Errorf("packages must be a list of package names, got %T", raw)
	}
	return nil
}

// Run executes one collection and detection cycle.
func (pm *PackageMonitor) Run(ctx context.Context) {
	pm.LogEvent(zerolog.InfoLevel, "Package monitor: starting collection cycle...")

	targets := pm.targets()
	if len(targets) == 0 {
		pm.LogEvent(zerolog.DebugLevel, "No packages to sample.")
		pm.RecordRun(nil)
		return
	}

	logger := pm.Logger()
	var cycleErr error
	sampled, anomalies, snapshots := 0, 0, 0

	for _, pkg := range targets {
		if ctx.Err() != nil {
			pm.RecordRun(ctx.Err())
			return
		}

		sample, err := pm.sampler.Collect(ctx, pkg)
		if err != nil {
			logger.Warn().Err(err).Str("package", pkg).Msg("Collection aborted")
			pm.RecordRun(err)
			return
		}
		if err := pm.store.Append(sample); err != nil {
			logger.Error().Err(err).Str("package", pkg).Msg("Failed to persist sample")
			cycleErr = err
			continue
		}
		sampled++

		results, err := pm.processor.ProcessPackage(ctx, pkg)
		if err != nil {
			logger.Error().Err(err).Str("package", pkg).Msg("Detection failed")
			cycleErr = err
			continue
		}

		flagged := false
		for _, res := range results {
			if res.IsAnomaly {
				flagged = true
				anomalies++
			}
		}
		if flagged {
			continue
		}

		if took, err := pm.snapshot(pkg, sample); err != nil {
			cycleErr = err
		} else if took {
			snapshots++
		}
	}

	pm.UpdateMetrics("packages_sampled", sampled)
	pm.UpdateMetrics("anomalies_detected", anomalies)
	pm.UpdateMetrics("backups_taken", snapshots)
	pm.RecordRun(cycleErr)

	pm.LogEvent(zerolog.InfoLevel, "Package monitor finished.")
}

// snapshot preserves the sampled version as a rollback target when it is
// known and not already the most recent record. Re-sampling an unchanged
// version must not churn the ledger, or eviction would eat the older
// versions a rollback actually wants.
func (pm *PackageMonitor) snapshot(pkg string, sample telemetry.Sample) (bool, error) {
	version, _ := sample.Metrics["version"].(string)
	if version == "" {
		return false, nil
	}

	history := pm.backups.History(pkg)
	if len(history) > 0 && history[0].Version == version {
		return false, nil
	}

	logger := pm.Logger()
	if err := pm.backups.Backup(pkg, version); err != nil {
		logger.Warn().Err(err).Str("package", pkg).Msg("Failed to snapshot package state")
		return false, err
	}
	metrics.BackupRecords.WithLabelValues(pkg).Set(float64(len(pm.backups.History(pkg))))

	logger.Info().Str("package", pkg).Str("version", version).Msg("Preserved package state")
	return true, nil
}

// targets merges the globally configured packages, the monitor's own
// configured extras and the packages marked dirty by the watcher. Names are
// deduplicated case-insensitively and returned sorted.
func (pm *PackageMonitor) targets() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(names []string) {
		for _, name := range names {
			key := strings.ToLower(name)
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, name)
		}
	}

	add(pm.sampler.Packages())
	add(pm.extra)
	add(pm.feed.Drain())

	sort.Strings(out)
	return out
}
