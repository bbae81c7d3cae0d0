package telemetry

import (
	"bufio"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

// CollectorConfig names the packages to sample and the install roots
// (site-packages style directories) to inspect for them.
type CollectorConfig struct {
	Packages []string
	Roots    []string
}

// Collector gathers per-package metrics: installed version and dependency
// list from dist-info metadata, on-disk size from a directory walk, and
// CPU/memory usage from any running process whose name mentions the package.
type Collector struct {
	cfg    CollectorConfig
	logger zerolog.Logger
}

func NewCollector(cfg CollectorConfig, logger zerolog.Logger) *Collector {
	return &Collector{
		cfg:    cfg,
		logger: logger.With().Str("component", "collector").Logger(),
	}
}

// Packages returns the configured package names.
func (c *Collector) Packages() []string {
	return c.cfg.Packages
}

// Collect gathers one sample for the package. Individual probe failures
// degrade to a partial sample and are logged; only context cancellation
// aborts the collection.
func (c *Collector) Collect(ctx context.Context, pkg string) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}

	sample := Sample{
		Timestamp: time.Now(),
		Package:   pkg,
		Metrics:   make(map[string]interface{}),
	}

	if dir := c.findInstallDir(pkg); dir != "" {
		sample.Metrics["location"] = dir
		sample.Metrics["size"] = directorySize(dir)
	}

	if version, deps, ok := c.readDistInfo(pkg); ok {
		sample.Metrics["version"] = version
		sample.Metrics["dependencies"] = deps
	}

	if cpu, mem, pid, ok := c.processUsage(ctx, pkg); ok {
		sample.Metrics["cpu_usage"] = cpu
		sample.Metrics["memory_usage"] = mem
		sample.Metrics["pid"] = pid
	}

	return sample, nil
}

// findInstallDir locates the package's import directory under the roots.
func (c *Collector) findInstallDir(pkg string) string {
	for _, root := range c.cfg.Roots {
		for _, name := range []string{pkg, normalizePackage(pkg)} {
			candidate := filepath.Join(root, name)
			if info, err := os.Stat(candidate); err == nil && info.IsDir() {
				return candidate
			}
		}
	}
	return ""
}

// readDistInfo finds the package's dist-info directory and extracts the
// version (from the directory name) and the declared dependencies (from
// Requires-Dist lines in METADATA).
func (c *Collector) readDistInfo(pkg string) (string, []string, bool) {
	prefix := normalizePackage(pkg) + "-"
	for _, root := range c.cfg.Roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			name := strings.ToLower(e.Name())
			if !e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".dist-info") {
				continue
			}
			version := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".dist-info")
			deps := readRequiresDist(filepath.Join(root, e.Name(), "METADATA"))
			return version, deps, true
		}
	}
	return "", nil, false
}

// processUsage reports CPU and memory percentages for the first running
// process whose name contains the package name.
func (c *Collector) processUsage(ctx context.Context, pkg string) (float64, float64, int32, bool) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Failed to list processes")
		return 0, 0, 0, false
	}

	needle := strings.ToLower(pkg)
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil || !strings.Contains(strings.ToLower(name), needle) {
			continue
		}
		cpu, err := p.CPUPercentWithContext(ctx)
		if err != nil {
			continue
		}
		mem, err := p.MemoryPercentWithContext(ctx)
		if err != nil {
			continue
		}
		return cpu, float64(mem), p.Pid, true
	}
	return 0, 0, 0, false
}

// directorySize sums file sizes under path, skipping symlinks.
func directorySize(path string) int64 {
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

// readRequiresDist collects the Requires-Dist declarations from a METADATA
// file. A missing file yields an empty list.
func readRequiresDist(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var deps []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "Requires-Dist:") {
			deps = append(deps, strings.TrimSpace(strings.TrimPrefix(line, "Requires-Dist:")))
		}
	}
	return deps
}

// normalizePackage lowercases the name and replaces dashes with underscores,
// matching how installers normalize directory names.
func normalizePackage(pkg string) string {
	return strings.ReplaceAll(strings.ToLower(pkg), "-", "_")
}
