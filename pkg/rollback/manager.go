// Package rollback keeps a bounded per-package ledger of known-good
// versions and reinstalls them on demand.
package rollback

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pkg-warden/warden/pkg/errors"
	"github.com/pkg-warden/warden/pkg/pkgmgr"
)

// timestampLayout is fixed width, so lexicographic order on the stored
// timestamp string equals chronological order.
const timestampLayout = "20060102_150405"

// Record is one backup ledger entry, stored as a JSON file named
// {package}_{timestamp}.json inside the backup directory.
type Record struct {
	Package   string `json:"package"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

// Manager owns the backup directory. All ordering decisions (eviction and
// most-recent lookup) use the timestamp string stored inside each record,
// never file modification times. Backup and lookup are serialized per
// package name, so concurrent detections for different packages do not
// block each other while the create+evict sequence stays atomic per ledger.
type Manager struct {
	dir        string
	maxHistory int
	installer  pkgmgr.Installer
	logger     zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	now   func() time.Time
}

// NewManager creates the backup directory if absent. A non-positive
// maxHistory falls back to 5.
func NewManager(dir string, maxHistory int, installer pkgmgr.Installer, logger zerolog.Logger) (*Manager, error) {
	if maxHistory <= 0 {
		maxHistory = 5
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating backup dir %s: %w", dir, err)
	}
	return &Manager{
		dir:        dir,
		maxHistory: maxHistory,
		installer:  installer,
		logger:     logger.With().Str("component", "rollback").Logger(),
		locks:      make(map[string]*sync.Mutex),
		now:        time.Now,
	}, nil
}

// Backup writes one record for the package's current version, then evicts
// the oldest records beyond maxHistory. Two backups of the same package in
// the same second get distinct timestamps by advancing to the next free
// second; the format stays fixed width, so lexicographic order on the
// stamp always equals creation order. Eviction failures are logged, not
// returned: the backup itself already succeeded.
func (m *Manager) Backup(name, version string) error {
	lock := m.packageLock(name)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("creating backup dir %s: %w", m.dir, err)
	}

	at := m.now()
	stamp := at.Format(timestampLayout)
	for {
		if _, err := os.Stat(m.path(name, stamp)); os.IsNotExist(err) {
			break
		}
		at = at.Add(time.Second)
		stamp = at.Format(timestampLayout)
	}

	rec := Record{Package: name, Version: version, Timestamp: stamp}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding backup record for %s: %w", name, err)
	}
	if err := os.WriteFile(m.path(name, stamp), data, 0o644); err != nil {
		return fmt.Errorf("writing backup record for %s: %w", name, err)
	}

	m.logger.Info().Str("package", name).Str("version", version).Str("timestamp", stamp).
		Msg("Backed up package state")

	m.evict(name)
	return nil
}

// Rollback reinstalls a known-good version of the package. An explicit
// targetVersion is installed as given, bypassing the ledger. An empty
// target selects the record with the greatest stored timestamp; no records
// means there is nothing to roll back to.
func (m *Manager) Rollback(ctx context.Context, name, targetVersion string) error {
	version := targetVersion
	if version == "" {
		rec := m.lastBackup(name)
		if rec == nil {
			return errors.NewBackupNotFoundError("rollback", name)
		}
		version = rec.Version
	}

	if err := m.installer.Install(ctx, name, version); err != nil {
		return err
	}

	m.logger.Info().Str("package", name).Str("version", version).Msg("Rolled back package")
	return nil
}

// History returns the package's records, most recent first.
func (m *Manager) History(name string) []Record {
	lock := m.packageLock(name)
	lock.Lock()
	defer lock.Unlock()

	entries := m.ledger(name)
	records := make([]Record, 0, len(entries))
	for _, e := range entries {
		if e.parsed {
			records = append(records, e.record)
		}
	}
	return records
}

func (m *Manager) packageLock(name string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[name] = lock
	}
	return lock
}

type ledgerEntry struct {
	file   string
	record Record
	parsed bool
}

// ledger returns the package's entries sorted by stored timestamp
// descending. Files that fail to parse sort last (empty timestamp), so
// eviction removes them before any readable record. Ownership is decided
// by the record's package field, not just the filename prefix, so packages
// sharing a name prefix never see each other's records.
func (m *Manager) ledger(name string) []ledgerEntry {
	dirEntries, err := os.ReadDir(m.dir)
	if err != nil {
		m.logger.Warn().Err(err).Str("dir", m.dir).Msg("Failed to read backup dir")
		return nil
	}

	prefix := name + "_"
	var entries []ledgerEntry
	for _, de := range dirEntries {
		fn := de.Name()
		if de.IsDir() || !strings.HasPrefix(fn, prefix) || !strings.HasSuffix(fn, ".json") {
			continue
		}

		entry := ledgerEntry{file: fn}
		data, err := os.ReadFile(filepath.Join(m.dir, fn))
		if err == nil && json.Unmarshal(data, &entry.record) == nil {
			if entry.record.Package != name {
				continue
			}
			entry.parsed = true
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].record.Timestamp > entries[j].record.Timestamp
	})
	return entries
}

func (m *Manager) lastBackup(name string) *Record {
	lock := m.packageLock(name)
	lock.Lock()
	defer lock.Unlock()

	for _, e := range m.ledger(name) {
		if e.parsed {
			rec := e.record
			return &rec
		}
	}
	return nil
}

// evict removes the oldest records beyond maxHistory. Callers must hold
// the package lock.
func (m *Manager) evict(name string) {
	entries := m.ledger(name)
	if len(entries) <= m.maxHistory {
		return
	}
	for _, e := range entries[m.maxHistory:] {
		path := filepath.Join(m.dir, e.file)
		if err := os.Remove(path); err != nil {
			errors.NewResourceError("rollback", path, err).Log(m.logger)
			continue
		}
		m.logger.Debug().Str("file", e.file).Msg("Evicted old backup")
	}
}

func (m *Manager) path(name, stamp string) string {
	return filepath.Join(m.dir, fmt.Sprintf("%s_%s.json", name, stamp))
}
