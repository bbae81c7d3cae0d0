package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher marks packages dirty when files under the configured package
// roots change, so the next collection cycle samples them immediately
// instead of waiting for drift to appear on the regular interval.
type Watcher struct {
	roots  []string
	logger zerolog.Logger

	mu    sync.Mutex
	dirty map[string]struct{}
}

func NewWatcher(roots []string, logger zerolog.Logger) *Watcher {
	return &Watcher{
		roots:  roots,
		logger: logger.With().Str("component", "watcher").Logger(),
		dirty:  make(map[string]struct{}),
	}
}

// Start watches the package roots and their first-level package directories
// until the context is cancelled. fsnotify does not recurse, so package
// directories created later are added as they appear.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	for _, root := range w.roots {
		if err := watcher.Add(root); err != nil {
			w.logger.Warn().Err(err).Str("path", root).Msg("Failed to watch package root")
			continue
		}
		w.logger.Info().Str("path", root).Msg("Watching package root.")

		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				_ = watcher.Add(filepath.Join(root, e.Name()))
			}
		}
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				w.logger.Info().Msg("Package watcher stopped.")
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
					w.mark(event.Name)
				}
				if event.Op&fsnotify.Create == fsnotify.Create {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						_ = watcher.Add(event.Name)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn().Err(err).Msg("Package watcher error")
			}
		}
	}()

	return nil
}

// mark resolves a changed path to a package name relative to its root.
func (w *Watcher) mark(path string) {
	for _, root := range w.roots {
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		segment := strings.Split(rel, string(filepath.Separator))[0]
		pkg := packageFromEntry(segment)
		if pkg == "" {
			continue
		}

		w.mu.Lock()
		w.dirty[pkg] = struct{}{}
		w.mu.Unlock()

		w.logger.Debug().Str("package", pkg).Str("path", path).Msg("Package marked dirty")
		return
	}
}

// Drain returns the dirty package names sorted and clears the set.
func (w *Watcher) Drain() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.dirty) == 0 {
		return nil
	}
	names := make([]string, 0, len(w.dirty))
	for name := range w.dirty {
		names = append(names, name)
	}
	w.dirty = make(map[string]struct{})
	sort.Strings(names)
	return names
}

// packageFromEntry extracts the package name from a directory entry, e.g.
// "requests" from both "requests" and "requests-2.31.0.dist-info". Hidden
// and private entries map to no package.
func packageFromEntry(entry string) string {
	name := strings.ToLower(entry)
	if strings.HasSuffix(name, ".dist-info") || strings.HasSuffix(name, ".egg-info") {
		name = strings.TrimSuffix(name, ".dist-info")
		name = strings.TrimSuffix(name, ".egg-info")
		if i := strings.Index(name, "-"); i > 0 {
			name = name[:i]
		}
	}
	if name == "" || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
		return ""
	}
	return name
}
