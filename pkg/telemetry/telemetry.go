package telemetry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Sample is one observation of a package at a point in time. Metrics holds
// the raw collected values; version strings and dependency lists are
// flattened into numeric feature columns downstream by the windower.
type Sample struct {
	Timestamp time.Time              `json:"timestamp"`
	Package   string                 `json:"package_name"`
	Metrics   map[string]interface{} `json:"metrics"`
}

// Store persists samples in arrival order and serves trailing history per
// package.
type Store interface {
	Append(sample Sample) error
	Recent(pkg string, n int) ([]Sample, error)
	Packages() ([]string, error)
}

// FileStore keeps samples as JSON lines in a single append-only file. Reads
// scan the whole file; the telemetry volume of a package watcher is small
// enough that this stays cheap, and the format doubles as the exchange file
// for offline analysis.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates the store file's directory if needed.
func NewFileStore(path string) (*FileStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	return &FileStore{path: path}, nil
}

// Append writes one sample as a JSON line.
func (fs *FileStore) Append(sample Sample) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	line, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to marshal sample: %w", err)
	}

	f, err := os.OpenFile(fs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write sample: %w", err)
	}
	return nil
}

// Recent returns up to n trailing samples for the package, oldest first.
func (fs *FileStore) Recent(pkg string, n int) ([]Sample, error) {
	samples, err := fs.scan(func(s Sample) bool { return s.Package == pkg })
	if err != nil {
		return nil, err
	}
	if n > 0 && len(samples) > n {
		samples = samples[len(samples)-n:]
	}
	return samples, nil
}

// Packages returns the distinct package names present in the store, sorted.
func (fs *FileStore) Packages() ([]string, error) {
	seen := make(map[string]struct{})
	_, err := fs.scan(func(s Sample) bool {
		seen[s.Package] = struct{}{}
		return false
	})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (fs *FileStore) scan(keep func(Sample) bool) ([]Sample, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := os.Open(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer f.Close()

	var out []Sample
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var s Sample
		if err := json.Unmarshal(scanner.Bytes(), &s); err != nil {
			// Skip torn or foreign lines rather than poisoning the read.
			continue
		}
		if keep(s) {
			out = append(out, s)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan store: %w", err)
	}
	return out, nil
}
