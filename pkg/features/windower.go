package features

import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/pkg-warden/warden/pkg/telemetry"
)

// Feature column names produced by flattening and derivation.
const (
	FeaturePackageSize          = "package_size"
	FeatureDependencyCount      = "dependency_count"
	FeatureUpdateFrequency      = "update_frequency"
	FeatureSizeChange           = "size_change"
	FeatureDependencyVolatility = "dependency_volatility"
	FeatureResourceIntensity    = "resource_intensity"
)

// DefaultFeatures is the canonical ordered feature set fed to the scorer.
var DefaultFeatures = []string{
	FeaturePackageSize,
	FeatureDependencyCount,
	FeatureUpdateFrequency,
	FeatureSizeChange,
	FeatureDependencyVolatility,
	FeatureResourceIntensity,
}

// Window is one fixed-length sequence of feature vectors, rows by features.
type Window [][]float64

// Row is one flattened telemetry sample: numeric columns plus the version
// string, which only participates in derived features.
type Row struct {
	Timestamp time.Time
	Package   string
	Version   string
	Values    map[string]float64
}

// Table holds flattened samples sorted by timestamp.
type Table struct {
	Rows []Row
}

type WindowerConfig struct {
	WindowSize int
	Features   []string
}

// Windower turns an ordered stream of telemetry samples into fixed-length
// sequences of numeric feature vectors, adding derived features computed
// over the whole table first.
type Windower struct {
	cfg WindowerConfig
}

func NewWindower(cfg WindowerConfig) *Windower {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 10
	}
	if len(cfg.Features) == 0 {
		cfg.Features = DefaultFeatures
	}
	return &Windower{cfg: cfg}
}

// WindowSize returns the configured window length.
func (w *Windower) WindowSize() int {
	return w.cfg.WindowSize
}

// Features returns the configured ordered feature names.
func (w *Windower) Features() []string {
	return w.cfg.Features
}

// Process flattens samples into a table sorted by timestamp. Dependency
// lists become dependency_count, byte sizes become package_size, version
// strings are kept aside for derived features and all other numeric metrics
// pass through under their own names.
func (w *Windower) Process(samples []telemetry.Sample) *Table {
	rows := make([]Row, 0, len(samples))
	for _, s := range samples {
		row := Row{
			Timestamp: s.Timestamp,
			Package:   s.Package,
			Values:    make(map[string]float64),
		}
		for key, value := range s.Metrics {
			switch key {
			case "dependencies":
				row.Values[FeatureDependencyCount] = float64(listLen(value))
			case "size":
				if v, ok := toFloat(value); ok {
					row.Values[FeaturePackageSize] = v
				}
			case "version":
				if v, ok := value.(string); ok {
					row.Version = v
				}
			default:
				if v, ok := toFloat(value); ok {
					row.Values[key] = v
				}
			}
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Timestamp.Before(rows[j].Timestamp)
	})
	return &Table{Rows: rows}
}

// AddDerivedFeatures computes the derived columns over the full table.
// The table must already be sorted by timestamp (Process guarantees this).
func (w *Windower) AddDerivedFeatures(t *Table) {
	w.addUpdateFrequency(t)
	w.addSizeChange(t)
	w.addDependencyVolatility(t)
	w.addResourceIntensity(t)
}

// addUpdateFrequency counts version-change events inside a trailing one-day
// window ending at each row. The first row always counts as a change.
func (w *Windower) addUpdateFrequency(t *Table) {
	changed := make([]bool, len(t.Rows))
	for i := range t.Rows {
		changed[i] = i == 0 || t.Rows[i].Version != t.Rows[i-1].Version
	}
	for i := range t.Rows {
		cutoff := t.Rows[i].Timestamp.Add(-24 * time.Hour)
		count := 0.0
		for j := i; j >= 0; j-- {
			if !t.Rows[j].Timestamp.After(cutoff) {
				break
			}
			if changed[j] {
				count++
			}
		}
		t.Rows[i].Values[FeatureUpdateFrequency] = count
	}
}

// addSizeChange records the fractional change of package_size from the
// previous row. The first row, and any row following a zero size, reads 0.
func (w *Windower) addSizeChange(t *Table) {
	for i := range t.Rows {
		if i == 0 {
			t.Rows[i].Values[FeatureSizeChange] = 0
			continue
		}
		prev := t.Rows[i-1].Values[FeaturePackageSize]
		if prev == 0 {
			t.Rows[i].Values[FeatureSizeChange] = 0
			continue
		}
		cur := t.Rows[i].Values[FeaturePackageSize]
		t.Rows[i].Values[FeatureSizeChange] = (cur - prev) / prev
	}
}

// addDependencyVolatility is the sample standard deviation of
// dependency_count over the trailing five rows; fewer than two samples
// leave it at 0.
func (w *Windower) addDependencyVolatility(t *Table) {
	const window = 5
	for i := range t.Rows {
		start := i - window + 1
		if start < 0 {
			start = 0
		}
		n := i - start + 1
		if n < 2 {
			t.Rows[i].Values[FeatureDependencyVolatility] = 0
			continue
		}

		mean := 0.0
		for j := start; j <= i; j++ {
			mean += t.Rows[j].Values[FeatureDependencyCount]
		}
		mean /= float64(n)

		ss := 0.0
		for j := start; j <= i; j++ {
			d := t.Rows[j].Values[FeatureDependencyCount] - mean
			ss += d * d
		}
		t.Rows[i].Values[FeatureDependencyVolatility] = math.Sqrt(ss / float64(n-1))
	}
}

// addResourceIntensity blends CPU and memory usage when both were sampled.
func (w *Windower) addResourceIntensity(t *Table) {
	for i := range t.Rows {
		cpu, hasCPU := t.Rows[i].Values["cpu_usage"]
		mem, hasMem := t.Rows[i].Values["memory_usage"]
		if hasCPU && hasMem {
			t.Rows[i].Values[FeatureResourceIntensity] = 0.5*cpu + 0.5*mem
		} else {
			t.Rows[i].Values[FeatureResourceIntensity] = 0
		}
	}
}

// MakeWindows produces every full window over the table: N rows and window
// size W yield exactly N-W+1 windows, window i covering rows [i, i+W) and
// stamped with row i+W-1's timestamp. Partial windows at stream start are
// dropped, never padded. A required feature column absent from the table
// reads as all zeros.
func (w *Windower) MakeWindows(t *Table) ([]Window, []time.Time) {
	n := len(t.Rows)
	size := w.cfg.WindowSize
	if n < size {
		return nil, nil
	}

	vectors := make([][]float64, n)
	for i, row := range t.Rows {
		vec := make([]float64, len(w.cfg.Features))
		for k, name := range w.cfg.Features {
			vec[k] = row.Values[name]
		}
		vectors[i] = vec
	}

	windows := make([]Window, 0, n-size+1)
	stamps := make([]time.Time, 0, n-size+1)
	for i := 0; i+size <= n; i++ {
		windows = append(windows, Window(vectors[i:i+size]))
		stamps = append(stamps, t.Rows[i+size-1].Timestamp)
	}
	return windows, stamps
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func listLen(v interface{}) int {
	switch x := v.(type) {
	case []string:
		return len(x)
	case []interface{}:
		return len(x)
	default:
		return 0
	}
}
