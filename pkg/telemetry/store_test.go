package telemetry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreAppendAndRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "metrics.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		err := store.Append(Sample{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Package:   "requests",
			Metrics:   map[string]interface{}{"size": 1000 + i, "version": "2.31.0"},
		})
		require.NoError(t, err)
	}
	require.NoError(t, store.Append(Sample{
		Timestamp: base,
		Package:   "numpy",
		Metrics:   map[string]interface{}{"size": 9000},
	}))

	samples, err := store.Recent("requests", 3)
	require.NoError(t, err)
	require.Len(t, samples, 3)

	// Trailing history, oldest first.
	assert.Equal(t, base.Add(2*time.Minute), samples[0].Timestamp.UTC())
	assert.Equal(t, base.Add(4*time.Minute), samples[2].Timestamp.UTC())
	assert.Equal(t, "requests", samples[0].Package)
	assert.Equal(t, "2.31.0", samples[0].Metrics["version"])

	// n larger than history returns everything.
	samples, err = store.Recent("requests", 100)
	require.NoError(t, err)
	assert.Len(t, samples, 5)

	packages, err := store.Packages()
	require.NoError(t, err)
	assert.Equal(t, []string{"numpy", "requests"}, packages)
}

func TestFileStoreMissingFile(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)

	samples, err := store.Recent("requests", 10)
	assert.NoError(t, err)
	assert.Empty(t, samples)

	packages, err := store.Packages()
	assert.NoError(t, err)
	assert.Empty(t, packages)
}

func TestFileStoreSkipsTornLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	require.NoError(t, store.Append(Sample{
		Timestamp: time.Now(),
		Package:   "requests",
		Metrics:   map[string]interface{}{"size": 1},
	}))

	// Simulate a torn write from a crashed process.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{\"timestamp\": \"2025-06-01T\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, store.Append(Sample{
		Timestamp: time.Now(),
		Package:   "requests",
		Metrics:   map[string]interface{}{"size": 2},
	}))

	samples, err := store.Recent("requests", 10)
	require.NoError(t, err)
	assert.Len(t, samples, 2)
}
