package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSitePackages builds an install root containing one package directory
// and its dist-info metadata.
func fakeSitePackages(t *testing.T, pkg, version string, requires []string) string {
	t.Helper()
	root := t.TempDir()

	pkgDir := filepath.Join(root, pkg)
	require.NoError(t, os.MkdirAll(pkgDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pkgDir, "__init__.py"), make([]byte, 1200), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(pkgDir, "api.py"), make([]byte, 800), 0o644))

	distInfo := filepath.Join(root, pkg+"-"+version+".dist-info")
	require.NoError(t, os.MkdirAll(distInfo, 0o755))

	metadata := "Metadata-Version: 2.1\nName: " + pkg + "\nVersion: " + version + "\n"
	for _, r := range requires {
		metadata += "Requires-Dist: " + r + "\n"
	}
	require.NoError(t, os.WriteFile(filepath.Join(distInfo, "METADATA"), []byte(metadata), 0o644))

	return root
}

func TestCollectorCollect(t *testing.T) {
	root := fakeSitePackages(t, "requests", "2.31.0", []string{
		"charset-normalizer (<4,>=2)",
		"idna (<4,>=2.5)",
		"urllib3 (<3,>=1.21.1)",
	})

	c := NewCollector(CollectorConfig{
		Packages: []string{"requests"},
		Roots:    []string{root},
	}, zerolog.Nop())

	sample, err := c.Collect(context.Background(), "requests")
	require.NoError(t, err)

	assert.Equal(t, "requests", sample.Package)
	assert.False(t, sample.Timestamp.IsZero())

	assert.Equal(t, filepath.Join(root, "requests"), sample.Metrics["location"])
	assert.Equal(t, int64(2000), sample.Metrics["size"])
	assert.Equal(t, "2.31.0", sample.Metrics["version"])

	deps, ok := sample.Metrics["dependencies"].([]string)
	require.True(t, ok)
	assert.Len(t, deps, 3)
	assert.Equal(t, "charset-normalizer (<4,>=2)", deps[0])
}

func TestCollectorUnknownPackage(t *testing.T) {
	c := NewCollector(CollectorConfig{
		Packages: []string{"ghost"},
		Roots:    []string{t.TempDir()},
	}, zerolog.Nop())

	sample, err := c.Collect(context.Background(), "ghost")
	require.NoError(t, err)

	// Nothing found on disk: the sample degrades to whatever probes succeeded.
	assert.Equal(t, "ghost", sample.Package)
	assert.NotContains(t, sample.Metrics, "version")
	assert.NotContains(t, sample.Metrics, "size")
}

func TestCollectorCancelledContext(t *testing.T) {
	c := NewCollector(CollectorConfig{Packages: []string{"requests"}}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Collect(ctx, "requests")
	assert.Error(t, err)
}

func TestNormalizePackage(t *testing.T) {
	assert.Equal(t, "charset_normalizer", normalizePackage("Charset-Normalizer"))
	assert.Equal(t, "requests", normalizePackage("requests"))
}
