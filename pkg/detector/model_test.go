package detector

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg-warden/warden/pkg/features"
	"github.com/stretchr/testify/assert"
)

func makeWindow(rows, cols int, fill func(t, i int) float64) features.Window {
	win := make(features.Window, rows)
	for t := range win {
		win[t] = make([]float64, cols)
		for i := range win[t] {
			win[t][i] = fill(t, i)
		}
	}
	return win
}

func TestScoreDeterministic(t *testing.T) {
	cfg := DefaultModelConfig(6, 10)
	m1 := NewModel(cfg)
	m2 := NewModel(cfg)

	win := makeWindow(10, 6, func(t, i int) float64 {
		return float64(t)*0.1 + float64(i)*0.01
	})

	s1, err := m1.Score(win)
	assert.NoError(t, err)
	s2, err := m2.Score(win)
	assert.NoError(t, err)

	// Same seed, same weights, same score.
	assert.Equal(t, s1, s2)

	s3, err := m1.Score(win)
	assert.NoError(t, err)
	assert.Equal(t, s1, s3)
}

func TestScoreRange(t *testing.T) {
	cfg := DefaultModelConfig(6, 10)
	m := NewModel(cfg)

	cases := map[string]func(t, i int) float64{
		"zeros":    func(t, i int) float64 { return 0 },
		"ones":     func(t, i int) float64 { return 1 },
		"negative": func(t, i int) float64 { return -5 },
		"spike":    func(t, i int) float64 { return float64((t%7)*(i+1)) * 1000 },
		"large":    func(t, i int) float64 { return 1e9 },
	}

	for name, fill := range cases {
		score, err := m.Score(makeWindow(10, 6, fill))
		assert.NoError(t, err, name)
		assert.False(t, math.IsNaN(score), name)
		assert.Greater(t, score, 0.0, name)
		assert.Less(t, score, 1.0, name)
	}
}

func TestScoreDistinguishesInputs(t *testing.T) {
	m := NewModel(DefaultModelConfig(6, 10))

	flat, err := m.Score(makeWindow(10, 6, func(t, i int) float64 { return 1 }))
	assert.NoError(t, err)
	spiked, err := m.Score(makeWindow(10, 6, func(t, i int) float64 {
		if t == 7 {
			return 500
		}
		return 1
	}))
	assert.NoError(t, err)

	assert.NotEqual(t, flat, spiked)
}

func TestScoreShapeValidation(t *testing.T) {
	m := NewModel(DefaultModelConfig(6, 10))

	_, err := m.Score(makeWindow(9, 6, func(t, i int) float64 { return 0 }))
	assert.Error(t, err, "short window")

	_, err = m.Score(makeWindow(10, 5, func(t, i int) float64 { return 0 }))
	assert.Error(t, err, "narrow feature vector")
}

func TestParametersRoundTrip(t *testing.T) {
	cfg := DefaultModelConfig(4, 8)
	trained := NewModel(cfg)

	win := makeWindow(8, 4, func(t, i int) float64 {
		return math.Sin(float64(t)) * float64(i+1)
	})
	want, err := trained.Score(win)
	assert.NoError(t, err)

	path := filepath.Join(t.TempDir(), "weights.json")
	data, err := json.Marshal(trained.Export())
	assert.NoError(t, err)
	assert.NoError(t, os.WriteFile(path, data, 0o644))

	// A differently seeded model converges on the trained score once the
	// exported weights are applied.
	fresh := NewModel(ModelConfig{NumFeatures: 4, WindowSize: 8, Seed: 99})
	assert.NoError(t, fresh.LoadWeights(path))

	got, err := fresh.Score(win)
	assert.NoError(t, err)
	assert.InDelta(t, want, got, 1e-12)
}

func TestApplyParametersShapeMismatch(t *testing.T) {
	donor := NewModel(DefaultModelConfig(4, 8))
	m := NewModel(DefaultModelConfig(6, 10))

	assert.Error(t, m.ApplyParameters(donor.Export()))
}

func TestLoadWeightsMissingFile(t *testing.T) {
	m := NewModel(DefaultModelConfig(6, 10))
	assert.Error(t, m.LoadWeights(filepath.Join(t.TempDir(), "absent.json")))
}

func BenchmarkScore(b *testing.B) {
	m := NewModel(DefaultModelConfig(6, 10))
	win := makeWindow(10, 6, func(t, i int) float64 {
		return float64(t) + float64(i)
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := m.Score(win); err != nil {
			b.Fatal(err)
		}
	}
}
