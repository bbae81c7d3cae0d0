package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func defaultThresholds() Thresholds {
	return Thresholds{High: 0.8, Medium: 0.6, Low: 0.3}
}

func TestClassifyBoundaries(t *testing.T) {
	th := defaultThresholds()

	cases := []struct {
		score float64
		want  Tier
	}{
		{1.0, High},
		{0.81, High},
		{0.8, High}, // inclusive boundary
		{0.79, Medium},
		{0.6, Medium},
		{0.59, Low},
		{0.3, Low},
		{0.29, Low},
		{0.0, Low},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.score, th), "score %v", tc.score)
	}
}

func TestClassifyMonotonic(t *testing.T) {
	th := defaultThresholds()

	prev := Low
	for score := 0.0; score <= 1.0; score += 0.01 {
		tier := Classify(score, th)
		assert.GreaterOrEqual(t, int(tier), int(prev), "tier regressed at score %v", score)
		prev = tier
	}
}

func TestTierOrdering(t *testing.T) {
	assert.True(t, High > Medium)
	assert.True(t, Medium > Low)
}

func TestTierStrings(t *testing.T) {
	assert.Equal(t, "high", High.String())
	assert.Equal(t, "medium", Medium.String())
	assert.Equal(t, "low", Low.String())

	assert.Equal(t, "high_risk", High.Key())
	assert.Equal(t, "medium_risk", Medium.Key())
	assert.Equal(t, "low_risk", Low.Key())
}

func TestThresholdsValidate(t *testing.T) {
	assert.NoError(t, defaultThresholds().Validate())
	assert.NoError(t, Thresholds{High: 0.5, Medium: 0.5, Low: 0.5}.Validate())

	assert.Error(t, Thresholds{High: 0.5, Medium: 0.6, Low: 0.3}.Validate())
	assert.Error(t, Thresholds{High: 0.8, Medium: 0.2, Low: 0.3}.Validate())
}
