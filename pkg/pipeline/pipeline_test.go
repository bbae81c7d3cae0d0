package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/pkg-warden/warden/pkg/alerting"
	"github.com/pkg-warden/warden/pkg/features"
	"github.com/pkg-warden/warden/pkg/mitigation"
	"github.com/pkg-warden/warden/pkg/risk"
	"github.com/pkg-warden/warden/pkg/telemetry"
)

type fakeStore struct {
	samples []telemetry.Sample
	err     error
}

func (f *fakeStore) Append(sample telemetry.Sample) error {
	f.samples = append(f.samples, sample)
	return nil
}

func (f *fakeStore) Recent(pkg string, n int) ([]telemetry.Sample, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []telemetry.Sample
	for _, s := range f.samples {
		if s.Package == pkg {
			out = append(out, s)
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

func (f *fakeStore) Packages() ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, s := range f.samples {
		if !seen[s.Package] {
			seen[s.Package] = true
			out = append(out, s.Package)
		}
	}
	return out, nil
}

type stubScorer struct {
	score float64
	err   error
	calls int
}

func (s *stubScorer) Score(w features.Window) (float64, error) {
	s.calls++
	return s.score, s.err
}

type mockResponder struct {
	mock.Mock
}

func (mr *mockResponder) HandleDetection(ctx context.Context, target mitigation.Target, detectedAt time.Time) ([]string, risk.Tier) {
	args := mr.Called(ctx, target, detectedAt)
	return args.Get(0).([]string), args.Get(1).(risk.Tier)
}

type captureDispatcher struct {
	alerts []alerting.Alert
}

func (c *captureDispatcher) Dispatch(ctx context.Context, alert alerting.Alert) {
	c.alerts = append(c.alerts, alert)
}

var sampleStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func seedStore(store *fakeStore, pkg string, count int) {
	for i := 0; i < count; i++ {
		store.samples = append(store.samples, telemetry.Sample{
			Timestamp: sampleStart.Add(time.Duration(i) * time.Minute),
			Package:   pkg,
			Metrics: map[string]interface{}{
				"version":      "2.31.0",
				"size":         2000 + 10*i,
				"dependencies": []interface{}{"urllib3", "idna"},
			},
		})
	}
}

func newTestPipeline(store telemetry.Store, scorer Scorer, responder Responder, alerts AlertDispatcher) *Pipeline {
	windower := features.NewWindower(features.WindowerConfig{WindowSize: 3})
	return New(Config{Threshold: 0.8}, store, windower, scorer, responder, alerts, zerolog.Nop())
}

func TestProcessPackageAnomaly(t *testing.T) {
	store := &fakeStore{}
	seedStore(store, "requests", 3)

	responder := new(mockResponder)
	responder.On("HandleDetection", mock.Anything,
		mitigation.Target{Package: "requests", Version: "2.31.0", Score: 0.85},
		mock.Anything).
		Return([]string{"rollback", "block_updates"}, risk.High)

	dispatcher := &captureDispatcher{}
	p := newTestPipeline(store, &stubScorer{score: 0.85}, responder, dispatcher)

	results, err := p.ProcessPackage(context.Background(), "requests")
	assert.NoError(t, err)
	assert.Len(t, results, 1)

	res := results[0]
	assert.True(t, res.IsAnomaly)
	assert.Equal(t, "requests", res.Package)
	assert.InDelta(t, 0.85, res.AnomalyScore, 1e-9)
	assert.InDelta(t, 0.8, res.Threshold, 1e-9)
	assert.Equal(t, "high", res.RiskLevel)
	assert.Equal(t, []string{"rollback", "block_updates"}, res.ActionsTaken)

	responder.AssertExpectations(t)

	assert.Len(t, dispatcher.alerts, 1)
	assert.Equal(t, "requests", dispatcher.alerts[0].Package)
	assert.Equal(t, "high", dispatcher.alerts[0].RiskLevel)
	assert.Equal(t, []string{"rollback", "block_updates"}, dispatcher.alerts[0].ActionsTaken)
}

func TestProcessPackageBelowDetectionGate(t *testing.T) {
	store := &fakeStore{}
	seedStore(store, "requests", 3)

	responder := new(mockResponder)
	dispatcher := &captureDispatcher{}
	p := newTestPipeline(store, &stubScorer{score: 0.5}, responder, dispatcher)

	results, err := p.ProcessPackage(context.Background(), "requests")
	assert.NoError(t, err)
	assert.Len(t, results, 1)

	res := results[0]
	assert.False(t, res.IsAnomaly)
	assert.Equal(t, "none", res.RiskLevel)
	assert.Equal(t, []string{}, res.ActionsTaken)

	responder.AssertNotCalled(t, "HandleDetection", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, dispatcher.alerts)
}

func TestProcessPackageGateIsStrict(t *testing.T) {
	store := &fakeStore{}
	seedStore(store, "requests", 3)

	responder := new(mockResponder)
	p := newTestPipeline(store, &stubScorer{score: 0.8}, responder, &captureDispatcher{})

	results, err := p.ProcessPackage(context.Background(), "requests")
	assert.NoError(t, err)
	assert.Len(t, results, 1)
	assert.False(t, results[0].IsAnomaly)

	responder.AssertNotCalled(t, "HandleDetection", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessPackageInsufficientHistory(t *testing.T) {
	store := &fakeStore{}
	seedStore(store, "requests", 2) // window size is 3

	scorer := &stubScorer{score: 0.9}
	p := newTestPipeline(store, scorer, new(mockResponder), &captureDispatcher{})

	results, err := p.ProcessPackage(context.Background(), "requests")
	assert.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, scorer.calls)
}

func TestProcessPackageSkipsAlreadyScoredWindows(t *testing.T) {
	store := &fakeStore{}
	seedStore(store, "requests", 4) // windows at rows [0..2] and [1..3]

	scorer := &stubScorer{score: 0.1}
	p := newTestPipeline(store, scorer, new(mockResponder), &captureDispatcher{})

	results, err := p.ProcessPackage(context.Background(), "requests")
	assert.NoError(t, err)
	assert.Len(t, results, 2)

	// same history again: everything already covered
	results, err = p.ProcessPackage(context.Background(), "requests")
	assert.NoError(t, err)
	assert.Empty(t, results)

	// one new sample completes exactly one new window
	store.samples = append(store.samples, telemetry.Sample{
		Timestamp: sampleStart.Add(10 * time.Minute),
		Package:   "requests",
		Metrics:   map[string]interface{}{"version": "2.31.0"},
	})
	results, err = p.ProcessPackage(context.Background(), "requests")
	assert.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestProcessPackageStoreError(t *testing.T) {
	store := &fakeStore{err: fmt.Errorf("disk gone")}
	p := newTestPipeline(store, &stubScorer{}, new(mockResponder), &captureDispatcher{})

	_, err := p.ProcessPackage(context.Background(), "requests")
	assert.Error(t, err)
}

func TestProcessPackageNoSamples(t *testing.T) {
	p := newTestPipeline(&fakeStore{}, &stubScorer{}, new(mockResponder), &captureDispatcher{})

	results, err := p.ProcessPackage(context.Background(), "requests")
	assert.NoError(t, err)
	assert.Empty(t, results)
}

func TestProcessPackageScorerFailureSkipsWindow(t *testing.T) {
	store := &fakeStore{}
	seedStore(store, "requests", 3)

	p := newTestPipeline(store, &stubScorer{err: fmt.Errorf("shape mismatch")}, new(mockResponder), &captureDispatcher{})

	results, err := p.ProcessPackage(context.Background(), "requests")
	assert.NoError(t, err)
	assert.Empty(t, results)
}
