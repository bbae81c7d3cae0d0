package base

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BaseMonitor provides a common foundation for monitor implementations. It
// carries the monitor's name, a logger tagged with that name, and a small
// status surface (last run time, last error, free-form metrics) that the
// API's status endpoint reads.
type BaseMonitor struct {
	name    string
	lastRun time.Time
	lastErr error
	metrics map[string]interface{}
	logger  zerolog.Logger
	mu      sync.Mutex // protects lastRun, lastErr and the metrics map
}

// NewBaseMonitor creates and initializes a new BaseMonitor with a given name and logger.
func NewBaseMonitor(name string, logger zerolog.Logger) *BaseMonitor {
	return &BaseMonitor{
		name:    name,
		logger:  logger.With().Str("monitor", name).Logger(),
		metrics: make(map[string]interface{}),
	}
}

// Name returns the monitor's name.
func (b *BaseMonitor) Name() string {
	return b.name
}

// Logger returns the monitor's tagged logger for structured events.
func (b *BaseMonitor) Logger() zerolog.Logger {
	return b.logger
}

// LogEvent logs a message at the given level with the monitor's context.
func (b *BaseMonitor) LogEvent(level zerolog.Level, message string) {
	b.logger.WithLevel(level).Msg(message)
}

// RecordRun stamps the completion of a run and stores its outcome. Pass nil
// for a clean run.
func (b *BaseMonitor) RecordRun(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastRun = time.Now()
	b.lastErr = err
}

// LastRun returns the time of the most recent completed run and the error
// it ended with, if any. The zero time means the monitor has not run yet.
func (b *BaseMonitor) LastRun() (time.Time, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastRun, b.lastErr
}

// UpdateMetrics sets a metric value on the monitor's status surface.
func (b *BaseMonitor) UpdateMetrics(key string, value interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics[key] = value
}

// GetMetrics returns a copy of the monitor's metrics.
func (b *BaseMonitor) GetMetrics() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	dest := make(map[string]interface{}, len(b.metrics))
	for k, v := range b.metrics {
		dest[k] = v
	}
	return dest
}
