// Package scheduler runs registered monitors on their configured intervals.
package scheduler

import (
	"context"
	"time"

	"github.com/pkg-warden/warden/pkg/config"
	"github.com/rs/zerolog/log"
)

// ConfigurableMonitor extends Monitor for monitors that accept settings
// from their config block before the first run.
type ConfigurableMonitor interface {
	Monitor
	Configure(config map[string]interface{}) error
}

// Monitor defines the interface for any monitor that can be scheduled.
type Monitor interface {
	Name() string
	Run(ctx context.Context)
}

// Scheduler manages the registration and execution of monitors. Each
// enabled monitor runs once immediately on Start and then on its own
// ticker until the context is cancelled.
type Scheduler struct {
	monitors []Monitor
	config   *config.Config
}

// NewScheduler creates and returns a new Scheduler instance.
func NewScheduler(cfg *config.Config) *Scheduler {
	return &Scheduler{
		config: cfg,
	}
}

// RegisterMonitor adds a monitor to the scheduler's list. Monitors that
// implement ConfigurableMonitor are configured from their config block
// first; a monitor whose configuration fails is not registered.
func (s *Scheduler) RegisterMonitor(m Monitor) {
	if configurable, ok := m.(ConfigurableMonitor); ok {
		monitorConfig := s.config.GetMonitorConfig(m.Name())
		if monitorConfig != nil && monitorConfig.Config != nil {
			if err := configurable.Configure(monitorConfig.Config); err != nil {
				log.Error().Err(err).Str("monitor", m.Name()).Msg("Failed to configure monitor")
				return
			}
			log.Info().Str("monitor", m.Name()).Msg("Monitor configured")
		}
	}

	s.monitors = append(s.monitors, m)
	log.Info().Str("monitor", m.Name()).Msg("Monitor registered")
}

// Start launches all enabled monitors with their configured intervals.
// Monitors without a config block, disabled monitors and monitors with
// an unparseable interval are skipped.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("Scheduler starting...")

	for _, mon := range s.monitors {
		monitorConfig := s.getMonitorConfig(mon.Name())
		if monitorConfig == nil || !monitorConfig.Enabled {
			log.Info().Str("monitor", mon.Name()).Msg("Monitor is disabled or not configured, skipping")
			continue
		}

		duration, err := time.ParseDuration(monitorConfig.Interval)
		if err != nil {
			log.Error().Err(err).Str("monitor", mon.Name()).Msg("Invalid interval for monitor, skipping")
			continue
		}

		log.Info().Str("monitor", mon.Name()).Stringer("interval", duration).Msg("Starting monitor")
		go s.runMonitor(ctx, mon, duration)
	}

	log.Info().Msg("All configured monitors started.")
}

func (s *Scheduler) runMonitor(ctx context.Context, m Monitor, interval time.Duration) {
	// Run immediately on start
	log.Debug().Str("monitor", m.Name()).Msg("Running monitor for the first time")
	m.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			log.Debug().Str("monitor", m.Name()).Msg("Running monitor")
			m.Run(ctx)
		case <-ctx.Done():
			log.Info().Str("monitor", m.Name()).Msg("Monitor received shutdown signal")
			return
		}
	}
}

func (s *Scheduler) getMonitorConfig(name string) *config.MonitorConfig {
	return s.config.GetMonitorConfig(name)
}
