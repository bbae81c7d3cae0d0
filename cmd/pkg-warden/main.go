package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg-warden/warden/pkg/alerting"
	"github.com/pkg-warden/warden/pkg/api"
	"github.com/pkg-warden/warden/pkg/config"
	"github.com/pkg-warden/warden/pkg/detector"
	"github.com/pkg-warden/warden/pkg/features"
	"github.com/pkg-warden/warden/pkg/logger"
	"github.com/pkg-warden/warden/pkg/mitigation"
	"github.com/pkg-warden/warden/pkg/monitors/packages"
	"github.com/pkg-warden/warden/pkg/pipeline"
	"github.com/pkg-warden/warden/pkg/pkgmgr"
	"github.com/pkg-warden/warden/pkg/registry"
	"github.com/pkg-warden/warden/pkg/rollback"
	"github.com/pkg-warden/warden/pkg/scheduler"
	"github.com/pkg-warden/warden/pkg/telemetry"
	"github.com/pkg-warden/warden/pkg/validator"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration first
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger based on config
	logger.InitLogger(cfg.LogLevel)

	log.Info().Msg("pkg-warden starting...")
	log.Info().Msgf("Configuration loaded: LogLevel=%s, APIPort=%s", cfg.LogLevel, cfg.APIPort)

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())

	// Set up a channel to listen for OS signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Goroutine to handle graceful shutdown
	go func() {
		sig := <-sigChan
		log.Info().Msgf("Received signal: %s. Shutting down gracefully...", sig)
		cancel()
	}()

	// Telemetry: sample store, collector and filesystem change feed.
	store, err := telemetry.NewFileStore(cfg.Telemetry.StorePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open telemetry store")
	}
	collector := telemetry.NewCollector(telemetry.CollectorConfig{
		Packages: cfg.Telemetry.Packages,
		Roots:    cfg.Telemetry.PackageRoots,
	}, log.Logger)
	watcher := telemetry.NewWatcher(cfg.Telemetry.PackageRoots, log.Logger)
	if err := watcher.Start(ctx); err != nil {
		log.Warn().Err(err).Msg("Package watcher unavailable, sampling on interval only")
	}

	// Detection: windower and scoring model.
	windower := features.NewWindower(features.WindowerConfig{
		WindowSize: cfg.Detection.WindowSize,
		Features:   cfg.Detection.Features,
	})
	modelCfg := detector.DefaultModelConfig(len(windower.Features()), windower.WindowSize())
	modelCfg.KernelSize = cfg.Detection.KernelSize
	modelCfg.HiddenSize = cfg.Detection.HiddenSize
	modelCfg.NumLayers = cfg.Detection.GRULayers
	model := detector.NewModel(modelCfg)
	if err := model.LoadWeights(cfg.Detection.WeightsPath); err != nil {
		log.Warn().Err(err).Str("path", cfg.Detection.WeightsPath).Msg("Using seeded model weights")
	}

	// Correction: registry validation, update pinning and rollback.
	registryClient := registry.NewClient(cfg.Validation.RegistryURL, time.Duration(cfg.Validation.TimeoutSeconds)*time.Second, log.Logger)
	pkgValidator := validator.New(registryClient, cfg.Validation.AllowedSources, log.Logger)
	installer := pkgmgr.NewPipInstaller(log.Logger)
	pinner := pkgmgr.NewPinner(cfg.Mitigation.PinDir, log.Logger)
	backups, err := rollback.NewManager(cfg.Backup.Dir, cfg.Backup.MaxHistory, installer, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open backup ledger")
	}

	// Mitigation: audit trail, response actions and the orchestrator.
	audit, err := mitigation.NewAuditLogger(cfg.Mitigation.Notification.Logging)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open mitigation audit log")
	}
	actions := []mitigation.Action{
		mitigation.NewRollbackAction(backups),
		mitigation.NewValidateAction(pkgValidator),
		mitigation.NewBlockUpdatesAction(pinner),
		mitigation.NewNotifier(cfg.Mitigation.Notification, audit, mitigation.NewMailCommand(), log.Logger),
	}
	orchestrator, err := mitigation.NewOrchestrator(cfg.Mitigation, actions, audit, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build mitigation orchestrator")
	}

	// Alerting: always log locally, forward downstream when configured.
	sinks := []alerting.Sink{alerting.NewLogSink(log.Logger)}
	if cfg.Alerting.Endpoint != "" {
		sinks = append(sinks, alerting.NewHTTPSink(cfg.Alerting.Endpoint, time.Duration(cfg.Alerting.TimeoutSeconds)*time.Second))
	}
	dispatcher := alerting.NewDispatcher(log.Logger, sinks...)

	pipe := pipeline.New(pipeline.Config{
		Threshold: cfg.Detection.Threshold,
	}, store, windower, model, orchestrator, dispatcher, log.Logger)

	packageMonitor := packages.NewPackageMonitor(collector, store, watcher, pipe, backups, log.Logger)

	// Start API server in a goroutine
	go api.StartAPIServer(cfg.APIPort, packageMonitor)

	// Initialize and start the scheduler
	sched := scheduler.NewScheduler(cfg)
	sched.RegisterMonitor(packageMonitor)
	sched.Start(ctx)

	<-ctx.Done()

	log.Info().Msg("pkg-warden stopped.")
	time.Sleep(1 * time.Second) // Give some time for cleanup
}
