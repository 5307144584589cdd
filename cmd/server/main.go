package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/payflux/monitor-core/internal/api"
	"github.com/payflux/monitor-core/internal/client"
	"github.com/payflux/monitor-core/internal/config"
	"github.com/payflux/monitor-core/internal/detect"
	"github.com/payflux/monitor-core/internal/scheduler"
	"github.com/payflux/monitor-core/internal/storage/postgres"
	"github.com/payflux/monitor-core/pkg/cache"
	"github.com/payflux/monitor-core/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logger.New(cfg.LogLevel)
	logger.Info("Starting PAYFLUX monitor-core", "environment", cfg.Environment)

	// Detection thresholds stay hot-reloadable; everything else is fixed at
	// process start.
	watcher := config.NewWatcher(cfg.Detection, func(config.DetectionConfig) {
		logger.Info("detection thresholds reloaded")
	})

	queryCache := cache.New(cfg.Cache, logger)

	store, err := postgres.Connect(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to connect to datastore", "error", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := store.Init(ctx); err != nil {
		logger.Fatal("Failed to initialize monitoring schema", "error", err)
	}
	logger.Info("datastore initialized")

	engine := detect.NewEngine(store, watcher.Detection, logger)

	sched := scheduler.New(engine, store, *cfg, logger)
	if err := sched.Start(ctx); err != nil {
		logger.Fatal("Failed to start detection scheduler", "error", err)
	}
	logger.Info("detection scheduler started", "interval", cfg.Detection.Interval())

	monitoringClient := client.New(store, queryCache, *cfg, sched.GetStatus, logger)

	apiServer := api.NewServer(*cfg, logger, store, monitoringClient, sched)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Info("Shutdown signal received")
		cancel()
	}()

	if err := apiServer.Start(ctx); err != nil {
		logger.Error("API server failed", "error", err)
	}

	// Orderly teardown: stop scheduling first, then drop subscriptions.
	if err := sched.Stop(); err != nil {
		logger.Warn("scheduler stop failed", "error", err)
	}
	monitoringClient.Cleanup()

	logger.Info("PAYFLUX monitor-core shutdown complete")
}
