package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/nadmax/imagegen/internal/app"
	"github.com/nadmax/imagegen/internal/config"
	"github.com/nadmax/imagegen/internal/reconcile"
	"github.com/nadmax/imagegen/internal/worker"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.ValidateWorker(); err != nil {
		log.Fatal(err)
	}

	logger, err := app.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open task store", zap.Error(err))
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Warn("failed to close task store", zap.Error(err))
		}
	}()

	notifier, err := app.NewNotifier(cfg, logger)
	if err != nil {
		logger.Fatal("failed to configure notifications", zap.Error(err))
	}

	reconciler := reconcile.NewReconciler(s, app.NewProviderClient(cfg), notifier, logger)

	w := worker.NewSweeper(cfg.WorkerID, s, reconciler, logger)
	w.SetInterval(cfg.SweepInterval)
	w.SetMinAge(cfg.SweepMinAge)

	w.Start(ctx)
	logger.Info("Shutting down worker...")
}
