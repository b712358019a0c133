package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nadmax/imagegen/internal/api"
	"github.com/nadmax/imagegen/internal/app"
	"github.com/nadmax/imagegen/internal/config"
	"github.com/nadmax/imagegen/internal/dashboard"
	"github.com/nadmax/imagegen/internal/middleware"
	"github.com/nadmax/imagegen/internal/reconcile"
	"github.com/nadmax/imagegen/internal/worker"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
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

	client := app.NewProviderClient(cfg)
	reconciler := reconcile.NewReconciler(s, client, notifier, logger)

	go startMetricsCollector(ctx, dashboard.NewDashboard(s), logger)

	if cfg.SweepInterval > 0 {
		sweeper := worker.NewSweeper(cfg.WorkerID, s, reconciler, logger)
		sweeper.SetInterval(cfg.SweepInterval)
		sweeper.SetMinAge(cfg.SweepMinAge)
		go sweeper.Start(ctx)
	}

	handler := middleware.Chain(
		api.NewAPI(s, client, reconciler, logger),
		middleware.Recovery(logger),
		middleware.TraceID,
		middleware.Logging(logger),
		middleware.MetricsMiddleware,
		middleware.CORS(cfg.CORSOrigin),
	)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("Server starting",
		zap.String("port", cfg.Port),
		zap.String("store", cfg.StoreBackend),
		zap.String("callback_url", cfg.CallbackURL()),
	)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server failed", zap.Error(err))
	}
	logger.Info("Server stopped")
}
