package main

import (
	"context"
	"time"

	"github.com/nadmax/imagegen/internal/metrics"
	"go.uber.org/zap"
)

const metricsInterval = 10 * time.Second

type statusCounter interface {
	StatusCounts(ctx context.Context) (map[string]int, error)
}

func startMetricsCollector(ctx context.Context, c statusCounter, logger *zap.Logger) {
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		updateTaskMetrics(ctx, c, logger)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func updateTaskMetrics(ctx context.Context, c statusCounter, logger *zap.Logger) {
	counts, err := c.StatusCounts(ctx)
	if err != nil {
		logger.Warn("Failed to count tasks for metrics", zap.Error(err))
		return
	}

	metrics.UpdateStatusGauges(counts)
}
