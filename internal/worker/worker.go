// Package worker provides the background sweeper that polls the provider for
// tasks still waiting on a result.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/nadmax/imagegen/internal/reconcile"
	"github.com/nadmax/imagegen/internal/store"
	"github.com/nadmax/imagegen/internal/task"
	"go.uber.org/zap"
)

const DefaultInterval = 30 * time.Second

type Sweeper struct {
	id         string
	store      store.Store
	reconciler *reconcile.Reconciler
	logger     *zap.Logger
	interval   time.Duration
	minAge     time.Duration
	now        func() time.Time
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewSweeper(id string, s store.Store, r *reconcile.Reconciler, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		id:         id,
		store:      s,
		reconciler: r,
		logger:     logger.With(zap.String("worker_id", id)),
		interval:   DefaultInterval,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
}

func (w *Sweeper) SetInterval(d time.Duration) {
	w.interval = d
}

// SetMinAge skips tasks updated more recently than d, leaving them to the
// webhook and client polls.
func (w *Sweeper) SetMinAge(d time.Duration) {
	w.minAge = d
}

// Start sweeps every interval until Stop is called or ctx is done.
func (w *Sweeper) Start(ctx context.Context) {
	if w.interval <= 0 {
		w.logger.Info("Sweeper disabled")
		return
	}

	w.logger.Info("Sweeper started", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			w.logger.Info("Sweeper stopped")
			return
		case <-ctx.Done():
			w.logger.Info("Sweeper stopped", zap.Error(ctx.Err()))
			return
		case <-ticker.C:
			if _, err := w.SweepOnce(ctx); err != nil {
				w.logger.Error("Sweep failed", zap.Error(err))
			}
		}
	}
}

func (w *Sweeper) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// SweepOnce polls every waiting task that has a provider id and returns how
// many of them reached a terminal status. Poll errors are logged per task.
func (w *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := w.now().Add(-w.minAge)

	var pending []*task.Task
	err := store.Each(ctx, w.store, func(t *task.Task) {
		if t.Status != task.StatusWaiting || t.ProviderTaskID == "" {
			return
		}
		if t.UpdatedAt.After(cutoff) {
			return
		}
		pending = append(pending, t)
	})
	if err != nil {
		return 0, err
	}

	completed := 0
	for _, t := range pending {
		if ctx.Err() != nil {
			return completed, ctx.Err()
		}

		updated, err := w.reconciler.Poll(ctx, t, reconcile.SourceSweep)
		if err != nil {
			w.logger.Warn("Sweep poll failed",
				zap.String("task_id", t.ID),
				zap.String("provider_task_id", t.ProviderTaskID),
				zap.Error(err),
			)
			continue
		}
		if updated.Status.IsTerminal() {
			completed++
		}
	}

	if len(pending) > 0 {
		w.logger.Info("Sweep finished",
			zap.Int("polled", len(pending)),
			zap.Int("completed", completed),
		)
	}

	return completed, nil
}
