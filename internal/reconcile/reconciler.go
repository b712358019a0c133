package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nadmax/imagegen/internal/metrics"
	"github.com/nadmax/imagegen/internal/notify"
	"github.com/nadmax/imagegen/internal/provider"
	"github.com/nadmax/imagegen/internal/store"
	"github.com/nadmax/imagegen/internal/task"
	"go.uber.org/zap"
)

type StatusFetcher interface {
	GetTaskStatus(ctx context.Context, providerTaskID string) (*provider.StatusReport, error)
}

type Reconciler struct {
	store    store.Store
	fetcher  StatusFetcher
	notifier notify.Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewReconciler wires a store to a status source. fetcher and notifier may be nil.
func NewReconciler(s store.Store, fetcher StatusFetcher, notifier notify.Notifier, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:    s,
		fetcher:  fetcher,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

func (r *Reconciler) SetClock(now func() time.Time) {
	r.now = now
}

// Apply reconciles report into the task with the given id and returns the
// stored task afterwards.
func (r *Reconciler) Apply(ctx context.Context, id string, report *provider.StatusReport, source Source) (*task.Task, error) {
	t, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	return r.apply(ctx, t, report, source)
}

// ApplyByProviderID is Apply keyed by the provider task id, as webhooks are.
func (r *Reconciler) ApplyByProviderID(ctx context.Context, providerTaskID string, report *provider.StatusReport, source Source) (*task.Task, error) {
	t, err := r.store.GetByProviderID(ctx, providerTaskID)
	if err != nil {
		return nil, err
	}

	return r.apply(ctx, t, report, source)
}

// Poll fetches the provider state of a waiting task and reconciles it. Tasks
// that are terminal or were never accepted by the provider are returned as is.
// On a fetch error t is returned together with the error.
func (r *Reconciler) Poll(ctx context.Context, t *task.Task, source Source) (*task.Task, error) {
	if t.Status != task.StatusWaiting || t.ProviderTaskID == "" || r.fetcher == nil {
		return t, nil
	}

	report, err := r.fetcher.GetTaskStatus(ctx, t.ProviderTaskID)
	if err != nil {
		return t, fmt.Errorf("fetch status of %s: %w", t.ProviderTaskID, err)
	}

	return r.apply(ctx, t, report, source)
}

func (r *Reconciler) apply(ctx context.Context, t *task.Task, report *provider.StatusReport, source Source) (*task.Task, error) {
	metrics.RecordReport(string(source), string(report.State))

	u := Reconcile(t, report, r.now())
	if u.IsEmpty() {
		if t.Status.IsTerminal() && report.State.IsTerminal() {
			metrics.RecordReconcileConflict(string(source))
		}
		return t, nil
	}

	updated, err := r.store.Merge(ctx, t.ID, u)
	if errors.Is(err, task.ErrStatusConflict) {
		metrics.RecordReconcileConflict(string(source))
		r.logger.Info("task already completed, report ignored",
			zap.String("task_id", t.ID),
			zap.String("source", string(source)),
			zap.String("state", string(report.State)),
		)
		return r.store.Get(ctx, t.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("merge task %s: %w", t.ID, err)
	}

	r.completed(ctx, updated, source)
	return updated, nil
}

func (r *Reconciler) completed(ctx context.Context, t *task.Task, source Source) {
	var elapsed time.Duration
	if t.CompletedAt != nil {
		elapsed = max(t.CompletedAt.Sub(t.CreatedAt), 0)
	}
	metrics.RecordTaskCompleted(string(t.Status), string(source), elapsed)

	r.logger.Info("task completed",
		zap.String("task_id", t.ID),
		zap.String("provider_task_id", t.ProviderTaskID),
		zap.String("status", string(t.Status)),
		zap.String("source", string(source)),
	)

	if r.notifier == nil {
		return
	}
	if err := r.notifier.TaskCompleted(ctx, t); err != nil {
		r.logger.Warn("completion notification failed",
			zap.String("task_id", t.ID),
			zap.Error(err),
		)
	}
}
