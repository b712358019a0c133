// Package notify delivers notifications when a generation task reaches a
// terminal status.
package notify

import (
	"context"
	"errors"

	"github.com/nadmax/imagegen/internal/task"
	"go.uber.org/zap"
)

type Notifier interface {
	TaskCompleted(ctx context.Context, t *task.Task) error
}

type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) TaskCompleted(_ context.Context, t *task.Task) error {
	fields := []zap.Field{
		zap.String("task_id", t.ID),
		zap.String("provider_task_id", t.ProviderTaskID),
		zap.String("status", string(t.Status)),
	}

	if t.Status == task.StatusFail {
		fields = append(fields,
			zap.String("failure_code", t.FailureCode),
			zap.String("failure_message", t.FailureMessage),
		)
		n.logger.Warn("task failed", fields...)
		return nil
	}

	fields = append(fields, zap.Strings("result_urls", t.ResultURLs))
	if t.CostTime != nil {
		fields = append(fields, zap.Int64("cost_time", *t.CostTime))
	}
	n.logger.Info("task succeeded", fields...)
	return nil
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) TaskCompleted(ctx context.Context, t *task.Task) error {
	var errs []error
	for _, n := range m {
		if err := n.TaskCompleted(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
