// Package reconcile merges provider status reports into stored tasks. Polls,
// webhooks and the background sweeper all go through the same Reconcile function.
package reconcile

import (
	"time"

	"github.com/nadmax/imagegen/internal/provider"
	"github.com/nadmax/imagegen/internal/task"
)

type Source string

const (
	SourcePoll    Source = "poll"
	SourceWebhook Source = "webhook"
	SourceSweep   Source = "sweep"
)

// Reconcile computes the update a report implies for t. Waiting reports and
// tasks that are already terminal yield an empty update. Non-empty updates
// carry ExpectStatus=waiting so a concurrent terminal write wins.
func Reconcile(t *task.Task, r *provider.StatusReport, now time.Time) task.Update {
	if t.Status.IsTerminal() {
		return task.Update{}
	}

	switch r.State {
	case task.StatusSuccess:
		completedAt := now
		if r.CompleteTime != nil {
			completedAt = time.UnixMilli(*r.CompleteTime).UTC()
		}

		return task.Update{
			ExpectStatus: task.Ptr(task.StatusWaiting),
			Status:       task.Ptr(task.StatusSuccess),
			ResultURLs:   DecodeResult(r.ResultJSON).URLs,
			CostTime:     r.CostTime,
			CompletedAt:  &completedAt,
		}
	case task.StatusFail:
		return task.Update{
			ExpectStatus:   task.Ptr(task.StatusWaiting),
			Status:         task.Ptr(task.StatusFail),
			FailureCode:    r.FailCode,
			FailureMessage: r.FailMsg,
			CompletedAt:    &now,
		}
	default:
		return task.Update{}
	}
}
