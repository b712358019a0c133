// Package dashboard implements the monitoring endpoints for task statistics and recent completions.
package dashboard

import (
	"context"
	"net/http"
	"time"

	"github.com/nadmax/imagegen/internal/httputil"
	"github.com/nadmax/imagegen/internal/store"
	"github.com/nadmax/imagegen/internal/task"
)

const recentWindow = 24 * time.Hour

type Dashboard struct {
	store store.Store
	now   func() time.Time
}

type Stats struct {
	TotalTasks            int            `json:"total_tasks"`
	WaitingTasks          int            `json:"waiting_tasks"`
	SucceededTasks        int            `json:"succeeded_tasks"`
	FailedTasks           int            `json:"failed_tasks"`
	TasksByAspectRatio    map[string]int `json:"tasks_by_aspect_ratio"`
	AverageCompletionTime string         `json:"average_completion_time"`
	LastUpdated           time.Time      `json:"last_updated"`
}

type TaskHistory struct {
	TaskID      string      `json:"task_id"`
	Prompt      string      `json:"prompt"`
	Status      task.Status `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at"`
	Duration    string      `json:"duration"`
}

func NewDashboard(s store.Store) *Dashboard {
	return &Dashboard{store: s, now: time.Now}
}

func (d *Dashboard) Compute(ctx context.Context) (Stats, error) {
	stats := Stats{
		TasksByAspectRatio: make(map[string]int),
		LastUpdated:        d.now(),
	}

	var totalCompletion time.Duration
	completedCount := 0

	err := store.Each(ctx, d.store, func(t *task.Task) {
		stats.TotalTasks++

		switch t.Status {
		case task.StatusWaiting:
			stats.WaitingTasks++
		case task.StatusSuccess:
			stats.SucceededTasks++
		case task.StatusFail:
			stats.FailedTasks++
		}

		stats.TasksByAspectRatio[string(t.AspectRatio)]++

		if t.CompletedAt != nil && t.CompletedAt.After(t.CreatedAt) {
			totalCompletion += t.CompletedAt.Sub(t.CreatedAt)
			completedCount++
		}
	})
	if err != nil {
		return Stats{}, err
	}

	if completedCount > 0 {
		avg := totalCompletion / time.Duration(completedCount)
		stats.AverageCompletionTime = avg.Round(time.Millisecond).String()
	} else {
		stats.AverageCompletionTime = "N/A"
	}

	return stats, nil
}

// StatusCounts returns the number of stored tasks per status.
func (d *Dashboard) StatusCounts(ctx context.Context) (map[string]int, error) {
	counts := map[string]int{
		string(task.StatusWaiting): 0,
		string(task.StatusSuccess): 0,
		string(task.StatusFail):    0,
	}

	err := store.Each(ctx, d.store, func(t *task.Task) {
		counts[string(t.Status)]++
	})
	if err != nil {
		return nil, err
	}

	return counts, nil
}

func (d *Dashboard) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := d.Compute(r.Context())
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (d *Dashboard) GetRecentTasks(w http.ResponseWriter, r *http.Request) {
	cutoff := d.now().Add(-recentWindow)
	history := []TaskHistory{}

	err := store.Each(r.Context(), d.store, func(t *task.Task) {
		if t.CompletedAt == nil || t.CompletedAt.Before(cutoff) {
			return
		}

		history = append(history, TaskHistory{
			TaskID:      t.ID,
			Prompt:      t.Prompt,
			Status:      t.Status,
			CreatedAt:   t.CreatedAt,
			CompletedAt: t.CompletedAt,
			Duration:    t.CompletedAt.Sub(t.CreatedAt).Round(time.Millisecond).String(),
		})
	})
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, history)
}
