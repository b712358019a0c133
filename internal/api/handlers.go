// Package api exposes the HTTP endpoints for creating image generation tasks,
// polling their status, listing history and receiving provider webhooks.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/nadmax/imagegen/internal/dashboard"
	"github.com/nadmax/imagegen/internal/httputil"
	"github.com/nadmax/imagegen/internal/metrics"
	"github.com/nadmax/imagegen/internal/middleware"
	"github.com/nadmax/imagegen/internal/provider"
	"github.com/nadmax/imagegen/internal/reconcile"
	"github.com/nadmax/imagegen/internal/store"
	"github.com/nadmax/imagegen/internal/task"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type TaskCreator interface {
	CreateTask(ctx context.Context, prompt string, ratio task.AspectRatio) (string, error)
}

type API struct {
	store      store.Store
	provider   TaskCreator
	reconciler *reconcile.Reconciler
	logger     *zap.Logger
	mux        *http.ServeMux
}

type CreateTaskRequest struct {
	Prompt      string           `json:"prompt"`
	AspectRatio task.AspectRatio `json:"aspectRatio"`
}

type CreateTaskResponse struct {
	ID     string `json:"id"`
	TaskID string `json:"taskId"`
}

type HistoryResponse struct {
	Tasks      []*task.Task `json:"tasks"`
	HasMore    bool         `json:"hasMore"`
	NextCursor *string      `json:"nextCursor"`
}

func NewAPI(s store.Store, p TaskCreator, r *reconcile.Reconciler, logger *zap.Logger) *API {
	api := &API{
		store:      s,
		provider:   p,
		reconciler: r,
		logger:     logger,
		mux:        http.NewServeMux(),
	}

	api.setupRoutes()
	return api
}

func (a *API) setupRoutes() {
	a.mux.HandleFunc("POST /api/image/create", a.createTask)
	a.mux.HandleFunc("GET /api/image/status/{id}", a.getTaskStatus)
	a.mux.HandleFunc("GET /api/image/history", a.listHistory)
	a.mux.HandleFunc("POST /api/webhook/z-image", a.handleWebhook)

	dash := dashboard.NewDashboard(a.store)
	a.mux.HandleFunc("GET /api/image/stats", dash.GetStats)
	a.mux.HandleFunc("GET /api/image/recent", dash.GetRecentTasks)

	a.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	a.mux.Handle("GET /metrics", promhttp.Handler())
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

func (a *API) log(r *http.Request) *zap.Logger {
	return middleware.RequestLogger(r.Context(), a.logger)
}

func (a *API) createTask(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		httputil.WriteJSONError(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var req CreateTaskRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httputil.WriteJSONErrorDetails(w, "Invalid JSON", err.Error(), http.StatusBadRequest)
		return
	}

	if err := task.ValidateCreate(req.Prompt, req.AspectRatio); err != nil {
		var verr *task.ValidationError
		if errors.As(err, &verr) {
			httputil.WriteJSONErrorDetails(w, "Invalid request", verr.Fields, http.StatusBadRequest)
			return
		}
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	t, err := a.store.Create(ctx, req.Prompt, req.AspectRatio)
	if err != nil {
		a.log(r).Error("failed to store task", zap.Error(err))
		httputil.WriteJSONErrorDetails(w, "Failed to create task", err.Error(), http.StatusInternalServerError)
		return
	}
	metrics.RecordTaskCreated(string(t.AspectRatio))

	// The task stays waiting without a provider id if either call below fails.
	providerTaskID, err := a.provider.CreateTask(ctx, t.Prompt, t.AspectRatio)
	if err != nil {
		a.log(r).Error("provider rejected task", zap.String("task_id", t.ID), zap.Error(err))
		httputil.WriteJSONErrorDetails(w, "Failed to create task", err.Error(), http.StatusInternalServerError)
		return
	}

	if _, err := a.store.AttachProviderID(ctx, t.ID, providerTaskID); err != nil {
		a.log(r).Error("failed to attach provider task id",
			zap.String("task_id", t.ID),
			zap.String("provider_task_id", providerTaskID),
			zap.Error(err),
		)
		httputil.WriteJSONErrorDetails(w, "Failed to create task", err.Error(), http.StatusInternalServerError)
		return
	}

	a.log(r).Info("task created",
		zap.String("task_id", t.ID),
		zap.String("provider_task_id", providerTaskID),
	)
	httputil.WriteJSON(w, http.StatusOK, CreateTaskResponse{ID: t.ID, TaskID: providerTaskID})
}

func (a *API) getTaskStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := r.Context()

	t, err := a.store.Get(ctx, id)
	if errors.Is(err, task.ErrNotFound) {
		httputil.WriteJSONError(w, "Task not found", http.StatusNotFound)
		return
	}
	if err != nil {
		a.log(r).Error("failed to load task", zap.String("task_id", id), zap.Error(err))
		httputil.WriteJSONError(w, "Failed to fetch task status", http.StatusInternalServerError)
		return
	}

	polled, err := a.reconciler.Poll(ctx, t, reconcile.SourcePoll)
	if err != nil {
		a.log(r).Warn("status poll failed, returning last known state",
			zap.String("task_id", id),
			zap.String("provider_task_id", t.ProviderTaskID),
			zap.Error(err),
		)
	}
	if polled != nil {
		t = polled
	}

	httputil.WriteJSON(w, http.StatusOK, t)
}

func (a *API) listHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", store.DefaultLimit)
	offset := queryInt(r, "offset", 0)

	tasks, err := a.store.List(r.Context(), limit, offset)
	if err != nil {
		a.log(r).Error("failed to list tasks", zap.Error(err))
		httputil.WriteJSONError(w, "Failed to fetch history", http.StatusInternalServerError)
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}

	httputil.WriteJSON(w, http.StatusOK, HistoryResponse{Tasks: tasks})
}

func (a *API) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		metrics.RecordWebhookRejected("unreadable")
		httputil.WriteJSONErrorDetails(w, "Invalid webhook data", err.Error(), http.StatusBadRequest)
		return
	}

	report, err := provider.DecodeWebhook(body)
	if err != nil {
		metrics.RecordWebhookRejected("malformed")
		a.log(r).Warn("rejected webhook", zap.Error(err))

		var merr *provider.MalformedPayloadError
		if errors.As(err, &merr) && len(merr.Details) > 0 {
			httputil.WriteJSONErrorDetails(w, "Invalid webhook data", merr.Details, http.StatusBadRequest)
			return
		}
		httputil.WriteJSONErrorDetails(w, "Invalid webhook data", err.Error(), http.StatusBadRequest)
		return
	}

	_, err = a.reconciler.ApplyByProviderID(r.Context(), report.TaskID, report, reconcile.SourceWebhook)
	if errors.Is(err, task.ErrNotFound) {
		metrics.RecordWebhookRejected("unknown_task")
		httputil.WriteJSONError(w, "Task not found", http.StatusNotFound)
		return
	}
	if err != nil {
		a.log(r).Error("failed to apply webhook",
			zap.String("provider_task_id", report.TaskID),
			zap.Error(err),
		)
		httputil.WriteJSONError(w, "Failed to apply webhook", http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// queryInt returns def when the parameter is absent or not an integer.
func queryInt(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return def
	}
	return v
}
