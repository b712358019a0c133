// Package metrics provides Prometheus metrics for monitoring image generation tasks.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagegen_tasks_created_total",
			Help: "Total number of generation tasks created",
		},
		[]string{"aspect_ratio"},
	)
	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagegen_tasks_completed_total",
			Help: "Total number of tasks that reached a terminal status",
		},
		[]string{"status", "source"},
	)
	ReportsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagegen_provider_reports_total",
			Help: "Total number of provider status reports reconciled",
		},
		[]string{"source", "state"},
	)
	ReconcileConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagegen_reconcile_conflicts_total",
			Help: "Reports ignored because the task was already terminal",
		},
		[]string{"source"},
	)
	WebhooksRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagegen_webhooks_rejected_total",
			Help: "Total number of rejected webhook deliveries",
		},
		[]string{"reason"},
	)
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagegen_provider_requests_total",
			Help: "Total number of requests sent to the generation provider",
		},
		[]string{"operation", "outcome"},
	)
	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imagegen_provider_request_duration_seconds",
			Help:    "Generation provider request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	TaskCompletionTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imagegen_task_completion_seconds",
			Help:    "Time from task creation to terminal status",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"status"},
	)
	TasksByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "imagegen_tasks",
			Help: "Current number of stored tasks by status",
		},
		[]string{"status"},
	)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagegen_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imagegen_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

func RecordTaskCreated(aspectRatio string) {
	TasksCreated.WithLabelValues(aspectRatio).Inc()
}

func RecordTaskCompleted(status, source string, elapsed time.Duration) {
	TasksCompleted.WithLabelValues(status, source).Inc()
	TaskCompletionTime.WithLabelValues(status).Observe(elapsed.Seconds())
}

func RecordReport(source, state string) {
	ReportsReceived.WithLabelValues(source, state).Inc()
}

func RecordReconcileConflict(source string) {
	ReconcileConflicts.WithLabelValues(source).Inc()
}

func RecordWebhookRejected(reason string) {
	WebhooksRejected.WithLabelValues(reason).Inc()
}

func RecordProviderRequest(operation string, err error, duration time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}

	ProviderRequests.WithLabelValues(operation, outcome).Inc()
	ProviderRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func UpdateStatusGauges(counts map[string]int) {
	TasksByStatus.Reset()
	for status, count := range counts {
		TasksByStatus.WithLabelValues(status).Set(float64(count))
	}
}

func RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
