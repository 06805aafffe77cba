package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsScheduled    = prometheus.NewCounter(prometheus.CounterOpts{Name: "postpilot_jobs_scheduled_total", Help: "Jobs created"})
	JobsClaimed      = prometheus.NewCounter(prometheus.CounterOpts{Name: "postpilot_jobs_claimed_total", Help: "Due jobs claimed by the selector"})
	JobsCompleted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "postpilot_jobs_completed_total", Help: "Jobs finished successfully"})
	JobsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "postpilot_jobs_failed_total", Help: "Jobs whose execution failed"})
	JobsRetried      = prometheus.NewCounter(prometheus.CounterOpts{Name: "postpilot_jobs_retried_total", Help: "Failed jobs re-queued for retry"})
	JobsCancelled    = prometheus.NewCounter(prometheus.CounterOpts{Name: "postpilot_jobs_cancelled_total", Help: "Jobs cancelled"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "postpilot_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	DueBacklogGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "postpilot_due_backlog", Help: "Pending jobs past their scheduled time"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "postpilot_inflight", Help: "Jobs currently executing"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsScheduled,
			JobsClaimed,
			JobsCompleted,
			JobsFailed,
			JobsRetried,
			JobsCancelled,
			RateLimitRejects,
			DueBacklogGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
