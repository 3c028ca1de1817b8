package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	ReportsSyncTotal  = prometheus.NewCounter(prometheus.CounterOpts{Name: "reports_sync_total", Help: "Report requests served inline"})
	ReportsAsyncTotal = prometheus.NewCounter(prometheus.CounterOpts{Name: "reports_async_total", Help: "Report requests routed to the async pipeline"})
	JobsCompleted     = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_jobs_completed_total", Help: "Async jobs completed successfully"})
	JobsFailed        = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_jobs_failed_total", Help: "Async jobs that ended failed"})
	JobsDropped       = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_jobs_dropped_total", Help: "Dispatch messages dropped (no matching job row)"})
	NotifyFailures    = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_notify_failures_total", Help: "Notification dispatch failures (job unaffected)"})
	RedirectRedeemed  = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_redirect_redeemed_total", Help: "Download handles redeemed"})
	RedirectRejected  = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_redirect_rejected_total", Help: "Download handles rejected (invalid or expired)"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_rate_limit_rejects_total", Help: "Submissions rejected by the rate limiter"})
	QueueDepthGauge   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "report_queue_depth", Help: "Dispatch queue ready depth"})
	InFlightGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "report_jobs_inflight", Help: "Jobs currently leased by workers"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			ReportsSyncTotal,
			ReportsAsyncTotal,
			JobsCompleted,
			JobsFailed,
			JobsDropped,
			NotifyFailures,
			RedirectRedeemed,
			RedirectRejected,
			RateLimitRejects,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
