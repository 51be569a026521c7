package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActionsTotal counts actions dequeued and dispatched to the driver, by
	// environment, source and kind.
	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nsscheduler_actions_total",
			Help: "Total number of actions dispatched to the workload driver",
		},
		[]string{"environment", "source", "kind"},
	)

	// ScaleDuration times a single ScaleUp/ScaleDown driver call.
	ScaleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nsscheduler_scale_duration_seconds",
			Help:    "Time taken by a driver scale call, by environment and direction",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"environment", "direction"},
	)

	// ScaleErrorsTotal counts per-workload scale failures logged by the driver.
	ScaleErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nsscheduler_scale_errors_total",
			Help: "Total number of per-workload scale failures",
		},
		[]string{"namespace", "direction"},
	)

	// QueueDepth reports the current action queue length per environment.
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nsscheduler_queue_depth",
			Help: "Number of pending actions in an environment's queue",
		},
		[]string{"environment"},
	)

	// RecalculationsTotal counts queue-recalculation cycles per environment.
	RecalculationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nsscheduler_recalculations_total",
			Help: "Total number of action-queue recalculation cycles",
		},
		[]string{"environment"},
	)

	// ManualRejectionsTotal counts rejected manual override requests by reason.
	ManualRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nsscheduler_manual_rejections_total",
			Help: "Total number of rejected manual action requests",
		},
		[]string{"environment", "reason"},
	)

	// APIRequestsTotal counts HTTP requests served by the API, by route and status.
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nsscheduler_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	// APIRequestDuration times HTTP requests served by the API.
	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nsscheduler_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(
		ActionsTotal,
		ScaleDuration,
		ScaleErrorsTotal,
		QueueDepth,
		RecalculationsTotal,
		ManualRejectionsTotal,
		APIRequestsTotal,
		APIRequestDuration,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer starting now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
