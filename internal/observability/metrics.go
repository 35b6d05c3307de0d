package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plcctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests served by plcctl serve.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "plcctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	controllerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plcctl",
			Subsystem: "controller",
			Name:      "requests_total",
			Help:      "Requests sent to the PLC web console.",
		},
		[]string{"method", "path", "status", "success"},
	)
	controllerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "plcctl",
			Subsystem: "controller",
			Name:      "request_duration_seconds",
			Help:      "PLC web console request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status", "success"},
	)
	reconcileResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plcctl",
			Subsystem: "reconcile",
			Name:      "results_total",
			Help:      "Reconcile runs by resource kind, decided action and result.",
		},
		[]string{"kind", "action", "result"},
	)
	compilePolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plcctl",
			Subsystem: "compile",
			Name:      "polls_total",
			Help:      "Compilation log polls by observed outcome.",
		},
		[]string{"outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			controllerRequests,
			controllerDuration,
			reconcileResults,
			compilePolls,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// RecordControllerRequest tracks one console round trip. status is 0 when the
// request never produced a response.
func RecordControllerRequest(method, path string, status int, duration time.Duration, success bool) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	successLabel := strconv.FormatBool(success)
	controllerRequests.WithLabelValues(method, path, statusLabel, successLabel).Inc()
	controllerDuration.WithLabelValues(method, path, statusLabel, successLabel).
		Observe(duration.Seconds())
}

func RecordReconcile(kind, action string, err error) {
	RegisterMetrics()
	result := "ok"
	if err != nil {
		result = "error"
	}
	reconcileResults.WithLabelValues(kind, action, result).Inc()
}

func RecordCompilePoll(outcome string) {
	RegisterMetrics()
	compilePolls.WithLabelValues(outcome).Inc()
}
