// Package server — metrics.go registers all Prometheus metrics for the HTTP
// server and exposes helpers used by handlers and middleware.
package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// labelHandler is the "handler" label value used to partition metrics by the
// logical endpoint name rather than the raw URL path.
const labelHandler = "handler"

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, handler name, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec

	// tasksSubmittedTotal counts background tasks accepted, partitioned by
	// task name.
	tasksSubmittedTotal *prometheus.CounterVec

	// searchRequestsTotal counts completed search and answer requests,
	// partitioned by operation and outcome: "hit", "miss", or "error".
	searchRequestsTotal *prometheus.CounterVec

	// uploadBytesTotal sums the bytes of accepted uploads.
	uploadBytesTotal prometheus.Counter

	// rateLimitedTotal counts requests rejected with 429 by the per-IP
	// rate limiter.
	rateLimitedTotal prometheus.Counter
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. promauto.With(reg) is used so that each call
// registers into the provided registry rather than the global default —
// this keeps unit tests hermetic.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ragd",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),

		tasksSubmittedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "tasks",
			Name:      "submitted_total",
			Help:      "Total number of background tasks accepted, partitioned by task name.",
		}, []string{"name"}),

		searchRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "retrieval",
			Name:      "requests_total",
			Help:      "Total number of search and answer requests, partitioned by operation and outcome.",
		}, []string{"operation", "outcome"}),

		uploadBytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "data",
			Name:      "upload_bytes_total",
			Help:      "Total bytes of accepted uploads.",
		}),

		rateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Total number of requests rejected by the per-IP rate limiter.",
		}),
	}
}
