// Package metrics exposes Prometheus collectors for the harvest service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	httpInFlight               prometheus.Gauge
	jobsTotal                  *prometheus.CounterVec
	jobDurationSeconds         prometheus.Histogram
	activeWorkers              prometheus.Gauge
	documentsTotal             *prometheus.CounterVec
	chunksTotal                prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvest_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		httpInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvest_http_requests_in_flight",
				Help: "Number of HTTP requests currently being served.",
			},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_jobs_total",
				Help: "Total number of harvest jobs processed, labeled by final status.",
			},
			[]string{"status"},
		)

		jobDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvest_job_duration_seconds",
				Help:    "Histogram of harvest job wall-clock durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvest_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		documentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_documents_total",
				Help: "Total number of documents extracted, labeled by status.",
			},
			[]string{"status"},
		)

		chunksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvest_chunks_total",
				Help: "Total number of text chunks produced.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob records a finished job and how long it ran.
func ObserveJob(status string, duration time.Duration) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
	jobDurationSeconds.Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveDocument counts a document extraction attempt.
func ObserveDocument(status string) {
	Init()
	documentsTotal.WithLabelValues(status).Inc()
}

// ObserveChunks adds n produced chunks.
func ObserveChunks(n int) {
	Init()
	if n > 0 {
		chunksTotal.Add(float64(n))
	}
}
