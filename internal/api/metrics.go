package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// unmatchedRoute labels requests no registered pattern serves.
const unmatchedRoute = "other"

type metrics struct {
	registry          *prometheus.Registry
	requests          *prometheus.CounterVec
	latency           *prometheus.HistogramVec
	jobsCreated       *prometheus.CounterVec
	queueEnqueued     *prometheus.CounterVec
	rateLimitRejected *prometheus.CounterVec
}

func newMetrics() *metrics {
	requestLabels := []string{"method", "route", "status"}
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rasterkit",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "HTTP requests handled by the API, by matched route.",
		}, requestLabels),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rasterkit",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "API request latency in seconds, by matched route.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, requestLabels),
		jobsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rasterkit",
			Subsystem: "api",
			Name:      "jobs_created_total",
			Help:      "Filter jobs accepted by POST /v1/jobs.",
		}, []string{"source_type", "filter"}),
		queueEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rasterkit",
			Subsystem: "queue",
			Name:      "jobs_enqueued_total",
			Help:      "Filter jobs handed to the worker queue.",
		}, []string{"queue", "filter"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rasterkit",
			Subsystem: "api",
			Name:      "rate_limit_rejections_total",
			Help:      "Job mutations refused by the rate limiter.",
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.latency,
		m.jobsCreated,
		m.queueEnqueued,
		m.rateLimitRejected,
	)
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// withHTTPMetrics counts and times every request under the route pattern
// the mux would dispatch it to.
func (s *Server) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := s.route(r)
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		labels := prometheus.Labels{
			"method": r.Method,
			"route":  route,
			"status": strconv.Itoa(recorder.status),
		}
		s.metrics.requests.With(labels).Inc()
		s.metrics.latency.With(labels).Observe(time.Since(start).Seconds())
	})
}

// route returns the path half of the mux pattern serving r, such as
// "/v1/jobs/{id}/start", so job ids never become label values.
func (s *Server) route(r *http.Request) string {
	_, pattern := s.mux.Handler(r)
	if pattern == "" {
		return unmatchedRoute
	}
	if _, path, ok := strings.Cut(pattern, " "); ok {
		return path
	}
	return pattern
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
