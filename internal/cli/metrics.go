package cli

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type runMetrics struct {
	registry *prometheus.Registry
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	pixels   prometheus.Counter
	bytesIn  prometheus.Counter
	bytesOut prometheus.Counter
}

func newRunMetrics() *runMetrics {
	m := &runMetrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rasterkit_cli_runs_total",
			Help: "CLI filter runs by filter and outcome.",
		}, []string{"filter", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rasterkit_cli_run_duration_seconds",
			Help:    "Wall time of a CLI filter run.",
			Buckets: prometheus.DefBuckets,
		}, []string{"filter"}),
		pixels: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rasterkit_cli_pixels_processed_total",
			Help: "Pixels filtered by the CLI.",
		}),
		bytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rasterkit_cli_bytes_in_total",
			Help: "Source bytes read by the CLI.",
		}),
		bytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rasterkit_cli_bytes_out_total",
			Help: "Encoded bytes written by the CLI.",
		}),
	}
	m.registry.MustRegister(m.runs, m.duration, m.pixels, m.bytesIn, m.bytesOut)
	return m
}

func (m *runMetrics) observe(filterName, status string, elapsed time.Duration) {
	m.runs.WithLabelValues(filterName, status).Inc()
	m.duration.WithLabelValues(filterName).Observe(elapsed.Seconds())
}

func (m *runMetrics) writeTo(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
