package service

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"usageexport/internal/etl"
)

// Metrics holds the Prometheus collectors for export runs.
// Each instance owns its registry so several services can coexist in tests.
type Metrics struct {
	Registry *prometheus.Registry

	runs     *prometheus.CounterVec
	rows     prometheus.Counter
	duration prometheus.Histogram
}

// NewMetrics creates and registers the export collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usage_export_runs_total",
			Help: "Export runs by final status and serialization strategy.",
		}, []string{"status", "strategy"}),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usage_export_rows_total",
			Help: "Rows written to CSV files.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "usage_export_duration_seconds",
			Help:    "Duration of export runs.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	m.Registry.MustRegister(m.runs, m.rows, m.duration)
	return m
}

// Observe records one finished run.
func (m *Metrics) Observe(res *etl.ExportResult) {
	if m == nil || res == nil {
		return
	}
	strategy := res.Strategy
	if strategy == "" {
		strategy = "none"
	}
	m.runs.WithLabelValues(string(res.Status), strategy).Inc()
	m.rows.Add(float64(res.RowsWritten))
	m.duration.Observe(res.Duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until the server fails.
func (m *Metrics) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return srv.ListenAndServe()
}
