// Package metrics exposes ETL and API counters on a private Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric the pipeline and the read API record.
type Collector struct {
	RunsTotal        *prometheus.CounterVec
	RecordsProcessed *prometheus.CounterVec
	RecordsFailed    *prometheus.CounterVec
	FetchAttempts    *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
	SchemaDrift      *prometheus.CounterVec

	APIRequests        *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

func New() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etl_runs_total",
			Help: "Finalized ingestion runs by source and status",
		},
		[]string{"source", "status"},
	)
	c.RecordsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etl_records_processed_total",
			Help: "Records written to the unified store",
		},
		[]string{"source"},
	)
	c.RecordsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etl_records_failed_total",
			Help: "Records rejected by validation or the writer",
		},
		[]string{"source"},
	)
	c.FetchAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etl_fetch_attempts_total",
			Help: "Source fetch attempts by outcome",
		},
		[]string{"source", "outcome"}, // "ok", "transient", "permanent"
	)
	c.RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "etl_run_duration_seconds",
			Help:    "Wall time of one source run",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"source"},
	)
	c.SchemaDrift = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etl_schema_drift_total",
			Help: "Schema drift events detected",
		},
		[]string{"source"},
	)
	c.APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Read API requests",
		},
		[]string{"endpoint", "method"},
	)
	c.APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Read API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	c.registry.MustRegister(
		c.RunsTotal,
		c.RecordsProcessed,
		c.RecordsFailed,
		c.FetchAttempts,
		c.RunDuration,
		c.SchemaDrift,
		c.APIRequests,
		c.APIRequestDuration,
	)
	return c
}

// RecordRun counts a finalized run.
func (c *Collector) RecordRun(source, status string, processed, failed int, elapsed time.Duration) {
	c.RunsTotal.WithLabelValues(source, status).Inc()
	c.RecordsProcessed.WithLabelValues(source).Add(float64(processed))
	c.RecordsFailed.WithLabelValues(source).Add(float64(failed))
	c.RunDuration.WithLabelValues(source).Observe(elapsed.Seconds())
}

func (c *Collector) RecordFetch(source, outcome string) {
	c.FetchAttempts.WithLabelValues(source, outcome).Inc()
}

func (c *Collector) RecordDrift(source string) {
	c.SchemaDrift.WithLabelValues(source).Inc()
}

func (c *Collector) RecordRequest(endpoint, method string, elapsed time.Duration) {
	c.APIRequests.WithLabelValues(endpoint, method).Inc()
	c.APIRequestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// Registry exposes the underlying registry, mostly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
