// Package metrics provides Prometheus metrics for monitoring collection runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
//
// All Record methods are safe on a nil receiver so components can run
// without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	// Crawl metrics
	PagesFetched     *prometheus.CounterVec
	FetchRetries     prometheus.Counter
	RecordsExtracted prometheus.Counter
	SourceFailures   prometheus.Counter
	FetchLatency     prometheus.Histogram

	// Store metrics
	RecordsInserted   prometheus.Counter
	RecordsDuplicated prometheus.Counter
	InsertErrors      prometheus.Counter
	StoreDuration     *prometheus.HistogramVec

	// Run metrics
	RunsTotal   *prometheus.CounterVec
	RunsActive  prometheus.Gauge
	RunDuration prometheus.Histogram
}

// New creates a Metrics instance registered on its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "promozone"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		PagesFetched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crawler",
			Name:      "pages_fetched_total",
			Help:      "Search pages fetched, by outcome",
		}, []string{"outcome"}),
		FetchRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crawler",
			Name:      "fetch_retries_total",
			Help:      "Page fetch attempts that were retried",
		}),
		RecordsExtracted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crawler",
			Name:      "records_extracted_total",
			Help:      "Product records extracted from search pages",
		}),
		SourceFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crawler",
			Name:      "source_failures_total",
			Help:      "Search terms aborted after retry exhaustion",
		}),
		FetchLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "crawler",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of a page fetch including retries",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),

		RecordsInserted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "records_inserted_total",
			Help:      "Records appended to the warehouse",
		}),
		RecordsDuplicated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "records_duplicated_total",
			Help:      "Candidate records dropped as duplicates",
		}),
		InsertErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "insert_errors_total",
			Help:      "Failed bulk appends",
		}),
		StoreDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Duration of store operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "total",
			Help:      "Collection runs by terminal status",
		}, []string{"status"}),
		RunsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "active",
			Help:      "Collection runs in progress",
		}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "duration_seconds",
			Help:      "Wall time of finished collection runs",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordPage counts one page fetch.
func (m *Metrics) RecordPage(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.PagesFetched.WithLabelValues(outcome).Inc()
	m.FetchLatency.Observe(d.Seconds())
}

// RecordRetry counts one retried fetch attempt.
func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.FetchRetries.Inc()
}

// RecordExtracted counts records kept from a page.
func (m *Metrics) RecordExtracted(n int) {
	if m == nil {
		return
	}
	m.RecordsExtracted.Add(float64(n))
}

// RecordSourceFailure counts one aborted search term.
func (m *Metrics) RecordSourceFailure() {
	if m == nil {
		return
	}
	m.SourceFailures.Inc()
}

// RecordInsert records the outcome of one batch load.
func (m *Metrics) RecordInsert(inserted, duplicates, errors int, d time.Duration) {
	if m == nil {
		return
	}
	m.RecordsInserted.Add(float64(inserted))
	m.RecordsDuplicated.Add(float64(duplicates))
	m.InsertErrors.Add(float64(errors))
	m.StoreDuration.WithLabelValues("insert_batch").Observe(d.Seconds())
}

// RecordStoreOp times a store call other than a batch load.
func (m *Metrics) RecordStoreOp(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.StoreDuration.WithLabelValues(op).Observe(d.Seconds())
}

// RunStarted marks a run as in progress.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.RunsActive.Inc()
}

// RunFinished records a run's terminal status and duration.
func (m *Metrics) RunFinished(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsActive.Dec()
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(d.Seconds())
}
