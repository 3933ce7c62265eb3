// Package metrics defines the Prometheus metric collectors used across the
// trawler and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the trawler.
type Metrics struct {
	ScanDuration        prometheus.Histogram
	CandidatesReady     prometheus.Gauge
	FilesUploadedTotal  prometheus.Counter
	BytesUploadedTotal  prometheus.Counter
	UploadFailuresTotal *prometheus.CounterVec
	IngestsTotal        *prometheus.CounterVec
	ProductsInFlight    prometheus.Gauge
	CatalogWritesTotal  *prometheus.CounterVec
	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	LoopSuspended       prometheus.Gauge
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		ScanDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trawl_scan_duration_seconds",
				Help:    "Duration of one trawl directory scan in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		CandidatesReady: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "trawl_candidates_ready",
				Help: "Number of ready product candidates found by the last scan.",
			},
		),
		FilesUploadedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "trawl_files_uploaded_total",
				Help: "Total files confirmed uploaded and deleted locally.",
			},
		),
		BytesUploadedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "trawl_bytes_uploaded_total",
				Help: "Total bytes confirmed uploaded to the object store.",
			},
		),
		UploadFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trawl_upload_failures_total",
				Help: "Total per-file upload failures by kind (transient, fatal).",
			},
			[]string{"kind"},
		),
		IngestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trawl_ingests_total",
				Help: "Total product ingest attempts by outcome (received, failed, skipped, deferred).",
			},
			[]string{"outcome"},
		),
		ProductsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "trawl_products_in_flight",
				Help: "Number of products currently being ingested.",
			},
		),
		CatalogWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trawl_catalog_writes_total",
				Help: "Total catalog writes by operation and status.",
			},
			[]string{"op", "status"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "trawl_catalog_cache_hits_total",
				Help: "Total terminal-record cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "trawl_catalog_cache_misses_total",
				Help: "Total terminal-record cache misses.",
			},
		),
		LoopSuspended: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "trawl_loop_suspended",
				Help: "1 while the trawl loop is suspended waiting for connectivity, else 0.",
			},
		),
	}

	prometheus.MustRegister(
		m.ScanDuration,
		m.CandidatesReady,
		m.FilesUploadedTotal,
		m.BytesUploadedTotal,
		m.UploadFailuresTotal,
		m.IngestsTotal,
		m.ProductsInFlight,
		m.CatalogWritesTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.LoopSuspended,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
