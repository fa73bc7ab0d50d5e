// Package metrics exposes Prometheus collectors for the crawler.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	jobsClaimed     prometheus.Counter
	jobsFinished    *prometheus.CounterVec
	crawlDuration   prometheus.Histogram
	gatewayRequests *prometheus.CounterVec
	gatewayRetries  prometheus.Counter
	pagesUpserted   prometheus.Counter
	edgesInserted   prometheus.Counter
	activeWorkers   prometheus.Gauge
)

// Init registers all collectors. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		jobsClaimed = promauto.NewCounter(prometheus.CounterOpts{
			Name: "wikigraph_jobs_claimed_total",
			Help: "Jobs claimed from the fetch ledger.",
		})
		jobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wikigraph_jobs_finished_total",
			Help: "Jobs finished, by terminal status.",
		}, []string{"status"})
		crawlDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "wikigraph_crawl_duration_seconds",
			Help:    "Wall time spent crawling one page.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		})
		gatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wikigraph_gateway_requests_total",
			Help: "Upstream API requests, by outcome.",
		}, []string{"outcome"})
		gatewayRetries = promauto.NewCounter(prometheus.CounterOpts{
			Name: "wikigraph_gateway_retries_total",
			Help: "Upstream API retries after transient failures.",
		})
		pagesUpserted = promauto.NewCounter(prometheus.CounterOpts{
			Name: "wikigraph_pages_upserted_total",
			Help: "Pages written to the graph store.",
		})
		edgesInserted = promauto.NewCounter(prometheus.CounterOpts{
			Name: "wikigraph_edges_inserted_total",
			Help: "Link edges written to the graph store.",
		})
		activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wikigraph_active_workers",
			Help: "Workers currently processing a job.",
		})
	})
}

// Handler serves the metrics endpoint.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

func JobClaimed() {
	Init()
	jobsClaimed.Inc()
}

func JobFinished(status string) {
	Init()
	jobsFinished.WithLabelValues(status).Inc()
}

func ObserveCrawl(d time.Duration) {
	Init()
	crawlDuration.Observe(d.Seconds())
}

func GatewayRequest(outcome string) {
	Init()
	gatewayRequests.WithLabelValues(outcome).Inc()
}

func GatewayRetry() {
	Init()
	gatewayRetries.Inc()
}

func PagesUpserted(n int) {
	Init()
	pagesUpserted.Add(float64(n))
}

func EdgesInserted(n int) {
	Init()
	edgesInserted.Add(float64(n))
}

func WorkerStarted() {
	Init()
	activeWorkers.Inc()
}

func WorkerStopped() {
	Init()
	activeWorkers.Dec()
}
