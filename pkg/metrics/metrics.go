// Package metrics defines the Prometheus metric collectors used by the join
// pipeline and the search service, and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	QueriesTotal         *prometheus.CounterVec
	QueryLatency         *prometheus.HistogramVec
	QueryResultsCount    prometheus.Histogram
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	IndexBuildDuration   prometheus.Histogram
	IndexedSets          prometheus.Gauge
	JoinRunsTotal        *prometheus.CounterVec
	JoinPairsTotal       *prometheus.CounterVec
	JoinCandidatesTotal  *prometheus.CounterVec
	JoinPrunedTotal      *prometheus.CounterVec
	SinkWritesTotal      *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all collectors and registers them with reg. A nil reg
// registers with the default Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "setsim_queries_total",
				Help: "Total similarity queries by result type (hit, miss, zero_result, error).",
			},
			[]string{"result_type"},
		),
		QueryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "setsim_query_latency_seconds",
				Help:    "Similarity query latency in seconds.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		QueryResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "setsim_query_results_count",
				Help:    "Number of similar sets returned per query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses.",
			},
		),
		IndexBuildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "setsim_index_build_duration_seconds",
				Help:    "Time to build a search index.",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
		),
		IndexedSets: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "setsim_indexed_sets",
				Help: "Number of sets in the served search index.",
			},
		),
		JoinRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "setsim_join_runs_total",
				Help: "Join runs by kind (self, cross) and status.",
			},
			[]string{"kind", "status"},
		),
		JoinPairsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "setsim_join_pairs_total",
				Help: "Similar pairs emitted by joins.",
			},
			[]string{"kind", "measure"},
		),
		JoinCandidatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "setsim_join_candidates_total",
				Help: "Candidates that reached exact verification.",
			},
			[]string{"kind", "measure"},
		),
		JoinPrunedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "setsim_join_pruned_total",
				Help: "Index occurrences rejected by the position filter.",
			},
			[]string{"kind", "measure"},
		),
		SinkWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "setsim_sink_writes_total",
				Help: "Pair records written by sink type and status.",
			},
			[]string{"sink", "status"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.QueriesTotal,
		m.QueryLatency,
		m.QueryResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.IndexBuildDuration,
		m.IndexedSets,
		m.JoinRunsTotal,
		m.JoinPairsTotal,
		m.JoinCandidatesTotal,
		m.JoinPrunedTotal,
		m.SinkWritesTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler serves the metrics gathered by g in the Prometheus exposition
// format. A nil g serves the default registry.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
