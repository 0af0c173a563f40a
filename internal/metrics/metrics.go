// Package metrics defines the Prometheus collectors for the question
// answering pipeline, ingestion and the HTTP API.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	QueriesTotal         *prometheus.CounterVec
	QueryErrorsTotal     *prometheus.CounterVec
	StageDuration        *prometheus.HistogramVec
	CacheLookupsTotal    *prometheus.CounterVec
	RerankFallbacksTotal prometheus.Counter
	CandidatesRetrieved  prometheus.Histogram
	AnswerCoverage       prometheus.Histogram
	DocumentsIndexed     *prometheus.CounterVec
	ChunksIndexed        prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg. A nil reg uses a
// fresh registry, which keeps tests independent of the global one.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docqa_http_requests_total",
				Help: "Total HTTP requests by method, route and status.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docqa_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"method", "route"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "docqa_http_requests_in_flight",
				Help: "HTTP requests currently being served.",
			},
		),
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docqa_queries_total",
				Help: "Completed questions by outcome.",
			},
			[]string{"outcome"},
		),
		QueryErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docqa_query_errors_total",
				Help: "Questions that ended in an error, by failing stage.",
			},
			[]string{"stage"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docqa_stage_duration_seconds",
				Help:    "Pipeline stage latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"stage"},
		),
		CacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docqa_cache_lookups_total",
				Help: "Response cache lookups by result (hit, miss).",
			},
			[]string{"result"},
		),
		RerankFallbacksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docqa_rerank_fallbacks_total",
				Help: "Reranks that fell back to bi-encoder order.",
			},
		),
		CandidatesRetrieved: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "docqa_candidates_retrieved",
				Help:    "Candidates passing the similarity threshold per question.",
				Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
			},
		),
		AnswerCoverage: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "docqa_answer_coverage_percent",
				Help:    "Share of answer tokens found in the sources.",
				Buckets: prometheus.LinearBuckets(0, 10, 11),
			},
		),
		DocumentsIndexed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docqa_documents_indexed_total",
				Help: "Documents processed by ingestion, by final status.",
			},
			[]string{"status"},
		),
		ChunksIndexed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docqa_chunks_indexed_total",
				Help: "Chunks embedded and added to the vector index.",
			},
		),
		gatherer: reg,
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.QueriesTotal,
		m.QueryErrorsTotal,
		m.StageDuration,
		m.CacheLookupsTotal,
		m.RerankFallbacksTotal,
		m.CandidatesRetrieved,
		m.AnswerCoverage,
		m.DocumentsIndexed,
		m.ChunksIndexed,
	)

	return m
}

// Handler returns the scrape handler for the registry the metrics were
// registered with.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
