// Package metrics holds the Prometheus collectors for the retrieval pipeline and HTTP API.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "kensa"

// Pipeline metrics.
var (
	PrefilterCandidates = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prefilter_candidates",
			Help:      "Number of candidates returned by the structured prefilter",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	PrefilterDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prefilter_duration_seconds",
			Help:      "Structured prefilter latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	RetrievalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_total",
			Help:      "Total retrieval pipeline executions",
		},
		[]string{"mode", "status"}, // status: ok / error
	)

	RetrievalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Retrieval pipeline latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"mode"},
	)

	ParityVerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parity_verdicts_total",
			Help:      "Evidence parity verdicts by result",
		},
		[]string{"result"}, // "pass" / "fail"
	)

	HarnessRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "harness_runs_total",
			Help:      "Determinism harness executions by result",
		},
		[]string{"result"}, // "deterministic" / "diverged" / "error"
	)
)

// Embedding metrics.
var (
	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding provider requests",
		},
		[]string{"provider", "model", "status"},
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"provider", "model"},
	)

	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_total",
			Help:      "Embedding cache lookups by ledger outcome",
		},
		[]string{"outcome"}, // "hit" / "miss-fetched" / "miss-failed"
	)
)

func init() {
	prometheus.MustRegister(
		PrefilterCandidates,
		PrefilterDuration,
		RetrievalsTotal,
		RetrievalDuration,
		ParityVerdictsTotal,
		HarnessRunsTotal,
		EmbeddingRequestsTotal,
		EmbeddingRequestDuration,
		EmbeddingCacheTotal,
	)
}
