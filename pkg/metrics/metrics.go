package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Completion client metrics
	CompletionRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatlens_completion_requests_total",
			Help: "Completion requests by outcome",
		},
		[]string{"outcome"}, // "ok", "timeout", "unavailable", "upstream_error", "cancelled"
	)

	CompletionRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatlens_completion_retries_total",
			Help: "Completion attempts beyond the first",
		},
	)

	CompletionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatlens_completion_duration_seconds",
			Help:    "End-to-end completion latency including retries",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	StreamFragments = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatlens_stream_fragments_total",
			Help: "Streamed completion fragments received",
		},
	)

	// Store metrics
	MessagesAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatlens_messages_appended_total",
			Help: "Messages appended to the conversation log",
		},
		[]string{"role"},
	)

	// Insight metrics
	InsightQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatlens_insight_queries_total",
			Help: "Insight queries by kind",
		},
		[]string{"kind"},
	)

	InsightCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatlens_insight_cache_hits_total",
			Help: "Insight cache hits",
		},
	)

	InsightCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatlens_insight_cache_misses_total",
			Help: "Insight cache misses (absent or stale corpus version)",
		},
	)
)
