package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chirpfeed_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chirpfeed_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Feed metrics
	FeedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chirpfeed_feed_requests_total",
			Help: "Total number of feed requests by producing source",
		},
		[]string{"source", "status"},
	)

	RankingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chirpfeed_ranking_duration_seconds",
			Help:    "Duration of a personalized ranking call in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CandidatePoolSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chirpfeed_candidate_pool_size",
			Help:    "Number of candidates scored per ranking call",
			Buckets: []float64{0, 10, 25, 50, 100, 150, 200},
		},
	)

	FallbackUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chirpfeed_fallback_total",
			Help: "Total number of fallback strategy attempts",
		},
		[]string{"strategy", "result"},
	)

	ProfileDegraded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chirpfeed_profile_degraded_total",
			Help: "Total number of engagement profiles replaced by an empty profile",
		},
	)

	// Cache metrics
	FeedCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chirpfeed_feed_cache_lookups_total",
			Help: "Total number of feed cache lookups",
		},
		[]string{"result"},
	)

	// Database metrics
	DatabaseOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chirpfeed_database_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	DatabaseOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chirpfeed_database_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chirpfeed_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)
