package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchSearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "airbar", Name: "match_searches_total", Help: "Match finder runs by entity kind"},
		[]string{"kind"},
	)
	MatchCandidates = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "airbar",
			Name:      "match_candidates",
			Help:      "Candidates returned per match search",
			Buckets:   []float64{0, 1, 2, 5, 10, 20},
		},
		[]string{"kind"},
	)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "airbar", Name: "cache_hits_total", Help: "Match cache hits"},
		[]string{"namespace"},
	)
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "airbar", Name: "cache_misses_total", Help: "Match cache misses (including bypass on error)"},
		[]string{"namespace"},
	)

	RequestTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "airbar", Name: "match_request_transitions_total", Help: "MatchRequest state transitions"},
		[]string{"to"},
	)
	MatchTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "airbar", Name: "match_transitions_total", Help: "Match tracking transitions"},
		[]string{"to"},
	)
	ExpiredSwept = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "airbar", Name: "expired_swept_total", Help: "Entities flipped to expired by the sweep"},
		[]string{"entity"},
	)
	DisputesOverdue = promauto.NewGauge(
		prometheus.GaugeOpts{Namespace: "airbar", Name: "disputes_overdue", Help: "Open disputes past an SLA deadline"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "airbar", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "airbar",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
