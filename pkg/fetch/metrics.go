package fetch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for fetch coordination.
var (
	// FetchesTotal counts settled fetches by purpose and outcome
	FetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagedsearch_fetches_total",
		Help: "Total fetches by purpose and outcome",
	}, []string{"purpose", "outcome"})

	// PendingRequests tracks in-flight fetches by purpose
	PendingRequests = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pagedsearch_pending_requests",
		Help: "Number of in-flight fetches by purpose",
	}, []string{"purpose"})

	// FetchDuration observes executor latency by purpose
	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pagedsearch_fetch_duration_seconds",
		Help:    "Fetch duration in seconds by purpose",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"purpose"})

	// PrefetchPromotions counts prefetches adopted by a primary navigation
	PrefetchPromotions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pagedsearch_prefetch_promotions_total",
		Help: "Total in-flight prefetches promoted to primary requests",
	})
)
