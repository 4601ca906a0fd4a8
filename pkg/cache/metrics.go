package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagedsearch_cache_hits_total",
			Help: "Total number of result cache hits",
		},
	)

	// CacheMisses tracks cache misses by reason
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagedsearch_cache_misses_total",
			Help: "Total number of result cache misses",
		},
		[]string{"reason"}, // "absent", "stale"
	)

	// CacheInvalidations tracks explicit invalidations by scope
	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagedsearch_cache_invalidations_total",
			Help: "Total number of result cache invalidations",
		},
		[]string{"scope"}, // "key", "all"
	)

	// CacheEvictions tracks entries pushed out by the size bound
	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagedsearch_cache_evictions_total",
			Help: "Total number of result cache entries evicted by capacity",
		},
	)
)
