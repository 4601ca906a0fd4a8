// Package metrics exposes the Prometheus metrics of the paged search packages.
// All metrics are defined in their respective packages (cache, fetch, search,
// httpexec, enrich) and registered via promauto.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all paged search metrics are registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer reads the metrics registered with Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registered metrics in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Result Cache Metrics (pkg/cache):
//   - pagedsearch_cache_hits_total (Counter): Pages served from the result cache
//   - pagedsearch_cache_misses_total{reason="absent|stale"} (Counter): Cache misses
//   - pagedsearch_cache_invalidations_total{scope="key|all"} (Counter): Invalidations
//   - pagedsearch_cache_evictions_total (Counter): LRU evictions
//
// Fetch Metrics (pkg/fetch):
//   - pagedsearch_fetches_total{purpose, outcome} (Counter): Settled fetches
//   - pagedsearch_pending_requests{purpose} (Gauge): In-flight fetches
//   - pagedsearch_fetch_duration_seconds{purpose} (Histogram): Executor latency
//   - pagedsearch_prefetch_promotions_total (Counter): Prefetches adopted by a navigation
//
// Session Metrics (pkg/search):
//   - pagedsearch_sessions_active (Gauge): Open sessions
//   - pagedsearch_intents_total{intent} (Counter): Processed user intents
//   - pagedsearch_page_failures_total (Counter): Failures shown to users
//
// Request Metrics (pkg/httpexec):
//   - pagedsearch_http_requests_total{endpoint, status} (Counter): API requests
//   - pagedsearch_http_request_duration_seconds{endpoint} (Histogram): API latency
//   - pagedsearch_http_errors_total{class} (Counter): API errors by class
//
// Reference Data Metrics (pkg/enrich):
//   - pagedsearch_reference_lookups_total{tier="memory|redis|origin"} (Counter)
//   - pagedsearch_reference_load_errors_total{kind} (Counter)
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(pagedsearch_cache_hits_total[5m])) /
//   (sum(rate(pagedsearch_cache_hits_total[5m])) + sum(rate(pagedsearch_cache_misses_total[5m])))
//
//   # Share of prefetches that were wasted
//   sum(rate(pagedsearch_fetches_total{purpose="prefetch",outcome="cancelled"}[5m])) /
//   sum(rate(pagedsearch_fetches_total{purpose="prefetch"}[5m]))
//
//   # P95 Page Latency
//   histogram_quantile(0.95, rate(pagedsearch_fetch_duration_seconds_bucket{purpose="primary"}[5m]))
