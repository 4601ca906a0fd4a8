// Package cache provides the short-lived result cache for paged searches.
//
// The cache maps a filterkey.Key (filters + page + page size) to the rows and
// total count the server returned for it:
//
// - Entries expire after a fixed TTL (default 30s) and are never served afterwards
// - Expired entries are evicted lazily on read
// - Total size is bounded by an LRU (elastic/go-freelru, xxhash keyed)
// - Entries are immutable and swapped as a whole on refresh
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	results, err := cache.New(cache.DefaultOptions())
//	if err != nil {
//		return err
//	}
//
//	key := filterkey.Build(filterkey.FilterSet{"storeId": "S1"}, 1, 5)
//
//	entry, err := results.Get(key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// Cache miss - fetch the page
//	}
//
//	results.Put(key, page.Items, page.TotalItems)
//
// # Invalidation
//
// InvalidateAll is called whenever the active filter set changes: pages cached
// for the old filters are unreachable afterwards. Invalidate drops a single key,
// e.g. before a manual refresh.
//
// # Metrics
//
//   - pagedsearch_cache_hits_total - Cache hits
//   - pagedsearch_cache_misses_total{reason} - Cache misses ("absent", "stale")
//   - pagedsearch_cache_invalidations_total{scope} - Invalidations ("key", "all")
//   - pagedsearch_cache_evictions_total - Entries evicted by the size bound
package cache
