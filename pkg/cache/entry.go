package cache

import (
	"time"

	"github.com/Sternrassler/pagedsearch/pkg/filterkey"
	"github.com/Sternrassler/pagedsearch/pkg/record"
)

// Entry is one cached page. Entries are read-only once stored.
type Entry struct {
	// Key is the query this page answers
	Key filterkey.Key

	// Rows are the (enriched) rows of the page
	Rows []record.Row

	// TotalCount is the server-reported number of matching records
	TotalCount int

	// fetchedAt is stamped by the cache on Put
	fetchedAt time.Time
}

// expired reports whether the entry is at least ttl old at now.
func (e *Entry) expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.fetchedAt) >= ttl
}

// remaining returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) remaining(now time.Time, ttl time.Duration) time.Duration {
	left := ttl - now.Sub(e.fetchedAt)
	if left < 0 {
		return 0
	}
	return left
}
