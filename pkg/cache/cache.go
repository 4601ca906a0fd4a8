package cache

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/elastic/go-freelru"

	"github.com/Sternrassler/pagedsearch/pkg/filterkey"
	"github.com/Sternrassler/pagedsearch/pkg/record"
)

const (
	// DefaultTTL is how long a page stays servable after it was fetched
	DefaultTTL = 30 * time.Second

	// DefaultMaxEntries bounds the number of cached pages per cache
	DefaultMaxEntries = 256
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache or was stale
	ErrCacheMiss = errors.New("cache miss")
)

// Options holds result cache configuration.
type Options struct {
	// TTL after which an entry must not be served
	TTL time.Duration

	// MaxEntries is the LRU capacity
	MaxEntries int

	// Now is the clock used to stamp and age entries (default: time.Now)
	Now func() time.Time
}

// DefaultOptions returns the default cache configuration.
func DefaultOptions() Options {
	return Options{
		TTL:        DefaultTTL,
		MaxEntries: DefaultMaxEntries,
		Now:        time.Now,
	}
}

// ResultCache is a TTL-bound, size-bound store of fetched pages.
// It is safe for concurrent use and never performs I/O.
type ResultCache struct {
	lru *freelru.SyncedLRU[filterkey.Key, *Entry]
	ttl time.Duration
	now func() time.Time

	// mu serializes writers so lazy eviction never removes a newer entry
	mu sync.Mutex
}

// New creates a result cache.
func New(opts Options) (*ResultCache, error) {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	lru, err := freelru.NewSynced[filterkey.Key, *Entry](uint32(opts.MaxEntries), hashKey)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}

	return &ResultCache{
		lru: lru,
		ttl: opts.TTL,
		now: opts.Now,
	}, nil
}

func hashKey(k filterkey.Key) uint32 {
	return uint32(xxhash.Sum64String(string(k)))
}

// Get retrieves a cache entry by key.
// Returns ErrCacheMiss if the key doesn't exist or the entry is TTL old.
func (c *ResultCache) Get(key filterkey.Key) (*Entry, error) {
	entry, ok := c.lru.Get(key)
	if !ok {
		CacheMisses.WithLabelValues("absent").Inc()
		return nil, ErrCacheMiss
	}

	if entry.expired(c.now(), c.ttl) {
		c.evict(key, entry)
		CacheMisses.WithLabelValues("stale").Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.Inc()
	return entry, nil
}

// Contains reports whether a servable entry exists, without touching metrics
// or LRU order.
func (c *ResultCache) Contains(key filterkey.Key) bool {
	entry, ok := c.lru.Peek(key)
	return ok && !entry.expired(c.now(), c.ttl)
}

// Put stores the rows for key, replacing any previous entry.
func (c *ResultCache) Put(key filterkey.Key, rows []record.Row, totalCount int) *Entry {
	entry := &Entry{
		Key:        key,
		Rows:       rows,
		TotalCount: totalCount,
		fetchedAt:  c.now(),
	}

	c.mu.Lock()
	evicted := c.lru.Add(key, entry)
	c.mu.Unlock()

	if evicted {
		CacheEvictions.Inc()
	}
	return entry
}

// Remaining returns how long the entry for key stays servable (0 on miss).
func (c *ResultCache) Remaining(key filterkey.Key) time.Duration {
	entry, ok := c.lru.Peek(key)
	if !ok {
		return 0
	}
	return entry.remaining(c.now(), c.ttl)
}

// Invalidate removes a single entry.
func (c *ResultCache) Invalidate(key filterkey.Key) {
	c.mu.Lock()
	c.lru.Remove(key)
	c.mu.Unlock()

	CacheInvalidations.WithLabelValues("key").Inc()
}

// InvalidateAll removes every entry.
func (c *ResultCache) InvalidateAll() {
	c.mu.Lock()
	c.lru.Purge()
	c.mu.Unlock()

	CacheInvalidations.WithLabelValues("all").Inc()
}

// Len returns the number of stored entries, including not yet evicted stale ones.
func (c *ResultCache) Len() int {
	return c.lru.Len()
}

// TTL returns the configured time-to-live.
func (c *ResultCache) TTL() time.Duration {
	return c.ttl
}

// evict drops key only if it still holds the stale entry that was read.
func (c *ResultCache) evict(key filterkey.Key, stale *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.lru.Peek(key); ok && current == stale {
		c.lru.Remove(key)
	}
}
