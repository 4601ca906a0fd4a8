package search

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/pagedsearch/pkg/cache"
	"github.com/Sternrassler/pagedsearch/pkg/fetch"
	"github.com/Sternrassler/pagedsearch/pkg/prefetch"
)

// DefaultPageSize is the number of rows per page.
const DefaultPageSize = 10

// Config holds session configuration.
type Config struct {
	// ID identifies the session in logs (default: random UUID)
	ID string

	// Entity names what is listed, e.g. "purchases" (logging only)
	Entity string

	// Executor performs the list call (required)
	Executor fetch.Executor

	// Enricher joins reference data into fetched rows (optional)
	Enricher fetch.Enricher

	// PageSize is the number of rows per page (default: DefaultPageSize)
	PageSize int

	// TTL of cached pages (default: cache.DefaultTTL)
	TTL time.Duration

	// MaxCacheEntries bounds the per-session cache (default: cache.DefaultMaxEntries)
	MaxCacheEntries int

	// PrefetchWindow is the number of pages warmed ahead (default: prefetch.DefaultWindow)
	PrefetchWindow int

	// DisablePrefetch turns speculative fetching off
	DisablePrefetch bool

	// RequestTimeout bounds primary fetches (0 = no timeout)
	RequestTimeout time.Duration

	// PrefetchTimeout bounds prefetches (default: fetch.DefaultPrefetchTimeout)
	PrefetchTimeout time.Duration

	// Now is the cache clock (default: time.Now)
	Now func() time.Time

	// Logger (default: component logger "search")
	Logger *zerolog.Logger
}

// DefaultConfig returns the default session configuration without an executor.
func DefaultConfig() Config {
	return Config{
		PageSize:        DefaultPageSize,
		TTL:             cache.DefaultTTL,
		MaxCacheEntries: cache.DefaultMaxEntries,
		PrefetchWindow:  prefetch.DefaultWindow,
		PrefetchTimeout: fetch.DefaultPrefetchTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.TTL <= 0 {
		c.TTL = cache.DefaultTTL
	}
	if c.MaxCacheEntries <= 0 {
		c.MaxCacheEntries = cache.DefaultMaxEntries
	}
	if c.PrefetchWindow <= 0 {
		c.PrefetchWindow = prefetch.DefaultWindow
	}
	if c.DisablePrefetch {
		c.PrefetchWindow = 0
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}
