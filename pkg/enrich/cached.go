package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Sternrassler/pagedsearch/pkg/logging"
	"github.com/Sternrassler/pagedsearch/pkg/record"
)

const (
	// DefaultReferenceTTL is how long a loaded reference list is reused
	DefaultReferenceTTL = 5 * time.Minute

	// DefaultReferenceKinds bounds the number of lists held in memory
	DefaultReferenceKinds = 64

	redisKeyPrefix = "pagedsearch:ref:"
)

// CacheConfig holds CachedSource configuration.
type CacheConfig struct {
	// TTL of a loaded list in memory and in Redis (default: DefaultReferenceTTL)
	TTL time.Duration

	// MaxKinds is the in-memory LRU capacity (default: DefaultReferenceKinds)
	MaxKinds int

	// Redis shares loaded lists between processes (optional)
	Redis *redis.Client

	// Logger (default: component logger "enrich")
	Logger *zerolog.Logger
}

// CachedSource wraps an origin Source with a two-tier cache.
type CachedSource struct {
	origin Source
	lru    *expirable.LRU[string, map[string]record.Row]
	group  singleflight.Group
	redis  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCachedSource creates a cached source in front of origin.
func NewCachedSource(origin Source, cfg CacheConfig) *CachedSource {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultReferenceTTL
	}
	if cfg.MaxKinds <= 0 {
		cfg.MaxKinds = DefaultReferenceKinds
	}

	logger := logging.NewLogger("enrich")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &CachedSource{
		origin: origin,
		lru:    expirable.NewLRU[string, map[string]record.Row](cfg.MaxKinds, nil, cfg.TTL),
		redis:  cfg.Redis,
		ttl:    cfg.TTL,
		logger: logger,
	}
}

// Load implements Source. Concurrent misses for the same kind share one load.
func (s *CachedSource) Load(ctx context.Context, kind string) (map[string]record.Row, error) {
	if ref, ok := s.lru.Get(kind); ok {
		ReferenceLookups.WithLabelValues("memory").Inc()
		return ref, nil
	}

	ch := s.group.DoChan(kind, func() (any, error) {
		// the load outlives a single caller giving up
		return s.load(context.WithoutCancel(ctx), kind)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(map[string]record.Row), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate drops kind from both tiers.
func (s *CachedSource) Invalidate(ctx context.Context, kind string) error {
	s.lru.Remove(kind)
	if s.redis == nil {
		return nil
	}
	if err := s.redis.Del(ctx, redisKeyPrefix+kind).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *CachedSource) load(ctx context.Context, kind string) (map[string]record.Row, error) {
	if ref, err := s.getShared(ctx, kind); err == nil {
		ReferenceLookups.WithLabelValues("redis").Inc()
		s.lru.Add(kind, ref)
		return ref, nil
	} else if !errors.Is(err, redis.Nil) && !errors.Is(err, errNoRedis) {
		s.logger.Warn().Err(err).Str("kind", kind).Msg("Shared reference cache unavailable, loading from origin")
	}

	ref, err := s.origin.Load(ctx, kind)
	if err != nil {
		ReferenceLoadErrors.WithLabelValues(kind).Inc()
		return nil, err
	}
	ReferenceLookups.WithLabelValues("origin").Inc()
	s.lru.Add(kind, ref)

	if err := s.setShared(ctx, kind, ref); err != nil && !errors.Is(err, errNoRedis) {
		s.logger.Warn().Err(err).Str("kind", kind).Msg("Failed to share reference list")
	}

	s.logger.Debug().
		Str("kind", kind).
		Int("records", len(ref)).
		Msg("Loaded reference list")
	return ref, nil
}

var errNoRedis = errors.New("no shared cache configured")

func (s *CachedSource) getShared(ctx context.Context, kind string) (map[string]record.Row, error) {
	if s.redis == nil {
		return nil, errNoRedis
	}

	data, err := s.redis.Get(ctx, redisKeyPrefix+kind).Bytes()
	if err != nil {
		return nil, err
	}

	var ref map[string]record.Row
	if err := json.Unmarshal(data, &ref); err != nil {
		return nil, fmt.Errorf("decode shared %s: %w", kind, err)
	}
	return ref, nil
}

func (s *CachedSource) setShared(ctx context.Context, kind string, ref map[string]record.Row) error {
	if s.redis == nil {
		return errNoRedis
	}

	data, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	if err := s.redis.Set(ctx, redisKeyPrefix+kind, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
