package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/Sternrassler/pagedsearch/pkg/enrich"
)

// Config is read from PAGEDSEARCH_* environment variables.
type Config struct {
	Addr      string `env:"PAGEDSEARCH_ADDR" envDefault:":8080"`
	APIURL    string `env:"PAGEDSEARCH_API_URL,required,notEmpty"`
	APIToken  string `env:"PAGEDSEARCH_API_TOKEN"`
	UserAgent string `env:"PAGEDSEARCH_USER_AGENT" envDefault:"pagedsearch-proxy/0.1.0"`

	LogLevel  string `env:"PAGEDSEARCH_LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"PAGEDSEARCH_LOG_PRETTY"`

	// RedisURL enables the shared reference cache, e.g. redis://localhost:6379/0
	RedisURL string `env:"PAGEDSEARCH_REDIS_URL"`

	PageSize        int           `env:"PAGEDSEARCH_PAGE_SIZE" envDefault:"10"`
	CacheTTL        time.Duration `env:"PAGEDSEARCH_CACHE_TTL" envDefault:"30s"`
	PrefetchWindow  int           `env:"PAGEDSEARCH_PREFETCH_WINDOW" envDefault:"1"`
	DisablePrefetch bool          `env:"PAGEDSEARCH_DISABLE_PREFETCH"`
	RequestTimeout  time.Duration `env:"PAGEDSEARCH_REQUEST_TIMEOUT" envDefault:"30s"`
	ReferenceTTL    time.Duration `env:"PAGEDSEARCH_REFERENCE_TTL" envDefault:"5m"`
	SessionIdle     time.Duration `env:"PAGEDSEARCH_SESSION_IDLE" envDefault:"15m"`
	MaxSessions     int           `env:"PAGEDSEARCH_MAX_SESSIONS" envDefault:"1000"`
	WaitTimeout     time.Duration `env:"PAGEDSEARCH_WAIT_TIMEOUT" envDefault:"10s"`

	// Entities maps entity names to list endpoint paths
	Entities map[string]string `env:"PAGEDSEARCH_ENTITIES" envDefault:"purchases:/purchases,transfers:/transfers" envKeyValSeparator:":"`

	// Joins are entity:field:kind:attr:as tuples
	Joins []string `env:"PAGEDSEARCH_JOINS" envSeparator:","`
}

// loadConfig parses the environment.
func loadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if len(cfg.Entities) == 0 {
		return Config{}, fmt.Errorf("at least one entity is required")
	}
	if _, err := parseJoins(cfg.Joins, cfg.Entities); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// parseJoins groups join specs by entity.
func parseJoins(specs []string, entities map[string]string) (map[string][]enrich.Join, error) {
	out := make(map[string][]enrich.Join)
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}

		parts := strings.Split(spec, ":")
		if len(parts) != 5 {
			return nil, fmt.Errorf("join %q: want entity:field:kind:attr:as", spec)
		}
		entity := parts[0]
		if _, ok := entities[entity]; !ok {
			return nil, fmt.Errorf("join %q: unknown entity %q", spec, entity)
		}

		out[entity] = append(out[entity], enrich.Join{
			Field: parts[1],
			Kind:  parts[2],
			Attr:  parts[3],
			As:    parts[4],
		})
	}
	return out, nil
}
