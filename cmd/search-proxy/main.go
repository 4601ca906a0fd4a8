// Command search-proxy serves paged search sessions over HTTP for a browser UI.
//
// Each session is a search dialog: the browser posts intents (search, page,
// next, prev, refresh, clear) and renders the returned view. Pages are cached
// per session and the following page is prefetched from the back office API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/pagedsearch/pkg/enrich"
	"github.com/Sternrassler/pagedsearch/pkg/httpexec"
	"github.com/Sternrassler/pagedsearch/pkg/logging"
	"github.com/Sternrassler/pagedsearch/pkg/search"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

func run(ctx context.Context, cfg Config, logger zerolog.Logger) error {
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
	}

	factory, err := newSessionFactory(cfg, redisClient)
	if err != nil {
		return err
	}

	sessions := newRegistry(factory, cfg.SessionIdle, cfg.MaxSessions, logging.NewLogger("sessions"))
	defer sessions.closeAll()

	stopReaper := make(chan struct{})
	defer close(stopReaper)
	go sessions.runReaper(stopReaper)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(&server{sessions: sessions, waitTimeout: cfg.WaitTimeout}, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Addr).
			Str("api", cfg.APIURL).
			Int("entities", len(cfg.Entities)).
			Msg("Starting search proxy")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newSessionFactory wires the API client, reference cache and joins into a
// function opening one session per entity.
func newSessionFactory(cfg Config, redisClient *redis.Client) (sessionFactory, error) {
	var token httpexec.TokenFunc
	if cfg.APIToken != "" {
		token = func(context.Context) (string, error) { return cfg.APIToken, nil }
	}

	client, err := httpexec.New(httpexec.Config{
		BaseURL:   cfg.APIURL,
		UserAgent: cfg.UserAgent,
		Token:     token,
	})
	if err != nil {
		return nil, fmt.Errorf("create api client: %w", err)
	}

	joins, err := parseJoins(cfg.Joins, cfg.Entities)
	if err != nil {
		return nil, err
	}

	// one reference cache shared by all sessions
	references := enrich.NewCachedSource(enrich.NewHTTPSource(client, ""), enrich.CacheConfig{
		TTL:   cfg.ReferenceTTL,
		Redis: redisClient,
	})

	enrichers := make(map[string]*enrich.Enricher, len(joins))
	for entity, entityJoins := range joins {
		e, err := enrich.New(references, entityJoins, nil)
		if err != nil {
			return nil, fmt.Errorf("entity %s: %w", entity, err)
		}
		enrichers[entity] = e
	}

	return func(entity string) (*search.Session, error) {
		path, ok := cfg.Entities[entity]
		if !ok {
			return nil, fmt.Errorf("%w: %q", errUnknownEntity, entity)
		}

		sc := search.DefaultConfig()
		sc.Entity = entity
		sc.Executor = client.Endpoint(path)
		sc.PageSize = cfg.PageSize
		sc.TTL = cfg.CacheTTL
		sc.PrefetchWindow = cfg.PrefetchWindow
		sc.DisablePrefetch = cfg.DisablePrefetch || cfg.PrefetchWindow == 0
		sc.RequestTimeout = cfg.RequestTimeout
		if e, ok := enrichers[entity]; ok {
			sc.Enricher = e
		}

		return search.New(sc)
	}, nil
}
