package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/pagedsearch/pkg/cache"
	"github.com/Sternrassler/pagedsearch/pkg/filterkey"
	"github.com/Sternrassler/pagedsearch/pkg/logging"
	"github.com/Sternrassler/pagedsearch/pkg/record"
)

const (
	// DefaultPrefetchTimeout bounds the lifetime of a speculative fetch
	DefaultPrefetchTimeout = 15 * time.Second

	completionBuffer = 16
)

// Config holds the coordinator configuration.
type Config struct {
	// Executor performs the remote list call (required)
	Executor Executor

	// Cache receives every successful, still-relevant result (required)
	Cache *cache.ResultCache

	// Enricher is applied to rows before they are cached (optional)
	Enricher Enricher

	// RequestTimeout bounds primary fetches (0 = no timeout)
	RequestTimeout time.Duration

	// PrefetchTimeout bounds prefetches (default: DefaultPrefetchTimeout)
	PrefetchTimeout time.Duration

	// Logger (default: component logger "fetch")
	Logger *zerolog.Logger
}

// Coordinator issues, tags and cancels fetches for one search session.
type Coordinator struct {
	exec     Executor
	enricher Enricher
	cache    *cache.ResultCache
	config   Config
	logger   zerolog.Logger

	mu      sync.Mutex
	pending map[RequestID]*PendingRequest
	primary RequestID
	lastID  RequestID
	closed  bool

	ctx         context.Context
	stop        context.CancelFunc
	done        chan struct{}
	completions chan Completion
	wg          sync.WaitGroup
}

// New creates a coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("result cache is required")
	}
	if cfg.PrefetchTimeout <= 0 {
		cfg.PrefetchTimeout = DefaultPrefetchTimeout
	}

	logger := logging.NewLogger("fetch")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	ctx, stop := context.WithCancel(context.Background())

	return &Coordinator{
		exec:        cfg.Executor,
		enricher:    cfg.Enricher,
		cache:       cfg.Cache,
		config:      cfg,
		logger:      logger,
		pending:     make(map[RequestID]*PendingRequest),
		ctx:         ctx,
		stop:        stop,
		done:        make(chan struct{}),
		completions: make(chan Completion, completionBuffer),
	}, nil
}

// Completions delivers the results of finished fetches. Every completion
// must be handed to Settle.
func (c *Coordinator) Completions() <-chan Completion {
	return c.completions
}

// FetchPrimary makes t the primary request. A fresh cache entry is returned
// directly without any network call; otherwise the ID of the request whose
// completion will carry the result is returned. Any previous primary request
// is cancelled in both cases.
func (c *Coordinator) FetchPrimary(t Target) (*cache.Entry, RequestID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, 0, ErrClosed
	}

	c.cancelPrimaryLocked()

	if entry, err := c.cache.Get(t.Key); err == nil {
		c.logger.Debug().
			Str("key", string(t.Key)).
			Dur("ttl", c.cache.Remaining(t.Key)).
			Msg("Serving page from cache")
		return entry, 0, nil
	}

	// prefetches for another filter set can never be displayed any more
	for _, pr := range c.pending {
		if pr.Purpose == PurposePrefetch && !pr.target.sameQuery(t) {
			c.cancelLocked(pr, "superseded")
		}
	}

	if pr := c.findLocked(t.Key); pr != nil {
		// a prefetch whose timeout already fired is about to fail; start over
		if !c.disarmLocked(pr) {
			c.cancelLocked(pr, "prefetch_expired")
			pr = c.startLocked(t, PurposePrimary, c.config.RequestTimeout)
			c.primary = pr.ID
			return nil, pr.ID, nil
		}

		// a promoted request runs under the primary timeout from now on
		c.armLocked(pr, c.config.RequestTimeout)
		pr.Purpose = PurposePrimary
		c.primary = pr.ID
		PendingRequests.WithLabelValues(PurposePrefetch.String()).Dec()
		PendingRequests.WithLabelValues(PurposePrimary.String()).Inc()
		PrefetchPromotions.Inc()

		c.logger.Debug().
			Uint64("request_id", uint64(pr.ID)).
			Str("key", string(t.Key)).
			Msg("Promoted in-flight prefetch to primary")
		return nil, pr.ID, nil
	}

	pr := c.startLocked(t, PurposePrimary, c.config.RequestTimeout)
	c.primary = pr.ID
	return nil, pr.ID, nil
}

// FetchPrefetch starts a speculative fetch for t unless t is already cached
// or in flight. It reports whether a request was started.
func (c *Coordinator) FetchPrefetch(t Target) (RequestID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.findLocked(t.Key) != nil || c.cache.Contains(t.Key) {
		return 0, false
	}

	pr := c.startLocked(t, PurposePrefetch, c.config.PrefetchTimeout)
	return pr.ID, true
}

// Settle removes the request behind comp and decides what to do with its
// result. live is the key the owner currently wants displayed.
func (c *Coordinator) Settle(comp Completion, live filterkey.Key) Outcome {
	c.mu.Lock()
	pr, ok := c.pending[comp.ID]
	if ok {
		delete(c.pending, comp.ID)
		c.disarmLocked(pr)
		if c.primary == comp.ID {
			c.primary = 0
		}
		PendingRequests.WithLabelValues(pr.Purpose.String()).Dec()
	}
	c.mu.Unlock()

	outcome := Outcome{Target: comp.Target}

	// cancelled requests were already removed and counted by cancelLocked
	if !ok {
		outcome.Decision = DecisionCancelled
		return outcome
	}

	FetchDuration.WithLabelValues(pr.Purpose.String()).Observe(comp.Duration.Seconds())
	logger := c.logger.With().
		Uint64("request_id", uint64(comp.ID)).
		Str("purpose", pr.Purpose.String()).
		Str("key", string(comp.Target.Key)).
		Logger()

	switch {
	case errors.Is(comp.Err, ErrCancelled):
		outcome.Decision = DecisionCancelled

	case pr.Purpose == PurposePrefetch && comp.Err != nil:
		outcome.Decision = DecisionPrefetchFailed
		outcome.Err = &PrefetchError{Page: comp.Target.Page, Err: comp.Err}
		logger.Warn().Err(outcome.Err).Msg("Prefetch failed")

	case pr.Purpose == PurposePrefetch:
		outcome.Decision = DecisionPrefetched
		outcome.Entry = c.cache.Put(comp.Target.Key, comp.Result.Items, comp.Result.TotalItems)
		logger.Debug().Int("rows", len(comp.Result.Items)).Msg("Prefetched page")

	case comp.Target.Key != live:
		outcome.Decision = DecisionStale
		logger.Debug().Str("live", string(live)).Msg("Discarding stale result")

	case comp.Err != nil:
		outcome.Decision = DecisionFailed
		outcome.Err = comp.Err
		logger.Error().Err(comp.Err).Msg("Primary fetch failed")

	default:
		outcome.Decision = DecisionApply
		outcome.Entry = c.cache.Put(comp.Target.Key, comp.Result.Items, comp.Result.TotalItems)
		logger.Debug().
			Int("rows", len(comp.Result.Items)).
			Int("total", comp.Result.TotalItems).
			Dur("duration", comp.Duration).
			Msg("Applied primary result")
	}

	FetchesTotal.WithLabelValues(pr.Purpose.String(), outcome.Decision.String()).Inc()
	return outcome
}

// CancelAll cancels every outstanding request, primary and prefetch.
func (c *Coordinator) CancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, pr := range c.pending {
		c.cancelLocked(pr, "cancel_all")
	}
}

// CancelPrefetches cancels every outstanding prefetch.
func (c *Coordinator) CancelPrefetches() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, pr := range c.pending {
		if pr.Purpose == PurposePrefetch {
			c.cancelLocked(pr, "cancel_prefetches")
		}
	}
}

// Close cancels all work and waits until every fetch goroutine has exited.
// Completions not yet received are dropped.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for _, pr := range c.pending {
		c.cancelLocked(pr, "close")
	}
	c.stop()
	close(c.done)
	c.mu.Unlock()

	c.wg.Wait()
}

// InFlight reports whether a request for key is pending.
func (c *Coordinator) InFlight(key filterkey.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.findLocked(key) != nil
}

// PrimaryInFlight reports whether a primary request is pending.
func (c *Coordinator) PrimaryInFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.primary != 0
}

// Pending returns a snapshot of the pending requests.
func (c *Coordinator) Pending() []PendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]PendingRequest, 0, len(c.pending))
	for _, pr := range c.pending {
		out = append(out, PendingRequest{
			ID:      pr.ID,
			Key:     pr.Key,
			Page:    pr.Page,
			Purpose: pr.Purpose,
			Started: pr.Started,
		})
	}
	return out
}

func (c *Coordinator) findLocked(key filterkey.Key) *PendingRequest {
	for _, pr := range c.pending {
		if pr.Key == key {
			return pr
		}
	}
	return nil
}

func (c *Coordinator) cancelPrimaryLocked() {
	if c.primary == 0 {
		return
	}
	if pr, ok := c.pending[c.primary]; ok {
		c.cancelLocked(pr, "superseded")
	}
	c.primary = 0
}

// cancelLocked aborts the request and forgets it; its completion will settle
// as cancelled.
func (c *Coordinator) cancelLocked(pr *PendingRequest, reason string) {
	c.disarmLocked(pr)
	pr.cancel(nil)
	delete(c.pending, pr.ID)
	if c.primary == pr.ID {
		c.primary = 0
	}

	PendingRequests.WithLabelValues(pr.Purpose.String()).Dec()
	FetchesTotal.WithLabelValues(pr.Purpose.String(), DecisionCancelled.String()).Inc()

	c.logger.Debug().
		Uint64("request_id", uint64(pr.ID)).
		Str("purpose", pr.Purpose.String()).
		Str("key", string(pr.Key)).
		Str("reason", reason).
		Msg("Cancelled request")
}

func (c *Coordinator) startLocked(t Target, purpose Purpose, timeout time.Duration) *PendingRequest {
	c.lastID++

	ctx, cancel := context.WithCancelCause(c.ctx)

	pr := &PendingRequest{
		ID:      c.lastID,
		Key:     t.Key,
		Page:    t.Page,
		Purpose: purpose,
		Started: time.Now(),
		target:  t,
		cancel:  cancel,
	}
	c.armLocked(pr, timeout)
	c.pending[pr.ID] = pr
	PendingRequests.WithLabelValues(purpose.String()).Inc()

	c.logger.Debug().
		Uint64("request_id", uint64(pr.ID)).
		Str("purpose", purpose.String()).
		Str("key", string(t.Key)).
		Msg("Starting fetch")

	c.wg.Add(1)
	go c.run(ctx, cancel, pr.ID, t)

	return pr
}

// armLocked starts the request's timeout. Expiry cancels the request with
// context.DeadlineExceeded as cause, which settles as a failure.
func (c *Coordinator) armLocked(pr *PendingRequest, timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	cancel := pr.cancel
	pr.timer = time.AfterFunc(timeout, func() {
		cancel(context.DeadlineExceeded)
	})
}

// disarmLocked stops the request's timeout. It reports false if the timeout
// has already fired.
func (c *Coordinator) disarmLocked(pr *PendingRequest) bool {
	if pr.timer == nil {
		return true
	}
	stopped := pr.timer.Stop()
	pr.timer = nil
	return stopped
}

// run executes one fetch and posts its completion.
func (c *Coordinator) run(ctx context.Context, cancel context.CancelCauseFunc, id RequestID, t Target) {
	defer c.wg.Done()

	start := time.Now()
	result, err := c.execute(ctx, t)
	comp := Completion{
		ID:       id,
		Target:   t,
		Result:   result,
		Err:      normalize(ctx, err),
		Duration: time.Since(start),
	}
	cancel(nil)

	select {
	case c.completions <- comp:
	case <-c.done:
	}
}

func (c *Coordinator) execute(ctx context.Context, t Target) (page record.Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			page = record.Page{}
			err = &NetworkError{
				Class:   ErrorClassNetwork,
				Message: "executor panicked",
				Err:     fmt.Errorf("%v", r),
			}
		}
	}()

	page, err = c.exec.Fetch(ctx, t.Filters.Clone(), t.Page, t.PageSize)
	if err != nil {
		return record.Page{}, err
	}

	if c.enricher != nil && len(page.Items) > 0 {
		rows, err := c.enricher.Enrich(ctx, page.Items)
		if err != nil {
			return record.Page{}, &NetworkError{
				Class:   ErrorClassEnrich,
				Message: "enrich rows",
				Err:     err,
			}
		}
		page.Items = rows
	}

	return page, nil
}
