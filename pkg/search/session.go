package search

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/pagedsearch/pkg/cache"
	"github.com/Sternrassler/pagedsearch/pkg/fetch"
	"github.com/Sternrassler/pagedsearch/pkg/filterkey"
	"github.com/Sternrassler/pagedsearch/pkg/logging"
	"github.com/Sternrassler/pagedsearch/pkg/pagination"
	"github.com/Sternrassler/pagedsearch/pkg/prefetch"
	"github.com/Sternrassler/pagedsearch/pkg/record"
)

// ErrClosed is returned by intents sent to a closed session.
var ErrClosed = errors.New("search session closed")

type intent struct {
	name  string
	apply func()
	done  chan struct{}
}

// Session is one open search dialog.
type Session struct {
	id       string
	cfg      Config
	cache    *cache.ResultCache
	coord    *fetch.Coordinator
	prefetch *prefetch.Scheduler
	logger   zerolog.Logger

	intents   chan intent
	updates   chan View
	quit      chan struct{}
	closeOnce sync.Once

	// published snapshot, read by View and Await
	mu      sync.RWMutex
	view    View
	changed chan struct{}

	// owned by the loop goroutine
	status  Status
	filters filterkey.FilterSet
	page    PageState
	rows    []record.Row
	err     error
	target  fetch.Target
	loading bool
}

// New opens a session and starts its event loop.
func New(cfg Config) (*Session, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	cfg = cfg.withDefaults()
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	base := logging.NewLogger("search")
	if cfg.Logger != nil {
		base = *cfg.Logger
	}
	logger := logging.ForSession(base, cfg.ID, cfg.Entity)

	rc, err := cache.New(cache.Options{
		TTL:        cfg.TTL,
		MaxEntries: cfg.MaxCacheEntries,
		Now:        cfg.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("create result cache: %w", err)
	}

	coord, err := fetch.New(fetch.Config{
		Executor:        cfg.Executor,
		Cache:           rc,
		Enricher:        cfg.Enricher,
		RequestTimeout:  cfg.RequestTimeout,
		PrefetchTimeout: cfg.PrefetchTimeout,
		Logger:          &logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create coordinator: %w", err)
	}

	s := &Session{
		id:       cfg.ID,
		cfg:      cfg,
		cache:    rc,
		coord:    coord,
		prefetch: prefetch.NewScheduler(coord, rc, cfg.PrefetchWindow, &logger),
		logger:   logger,
		intents:  make(chan intent),
		updates:  make(chan View, 1),
		quit:     make(chan struct{}),
		changed:  make(chan struct{}),
		page:     initialPageState(),
	}
	s.publish()

	SessionsActive.Inc()
	logger.Info().
		Int("page_size", cfg.PageSize).
		Dur("ttl", cfg.TTL).
		Int("prefetch_window", cfg.PrefetchWindow).
		Msg("Search session opened")

	go s.loop()
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Entity returns the configured entity name.
func (s *Session) Entity() string {
	return s.cfg.Entity
}

// Updates delivers a View after every state change. The channel keeps only
// the latest view and is closed when the session closes.
func (s *Session) Updates() <-chan View {
	return s.updates
}

// View returns the latest published view.
func (s *Session) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// Await blocks until a published view satisfies cond and returns it. It
// returns ErrClosed if the session closes first.
func (s *Session) Await(ctx context.Context, cond func(View) bool) (View, error) {
	for {
		s.mu.RLock()
		v, changed := s.view, s.changed
		s.mu.RUnlock()

		if cond(v) {
			return v, nil
		}
		if v.Status == StatusClosed {
			return v, ErrClosed
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return v, ctx.Err()
		}
	}
}

// Search starts a new search on page 1. Searching again with identical
// filters serves page 1 from cache while it is fresh, unless the last fetch
// failed; then page 1 is refetched.
func (s *Session) Search(ctx context.Context, filters filterkey.FilterSet) error {
	filters = filters.Clone()
	return s.send(ctx, "search", func() { s.search(filters) })
}

// GoToPage navigates to page n. Pages outside [1, TotalPages] are ignored.
func (s *Session) GoToPage(ctx context.Context, n int) error {
	return s.send(ctx, "goto", func() { s.goTo(n) })
}

// Next navigates to the following page, if any.
func (s *Session) Next(ctx context.Context) error {
	return s.send(ctx, "next", func() { s.goTo(s.basePage() + 1) })
}

// Prev navigates to the preceding page, if any.
func (s *Session) Prev(ctx context.Context) error {
	return s.send(ctx, "prev", func() { s.goTo(s.basePage() - 1) })
}

// Refresh drops the current page from the cache and refetches it.
func (s *Session) Refresh(ctx context.Context) error {
	return s.send(ctx, "refresh", s.refresh)
}

// Clear cancels all work, empties the cache and returns to idle.
func (s *Session) Clear(ctx context.Context) error {
	return s.send(ctx, "clear", s.clear)
}

// Close cancels all outstanding work, waits for it to stop and closes
// Updates. Calling Close more than once is a no-op.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		in := intent{name: "close", apply: s.close, done: make(chan struct{})}
		select {
		case s.intents <- in:
			<-in.done
		case <-s.quit:
		}
		<-s.quit
	})
	return nil
}

func (s *Session) send(ctx context.Context, name string, apply func()) error {
	in := intent{name: name, apply: apply, done: make(chan struct{})}

	select {
	case s.intents <- in:
	case <-s.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	// the loop always finishes an intent it has received
	<-in.done
	return nil
}

func (s *Session) loop() {
	defer close(s.quit)

	for {
		select {
		case in := <-s.intents:
			IntentsTotal.WithLabelValues(in.name).Inc()
			in.apply()
			close(in.done)
			if s.status == StatusClosed {
				return
			}

		case comp := <-s.coord.Completions():
			s.settle(comp)
		}
	}
}

func (s *Session) search(filters filterkey.FilterSet) {
	if s.status == StatusIdle || !filters.Equal(s.filters) {
		s.coord.CancelAll()
		s.cache.InvalidateAll()
		s.rows = nil
		s.page = initialPageState()
		s.logger.Info().
			Str("filters", filterkey.Fingerprint(filters)).
			Msg("New search")
	} else if s.err != nil {
		s.cache.Invalidate(filterkey.Build(filters, 1, s.cfg.PageSize))
	}

	s.filters = filters
	s.navigate(1)
}

func (s *Session) goTo(n int) {
	if s.status == StatusIdle {
		return
	}
	if !pagination.Contains(n, s.page.TotalPages) {
		s.logger.Debug().Int("page", n).Int("total_pages", s.page.TotalPages).Msg("Ignoring navigation out of range")
		return
	}
	if n == s.target.Page && s.err == nil {
		return
	}
	s.navigate(n)
}

// basePage is the page relative moves start from: the in-flight target, so
// the last navigation wins, otherwise the displayed page.
func (s *Session) basePage() int {
	if s.loading {
		return s.target.Page
	}
	return s.page.CurrentPage
}

func (s *Session) refresh() {
	if s.status == StatusIdle {
		return
	}
	s.cache.Invalidate(s.target.Key)
	s.navigate(s.target.Page)
}

func (s *Session) clear() {
	s.coord.CancelAll()
	s.cache.InvalidateAll()

	s.status = StatusIdle
	s.filters = nil
	s.rows = nil
	s.err = nil
	s.loading = false
	s.target = fetch.Target{}
	s.page = initialPageState()

	s.logger.Debug().Msg("Search cleared")
	s.publish()
}

func (s *Session) close() {
	s.coord.Close()

	s.status = StatusClosed
	s.loading = false
	s.publish()
	close(s.updates)

	SessionsActive.Dec()
	s.logger.Info().Msg("Search session closed")
}

// navigate makes page the primary target, serving it from cache when possible.
func (s *Session) navigate(page int) {
	target := fetch.NewTarget(s.filters, page, s.cfg.PageSize)
	s.target = target
	s.page.LastNavigationWasManual = true

	entry, id, err := s.coord.FetchPrimary(target)
	if err != nil {
		s.fail(err)
		return
	}
	if entry != nil {
		s.apply(target, entry)
		return
	}

	s.status = StatusSearching
	s.loading = true
	s.err = nil

	s.logger.Debug().
		Int("page", page).
		Uint64("request_id", uint64(id)).
		Msg("Fetching page")
	s.publish()
}

func (s *Session) settle(comp fetch.Completion) {
	var live filterkey.Key
	if s.loading {
		live = s.target.Key
	}

	outcome := s.coord.Settle(comp, live)
	switch outcome.Decision {
	case fetch.DecisionApply:
		s.apply(outcome.Target, outcome.Entry)
	case fetch.DecisionFailed:
		s.fail(outcome.Err)
	}
}

func (s *Session) apply(target fetch.Target, entry *cache.Entry) {
	totalPages := pagination.TotalPages(entry.TotalCount, target.PageSize)

	// the result set shrank below the requested page; cached siblings are outdated
	if target.Page > totalPages {
		s.logger.Debug().
			Int("page", target.Page).
			Int("total_pages", totalPages).
			Msg("Requested page no longer exists, moving to last page")
		s.cache.InvalidateAll()
		s.page.TotalPages = totalPages
		s.navigate(totalPages)
		return
	}

	s.rows = entry.Rows
	s.err = nil
	s.loading = false
	s.status = StatusReady
	s.page = PageState{
		CurrentPage: target.Page,
		TotalPages:  totalPages,
		TotalCount:  entry.TotalCount,
	}
	s.publish()

	// the navigation has settled here; a manual fetch still in flight would
	// show up as IsLoading
	s.prefetch.MaybeWarm(prefetch.State{
		CurrentPage: s.page.CurrentPage,
		TotalPages:  s.page.TotalPages,
		IsLoading:   s.loading,
	}, s.filters, s.cfg.PageSize)
}

// fail shows err with an empty result; page state and cache keep their last
// valid values.
func (s *Session) fail(err error) {
	s.rows = nil
	s.err = err
	s.loading = false
	s.status = StatusReady
	s.page.LastNavigationWasManual = false

	PageFailures.Inc()
	s.publish()
}

// publish snapshots loop state for readers.
func (s *Session) publish() {
	v := View{
		Status:      s.status,
		Filters:     s.filters.Clone(),
		Rows:        s.rows,
		IsLoading:   s.loading,
		TotalCount:  s.page.TotalCount,
		CurrentPage: s.page.CurrentPage,
		TotalPages:  s.page.TotalPages,
		PageSize:    s.cfg.PageSize,
		PageWindow:  pagination.Window(s.page.CurrentPage, s.page.TotalPages),
		Err:         s.err,
	}

	s.mu.Lock()
	s.view = v
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()

	// latest wins; the loop is the only sender
	select {
	case s.updates <- v:
	default:
		select {
		case <-s.updates:
		default:
		}
		s.updates <- v
	}
}
