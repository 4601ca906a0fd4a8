// Package prefetch warms the result cache with the pages a user is likely to
// open next.
package prefetch

import (
	"github.com/rs/zerolog"

	"github.com/Sternrassler/pagedsearch/pkg/fetch"
	"github.com/Sternrassler/pagedsearch/pkg/filterkey"
	"github.com/Sternrassler/pagedsearch/pkg/logging"
)

// DefaultWindow is the number of pages warmed ahead of the current page.
const DefaultWindow = 1

// Fetcher starts speculative fetches.
type Fetcher interface {
	FetchPrefetch(t fetch.Target) (fetch.RequestID, bool)
}

// Cache reports whether a servable page is stored.
type Cache interface {
	Contains(key filterkey.Key) bool
}

// State is the slice of page state the scheduler decides on.
type State struct {
	CurrentPage    int
	TotalPages     int
	IsLoading      bool
	ManualInFlight bool
}

// Scheduler decides whether and which pages to prefetch.
type Scheduler struct {
	fetcher Fetcher
	cache   Cache
	window  int
	logger  zerolog.Logger
}

// NewScheduler creates a scheduler warming window pages ahead. A window of 0
// disables prefetching; negative values select DefaultWindow.
func NewScheduler(fetcher Fetcher, cache Cache, window int, logger *zerolog.Logger) *Scheduler {
	if window < 0 {
		window = DefaultWindow
	}

	l := logging.NewLogger("prefetch")
	if logger != nil {
		l = *logger
	}

	return &Scheduler{
		fetcher: fetcher,
		cache:   cache,
		window:  window,
		logger:  l,
	}
}

// Window returns the configured number of pages warmed ahead.
func (s *Scheduler) Window() int {
	return s.window
}

// Eligible reports whether the page after the current one should be warmed.
func (s *Scheduler) Eligible(state State, filters filterkey.FilterSet, pageSize int) bool {
	if s.window == 0 || state.IsLoading || state.ManualInFlight {
		return false
	}
	if state.CurrentPage >= state.TotalPages {
		return false
	}
	return !s.cache.Contains(filterkey.Build(filters, state.CurrentPage+1, pageSize))
}

// MaybeWarm starts prefetches for the pages following the current one when
// eligible and returns the IDs of the requests it started. Pages already
// cached or in flight are skipped.
func (s *Scheduler) MaybeWarm(state State, filters filterkey.FilterSet, pageSize int) []fetch.RequestID {
	if !s.Eligible(state, filters, pageSize) {
		s.logger.Debug().
			Int("page", state.CurrentPage).
			Int("total_pages", state.TotalPages).
			Bool("loading", state.IsLoading).
			Bool("manual", state.ManualInFlight).
			Msg("Prefetch not eligible")
		return nil
	}

	last := min(state.CurrentPage+s.window, state.TotalPages)

	var started []fetch.RequestID
	for page := state.CurrentPage + 1; page <= last; page++ {
		target := fetch.NewTarget(filters, page, pageSize)
		if s.cache.Contains(target.Key) {
			continue
		}
		id, ok := s.fetcher.FetchPrefetch(target)
		if !ok {
			continue
		}
		started = append(started, id)

		s.logger.Debug().
			Int("page", page).
			Str("key", string(target.Key)).
			Uint64("request_id", uint64(id)).
			Msg("Prefetch scheduled")
	}

	return started
}
