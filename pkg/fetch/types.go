package fetch

import (
	"context"
	"time"

	"github.com/Sternrassler/pagedsearch/pkg/cache"
	"github.com/Sternrassler/pagedsearch/pkg/filterkey"
	"github.com/Sternrassler/pagedsearch/pkg/record"
)

// Executor performs the remote list call. Implementations must return
// promptly with ctx.Err() (or ErrCancelled) once ctx is cancelled and a
// *NetworkError for genuine failures.
type Executor interface {
	Fetch(ctx context.Context, filters filterkey.FilterSet, page, pageSize int) (record.Page, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, filters filterkey.FilterSet, page, pageSize int) (record.Page, error)

// Fetch calls f.
func (f ExecutorFunc) Fetch(ctx context.Context, filters filterkey.FilterSet, page, pageSize int) (record.Page, error) {
	return f(ctx, filters, page, pageSize)
}

// Enricher joins fetched rows against reference data before they are cached.
type Enricher interface {
	Enrich(ctx context.Context, rows []record.Row) ([]record.Row, error)
}

// Target is the query a fetch answers.
type Target struct {
	Filters  filterkey.FilterSet
	Page     int
	PageSize int
	Key      filterkey.Key

	fingerprint string
}

// NewTarget builds a target and its cache key.
func NewTarget(filters filterkey.FilterSet, page, pageSize int) Target {
	filters = filters.Clone()
	return Target{
		Filters:     filters,
		Page:        page,
		PageSize:    pageSize,
		Key:         filterkey.Build(filters, page, pageSize),
		fingerprint: filterkey.Fingerprint(filters),
	}
}

// sameQuery reports whether both targets share filters and page size.
func (t Target) sameQuery(other Target) bool {
	return t.fingerprint == other.fingerprint && t.PageSize == other.PageSize
}

// Purpose tells primary fetches from speculative ones.
type Purpose int

const (
	// PurposePrimary results are meant for visible state.
	PurposePrimary Purpose = iota + 1

	// PurposePrefetch results only warm the cache.
	PurposePrefetch
)

// String returns the metric/log label of the purpose.
func (p Purpose) String() string {
	switch p {
	case PurposePrimary:
		return "primary"
	case PurposePrefetch:
		return "prefetch"
	default:
		return "unknown"
	}
}

// RequestID identifies a pending request. IDs increase monotonically; 0 is never used.
type RequestID uint64

// PendingRequest is an in-flight fetch.
type PendingRequest struct {
	ID      RequestID
	Key     filterkey.Key
	Page    int
	Purpose Purpose
	Started time.Time

	target Target
	cancel context.CancelCauseFunc
	timer  *time.Timer // nil when the request has no timeout
}

// Completion is posted by a fetch goroutine when its executor returns.
type Completion struct {
	ID       RequestID
	Target   Target
	Result   record.Page
	Err      error
	Duration time.Duration
}

// Decision is what Settle concluded about a completion.
type Decision int

const (
	// DecisionApply: primary result stored in cache and must be displayed.
	DecisionApply Decision = iota + 1

	// DecisionStale: primary result no longer matches the live target; dropped.
	DecisionStale

	// DecisionCancelled: request was cancelled; dropped silently.
	DecisionCancelled

	// DecisionFailed: primary request failed; Err must be shown.
	DecisionFailed

	// DecisionPrefetched: prefetch result stored in cache.
	DecisionPrefetched

	// DecisionPrefetchFailed: prefetch failed; logged only.
	DecisionPrefetchFailed
)

var decisionNames = map[Decision]string{
	DecisionApply:          "applied",
	DecisionStale:          "stale",
	DecisionCancelled:      "cancelled",
	DecisionFailed:         "failed",
	DecisionPrefetched:     "prefetched",
	DecisionPrefetchFailed: "prefetch_failed",
}

// String returns the metric/log label of the decision.
func (d Decision) String() string {
	if name, ok := decisionNames[d]; ok {
		return name
	}
	return "unknown"
}

// Outcome is the result of Settle.
type Outcome struct {
	Decision Decision
	Target   Target

	// Entry is set for DecisionApply and DecisionPrefetched
	Entry *cache.Entry

	// Err is set for DecisionFailed and DecisionPrefetchFailed
	Err error
}
