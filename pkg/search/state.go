package search

import (
	"github.com/Sternrassler/pagedsearch/pkg/filterkey"
	"github.com/Sternrassler/pagedsearch/pkg/record"
)

// Status is the lifecycle state of a session.
type Status int

const (
	// StatusIdle: no search has been issued (or it was cleared).
	StatusIdle Status = iota

	// StatusSearching: a primary fetch is in flight.
	StatusSearching

	// StatusReady: the current page (or a failure) is displayed.
	StatusReady

	// StatusClosed: terminal.
	StatusClosed
)

// String returns the lower-case name of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusSearching:
		return "searching"
	case StatusReady:
		return "ready"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// PageState describes the page currently displayed.
type PageState struct {
	CurrentPage int
	TotalPages  int
	TotalCount  int

	// LastNavigationWasManual is true from a navigation until its fetch settles.
	LastNavigationWasManual bool
}

func initialPageState() PageState {
	return PageState{CurrentPage: 1, TotalPages: 1}
}

// View is an immutable snapshot of what the UI should render.
type View struct {
	Status      Status
	Filters     filterkey.FilterSet
	Rows        []record.Row
	IsLoading   bool
	TotalCount  int
	CurrentPage int
	TotalPages  int
	PageSize    int

	// PageWindow lists the page buttons; pagination.Ellipsis marks gaps
	PageWindow []int

	// Err is the failure of the last primary fetch, nil otherwise
	Err error
}
