package fetch

import (
	"context"
	"errors"
	"fmt"
)

// Common errors returned by the coordinator and executors.
var (
	// ErrCancelled is returned when a fetch was superseded or its session closed.
	// It is an expected outcome and never shown to the user.
	ErrCancelled = errors.New("fetch cancelled")

	// ErrClosed is returned when work is submitted to a closed coordinator.
	ErrClosed = errors.New("coordinator closed")
)

// ErrorClass represents a classification of fetch failures.
type ErrorClass string

const (
	// ErrorClassNetwork represents transport failures and timeouts.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassServer represents 5xx responses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassClient represents 4xx responses.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassDecode represents unreadable response bodies.
	ErrorClassDecode ErrorClass = "decode"

	// ErrorClassEnrich represents failures joining reference data.
	ErrorClassEnrich ErrorClass = "enrich"
)

// NetworkError is a genuine failure of a fetch. On a primary fetch it is
// surfaced to the user; on a prefetch it is logged and dropped.
type NetworkError struct {
	Class      ErrorClass
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		if e.Err != nil {
			return fmt.Sprintf("%s error (status %d): %s: %v", e.Class, e.StatusCode, e.Message, e.Err)
		}
		return fmt.Sprintf("%s error (status %d): %s", e.Class, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Class, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Class, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// PrefetchError wraps a swallowed prefetch failure for logging.
type PrefetchError struct {
	Page int
	Err  error
}

func (e *PrefetchError) Error() string {
	return fmt.Sprintf("prefetch page %d: %v", e.Page, e.Err)
}

func (e *PrefetchError) Unwrap() error {
	return e.Err
}

// normalize maps an executor error onto the taxonomy. An expired request
// timer is a *NetworkError; other context errors and ErrCancelled become
// ErrCancelled; everything else a *NetworkError.
func normalize(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && errors.Is(context.Cause(ctx), context.DeadlineExceeded) {
		return &NetworkError{
			Class:   ErrorClassNetwork,
			Message: "request timed out",
			Err:     context.DeadlineExceeded,
		}
	}
	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
		return ErrCancelled
	}
	if ctx.Err() == context.Canceled {
		return ErrCancelled
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr
	}
	return &NetworkError{
		Class:   ErrorClassNetwork,
		Message: "fetch failed",
		Err:     err,
	}
}
