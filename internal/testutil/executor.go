package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/pagedsearch/pkg/filterkey"
	"github.com/Sternrassler/pagedsearch/pkg/record"
)

// Call is one captured executor invocation. Unless the executor answers
// automatically, the call blocks until Respond or Fail is called or its
// context is cancelled.
type Call struct {
	Filters  filterkey.FilterSet
	Page     int
	PageSize int

	ctx   context.Context
	reply chan callReply
}

type callReply struct {
	page record.Page
	err  error
}

// Respond resolves the call with page.
func (c *Call) Respond(page record.Page) {
	select {
	case c.reply <- callReply{page: page}:
	default:
	}
}

// Fail rejects the call with err.
func (c *Call) Fail(err error) {
	select {
	case c.reply <- callReply{err: err}:
	default:
	}
}

// Cancelled reports whether the caller cancelled the call.
func (c *Call) Cancelled() bool {
	return c.ctx.Err() != nil
}

// Done is closed when the caller cancels the call.
func (c *Call) Done() <-chan struct{} {
	return c.ctx.Done()
}

// StubExecutor is a controllable fetch executor.
type StubExecutor struct {
	// Auto, when set, answers every call immediately.
	Auto func(filters filterkey.FilterSet, page, pageSize int) (record.Page, error)

	mu    sync.Mutex
	calls []*Call
	queue chan *Call
}

// NewStubExecutor creates an executor whose calls block until answered.
func NewStubExecutor() *StubExecutor {
	return &StubExecutor{queue: make(chan *Call, 256)}
}

// NewDatasetExecutor creates an executor that answers immediately from rows.
func NewDatasetExecutor(rows []record.Row) *StubExecutor {
	s := NewStubExecutor()
	s.Auto = func(_ filterkey.FilterSet, page, pageSize int) (record.Page, error) {
		return PageOf(rows, page, pageSize), nil
	}
	return s
}

// Fetch implements the executor contract.
func (s *StubExecutor) Fetch(ctx context.Context, filters filterkey.FilterSet, page, pageSize int) (record.Page, error) {
	call := &Call{
		Filters:  filters,
		Page:     page,
		PageSize: pageSize,
		ctx:      ctx,
		reply:    make(chan callReply, 1),
	}

	s.mu.Lock()
	s.calls = append(s.calls, call)
	auto := s.Auto
	s.mu.Unlock()

	select {
	case s.queue <- call:
	default:
	}

	if auto != nil {
		return auto(filters, page, pageSize)
	}

	select {
	case r := <-call.reply:
		return r.page, r.err
	case <-ctx.Done():
		return record.Page{}, ctx.Err()
	}
}

// Next waits for the next call to arrive.
func (s *StubExecutor) Next(t testing.TB) *Call {
	t.Helper()

	select {
	case call := <-s.queue:
		return call
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for executor call (calls so far: %d)", s.CallCount())
		return nil
	}
}

// ExpectNoCall fails the test if a call arrives within d.
func (s *StubExecutor) ExpectNoCall(t testing.TB, d time.Duration) {
	t.Helper()

	select {
	case call := <-s.queue:
		t.Fatalf("unexpected executor call for page %d", call.Page)
	case <-time.After(d):
	}
}

// CallCount returns the number of calls received.
func (s *StubExecutor) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// CallsForPage returns how many calls asked for page.
func (s *StubExecutor) CallsForPage(page int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, c := range s.calls {
		if c.Page == page {
			n++
		}
	}
	return n
}
