package fetch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/pagedsearch/internal/testutil"
	"github.com/Sternrassler/pagedsearch/pkg/cache"
	"github.com/Sternrassler/pagedsearch/pkg/filterkey"
	"github.com/Sternrassler/pagedsearch/pkg/record"
)

var (
	storeA = filterkey.FilterSet{"storeId": "S1"}
	storeB = filterkey.FilterSet{"storeId": "S2"}
)

func newTestCoordinator(t *testing.T, exec Executor, mods ...func(*Config)) (*Coordinator, *cache.ResultCache) {
	t.Helper()

	rc, err := cache.New(cache.DefaultOptions())
	require.NoError(t, err)

	nop := zerolog.Nop()
	cfg := Config{Executor: exec, Cache: rc, Logger: &nop}
	for _, mod := range mods {
		mod(&cfg)
	}

	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	return c, rc
}

func awaitCompletion(t *testing.T, c *Coordinator) Completion {
	t.Helper()

	select {
	case comp := <-c.Completions():
		return comp
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
		return Completion{}
	}
}

func pageOf(ids ...string) record.Page {
	items := make([]record.Row, 0, len(ids))
	for _, id := range ids {
		items = append(items, record.Row{"id": id})
	}
	return record.Page{Items: items, TotalItems: 12}
}

func TestNew_Validation(t *testing.T) {
	rc, err := cache.New(cache.DefaultOptions())
	require.NoError(t, err)

	_, err = New(Config{Cache: rc})
	assert.Error(t, err, "missing executor")

	_, err = New(Config{Executor: testutil.NewStubExecutor()})
	assert.Error(t, err, "missing cache")
}

func TestFetchPrimary_CacheHitSkipsNetwork(t *testing.T) {
	exec := testutil.NewStubExecutor()
	c, rc := newTestCoordinator(t, exec)

	target := NewTarget(storeA, 1, 5)
	rc.Put(target.Key, pageOf("a", "b").Items, 12)

	entry, id, err := c.FetchPrimary(target)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, RequestID(0), id)
	assert.Len(t, entry.Rows, 2)
	assert.Equal(t, 12, entry.TotalCount)

	exec.ExpectNoCall(t, 50*time.Millisecond)
	assert.False(t, c.PrimaryInFlight())
}

func TestSettle_AppliesAndCaches(t *testing.T) {
	exec := testutil.NewStubExecutor()
	c, rc := newTestCoordinator(t, exec)

	target := NewTarget(storeA, 1, 5)
	entry, id, err := c.FetchPrimary(target)
	require.NoError(t, err)
	require.Nil(t, entry)
	require.NotZero(t, id)
	assert.True(t, c.PrimaryInFlight())

	call := exec.Next(t)
	assert.Equal(t, 1, call.Page)
	assert.Equal(t, 5, call.PageSize)
	assert.Equal(t, "S1", call.Filters["storeId"])
	call.Respond(pageOf("a", "b", "c", "d", "e"))

	comp := awaitCompletion(t, c)
	assert.Equal(t, id, comp.ID)

	outcome := c.Settle(comp, target.Key)
	assert.Equal(t, DecisionApply, outcome.Decision)
	require.NotNil(t, outcome.Entry)
	assert.Len(t, outcome.Entry.Rows, 5)
	assert.True(t, rc.Contains(target.Key))
	assert.False(t, c.PrimaryInFlight())
	assert.Empty(t, c.Pending())

	// second navigation to the same page is served from cache
	entry, _, err = c.FetchPrimary(target)
	require.NoError(t, err)
	require.NotNil(t, entry)
	exec.ExpectNoCall(t, 50*time.Millisecond)
	assert.Equal(t, 1, exec.CallCount())
}

func TestSettle_StaleResultDiscarded(t *testing.T) {
	exec := testutil.NewStubExecutor()
	c, rc := newTestCoordinator(t, exec)

	target := NewTarget(storeA, 1, 5)
	_, _, err := c.FetchPrimary(target)
	require.NoError(t, err)

	exec.Next(t).Respond(pageOf("a"))
	comp := awaitCompletion(t, c)

	live := filterkey.Build(storeB, 1, 5)
	outcome := c.Settle(comp, live)
	assert.Equal(t, DecisionStale, outcome.Decision)
	assert.Nil(t, outcome.Entry)
	assert.False(t, rc.Contains(target.Key))
}

func TestSettle_StaleFailureIsNotSurfaced(t *testing.T) {
	exec := testutil.NewStubExecutor()
	c, _ := newTestCoordinator(t, exec)

	target := NewTarget(storeA, 1, 5)
	_, _, err := c.FetchPrimary(target)
	require.NoError(t, err)

	exec.Next(t).Fail(&NetworkError{Class: ErrorClassServer, StatusCode: 500, Message: "boom"})
	outcome := c.Settle(awaitCompletion(t, c), filterkey.Build(storeB, 1, 5))

	assert.Equal(t, DecisionStale, outcome.Decision)
	assert.NoError(t, outcome.Err)
}

func TestFetchPrimary_SupersedesPreviousPrimary(t *testing.T) {
	exec := testutil.NewStubExecutor()
	c, rc := newTestCoordinator(t, exec)

	first := NewTarget(storeA, 1, 5)
	second := NewTarget(storeA, 2, 5)

	_, firstID, err := c.FetchPrimary(first)
	require.NoError(t, err)
	firstCall := exec.Next(t)

	_, secondID, err := c.FetchPrimary(second)
	require.NoError(t, err)
	assert.Greater(t, uint64(secondID), uint64(firstID))
	assert.True(t, firstCall.Cancelled())
	assert.False(t, c.InFlight(first.Key))

	secondCall := exec.Next(t)
	secondCall.Respond(pageOf("f", "g"))

	// completions may arrive in any order
	for i := 0; i < 2; i++ {
		comp := awaitCompletion(t, c)
		outcome := c.Settle(comp, second.Key)
		switch comp.ID {
		case firstID:
			assert.Equal(t, DecisionCancelled, outcome.Decision)
		case secondID:
			assert.Equal(t, DecisionApply, outcome.Decision)
		default:
			t.Fatalf("unexpected completion %d", comp.ID)
		}
	}

	assert.False(t, rc.Contains(first.Key), "cancelled result must not be cached")
	assert.True(t, rc.Contains(second.Key))
}

func TestSettle_LateSuccessAfterCancelIsDropped(t *testing.T) {
	release := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, _ filterkey.FilterSet, _, _ int) (record.Page, error) {
		// ignores cancellation until released
		<-release
		return pageOf("late"), nil
	})
	c, rc := newTestCoordinator(t, exec)

	target := NewTarget(storeA, 1, 5)
	_, _, err := c.FetchPrimary(target)
	require.NoError(t, err)

	c.CancelAll()
	close(release)

	outcome := c.Settle(awaitCompletion(t, c), target.Key)
	assert.Equal(t, DecisionCancelled, outcome.Decision)
	assert.False(t, rc.Contains(target.Key))
}

func TestSettle_PrimaryFailure(t *testing.T) {
	exec := testutil.NewStubExecutor()
	c, rc := newTestCoordinator(t, exec)

	target := NewTarget(storeA, 1, 5)
	_, _, err := c.FetchPrimary(target)
	require.NoError(t, err)

	exec.Next(t).Fail(errors.New("connection reset"))
	outcome := c.Settle(awaitCompletion(t, c), target.Key)

	assert.Equal(t, DecisionFailed, outcome.Decision)
	var netErr *NetworkError
	require.ErrorAs(t, outcome.Err, &netErr)
	assert.Equal(t, ErrorClassNetwork, netErr.Class)
	assert.False(t, rc.Contains(target.Key))
}

func TestFetchPrefetch_SkipsCachedAndInFlight(t *testing.T) {
	exec := testutil.NewStubExecutor()
	c, rc := newTestCoordinator(t, exec)

	cached := NewTarget(storeA, 2, 5)
	rc.Put(cached.Key, pageOf("x").Items, 12)

	_, started := c.FetchPrefetch(cached)
	assert.False(t, started, "cached page must not be prefetched")

	target := NewTarget(storeA, 3, 5)
	id, started := c.FetchPrefetch(target)
	require.True(t, started)
	require.NotZero(t, id)

	_, started = c.FetchPrefetch(target)
	assert.False(t, started, "in-flight page must not be fetched twice")

	exec.Next(t)
	exec.ExpectNoCall(t, 50*time.Millisecond)
}

func TestFetchPrimary_PromotesInFlightPrefetch(t *testing.T) {
	exec := testutil.NewStubExecutor()
	c, rc := newTestCoordinator(t, exec)

	target := NewTarget(storeA, 2, 5)
	prefetchID, started := c.FetchPrefetch(target)
	require.True(t, started)
	call := exec.Next(t)

	entry, id, err := c.FetchPrimary(target)
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.Equal(t, prefetchID, id)
	assert.False(t, call.Cancelled())
	assert.True(t, c.PrimaryInFlight())

	pending := c.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, PurposePrimary, pending[0].Purpose)

	call.Respond(pageOf("f", "g", "h", "i", "j"))
	outcome := c.Settle(awaitCompletion(t, c), target.Key)

	assert.Equal(t, DecisionApply, outcome.Decision)
	assert.True(t, rc.Contains(target.Key))
	assert.Equal(t, 1, exec.CallsForPage(2))
}

func TestFetchPrimary_PromotionDropsPrefetchTimeout(t *testing.T) {
	exec := testutil.NewStubExecutor()
	c, _ := newTestCoordinator(t, exec, func(cfg *Config) { cfg.PrefetchTimeout = 30 * time.Millisecond })

	target := NewTarget(storeA, 2, 5)
	_, started := c.FetchPrefetch(target)
	require.True(t, started)
	call := exec.Next(t)

	_, _, err := c.FetchPrimary(target)
	require.NoError(t, err)

	time.Sleep(120 * time.Millisecond)
	assert.False(t, call.Cancelled(), "promoted request must outlive the prefetch timeout")

	call.Respond(pageOf("f", "g"))
	outcome := c.Settle(awaitCompletion(t, c), target.Key)
	assert.Equal(t, DecisionApply, outcome.Decision)
}

func TestFetchPrimary_PromotionAppliesRequestTimeout(t *testing.T) {
	exec := testutil.NewStubExecutor()
	c, _ := newTestCoordinator(t, exec, func(cfg *Config) {
		cfg.PrefetchTimeout = 10 * time.Second
		cfg.RequestTimeout = 30 * time.Millisecond
	})

	target := NewTarget(storeA, 2, 5)
	_, started := c.FetchPrefetch(target)
	require.True(t, started)
	exec.Next(t)

	_, _, err := c.FetchPrimary(target)
	require.NoError(t, err)

	outcome := c.Settle(awaitCompletion(t, c), target.Key)
	assert.Equal(t, DecisionFailed, outcome.Decision)
	assert.ErrorIs(t, outcome.Err, context.DeadlineExceeded)
}

func TestFetchPrimary_ExpiredPrefetchIsRefetched(t *testing.T) {
	exec := testutil.NewStubExecutor()
	c, _ := newTestCoordinator(t, exec, func(cfg *Config) { cfg.PrefetchTimeout = 10 * time.Millisecond })

	target := NewTarget(storeA, 2, 5)
	prefetchID, started := c.FetchPrefetch(target)
	require.True(t, started)
	prefetchCall := exec.Next(t)

	select {
	case <-prefetchCall.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("prefetch timeout did not fire")
	}

	// the expired prefetch has not settled yet; it must not be adopted
	_, id, err := c.FetchPrimary(target)
	require.NoError(t, err)
	assert.NotEqual(t, prefetchID, id)

	call := exec.Next(t)
	call.Respond(pageOf("f", "g"))

	for {
		comp := awaitCompletion(t, c)
		outcome := c.Settle(comp, target.Key)
		if comp.ID == id {
			assert.Equal(t, DecisionApply, outcome.Decision)
			return
		}
		assert.Equal(t, DecisionCancelled, outcome.Decision)
	}
}

func TestSettle_PrefetchDoesNotTouchPrimary(t *testing.T) {
	exec := testutil.NewStubExecutor()
	c, rc := newTestCoordinator(t, exec)

	primary := NewTarget(storeA, 1, 5)
	next := NewTarget(storeA, 2, 5)

	_, _, err := c.FetchPrimary(primary)
	require.NoError(t, err)
	primaryCall := exec.Next(t)

	_, started := c.FetchPrefetch(next)
	require.True(t, started)
	exec.Next(t).Respond(pageOf("f"))

	outcome := c.Settle(awaitCompletion(t, c), primary.Key)
	assert.Equal(t, DecisionPrefetched, outcome.Decision)
	assert.True(t, rc.Contains(next.Key))
	assert.True(t, c.PrimaryInFlight())
	assert.False(t, primaryCall.Cancelled())

	primaryCall.Respond(pageOf("a"))
	outcome = c.Settle(awaitCompletion(t, c), primary.Key)
	assert.Equal(t, DecisionApply, outcome.Decision)
}

func TestSettle_PrefetchFailureIsSwallowed(t *testing.T) {
	exec := testutil.NewStubExecutor()
	c, rc := newTestCoordinator(t, exec)

	target := NewTarget(storeA, 2, 5)
	_, started := c.FetchPrefetch(target)
	require.True(t, started)

	exec.Next(t).Fail(&NetworkError{Class: ErrorClassServer, StatusCode: 503, Message: "unavailable"})
	outcome := c.Settle(awaitCompletion(t, c), filterkey.Build(storeA, 1, 5))

	assert.Equal(t, DecisionPrefetchFailed, outcome.Decision)
	var prefetchErr *PrefetchError
	require.ErrorAs(t, outcome.Err, &prefetchErr)
	assert.Equal(t, 2, prefetchErr.Page)
	assert.False(t, rc.Contains(target.Key))
}

func TestFetchPrimary_CancelsPrefetchesForOtherFilters(t *testing.T) {
	exec := testutil.NewStubExecutor()
	c, _ := newTestCoordinator(t, exec)

	oldNext := NewTarget(storeA, 2, 5)
	sameQuery := NewTarget(storeA, 3, 5)

	_, started := c.FetchPrefetch(oldNext)
	require.True(t, started)
	oldCall := exec.Next(t)

	// navigation within the same filter set keeps sibling prefetches
	_, _, err := c.FetchPrimary(sameQuery)
	require.NoError(t, err)
	exec.Next(t)
	assert.False(t, oldCall.Cancelled())
	assert.True(t, c.InFlight(oldNext.Key))

	// a new filter set cancels them
	_, _, err = c.FetchPrimary(NewTarget(storeB, 1, 5))
	require.NoError(t, err)
	exec.Next(t)
	assert.True(t, oldCall.Cancelled())
	assert.False(t, c.InFlight(oldNext.Key))
}

func TestFetchPrimary_CancelsPrefetchesForOtherPageSize(t *testing.T) {
	exec := testutil.NewStubExecutor()
	c, _ := newTestCoordinator(t, exec)

	_, started := c.FetchPrefetch(NewTarget(storeA, 2, 5))
	require.True(t, started)
	call := exec.Next(t)

	_, _, err := c.FetchPrimary(NewTarget(storeA, 1, 10))
	require.NoError(t, err)
	assert.True(t, call.Cancelled())
}

func TestCancelPrefetches_KeepsPrimary(t *testing.T) {
	exec := testutil.NewStubExecutor()
	c, _ := newTestCoordinator(t, exec)

	_, _, err := c.FetchPrimary(NewTarget(storeA, 1, 5))
	require.NoError(t, err)
	primaryCall := exec.Next(t)

	_, started := c.FetchPrefetch(NewTarget(storeA, 2, 5))
	require.True(t, started)
	prefetchCall := exec.Next(t)

	c.CancelPrefetches()

	assert.True(t, prefetchCall.Cancelled())
	assert.False(t, primaryCall.Cancelled())
	assert.Len(t, c.Pending(), 1)
}

func TestExecute_RecoversPanics(t *testing.T) {
	exec := ExecutorFunc(func(context.Context, filterkey.FilterSet, int, int) (record.Page, error) {
		panic("nil map write")
	})
	c, _ := newTestCoordinator(t, exec)

	target := NewTarget(storeA, 1, 5)
	_, _, err := c.FetchPrimary(target)
	require.NoError(t, err)

	outcome := c.Settle(awaitCompletion(t, c), target.Key)
	assert.Equal(t, DecisionFailed, outcome.Decision)

	var netErr *NetworkError
	require.ErrorAs(t, outcome.Err, &netErr)
	assert.Contains(t, netErr.Error(), "nil map write")
}

type enricherFunc func(ctx context.Context, rows []record.Row) ([]record.Row, error)

func (f enricherFunc) Enrich(ctx context.Context, rows []record.Row) ([]record.Row, error) {
	return f(ctx, rows)
}

func TestExecute_AppliesEnricher(t *testing.T) {
	exec := testutil.NewStubExecutor()
	enricher := enricherFunc(func(_ context.Context, rows []record.Row) ([]record.Row, error) {
		out := make([]record.Row, len(rows))
		for i, r := range rows {
			out[i] = r.Clone()
			out[i]["storeName"] = "Main Street"
		}
		return out, nil
	})
	c, _ := newTestCoordinator(t, exec, func(cfg *Config) { cfg.Enricher = enricher })

	target := NewTarget(storeA, 1, 5)
	_, _, err := c.FetchPrimary(target)
	require.NoError(t, err)
	exec.Next(t).Respond(pageOf("a"))

	outcome := c.Settle(awaitCompletion(t, c), target.Key)
	require.Equal(t, DecisionApply, outcome.Decision)
	assert.Equal(t, "Main Street", outcome.Entry.Rows[0]["storeName"])
}

func TestExecute_EnrichFailure(t *testing.T) {
	exec := testutil.NewStubExecutor()
	enricher := enricherFunc(func(context.Context, []record.Row) ([]record.Row, error) {
		return nil, errors.New("reference lookup failed")
	})
	c, rc := newTestCoordinator(t, exec, func(cfg *Config) { cfg.Enricher = enricher })

	target := NewTarget(storeA, 1, 5)
	_, _, err := c.FetchPrimary(target)
	require.NoError(t, err)
	exec.Next(t).Respond(pageOf("a"))

	outcome := c.Settle(awaitCompletion(t, c), target.Key)
	require.Equal(t, DecisionFailed, outcome.Decision)

	var netErr *NetworkError
	require.ErrorAs(t, outcome.Err, &netErr)
	assert.Equal(t, ErrorClassEnrich, netErr.Class)
	assert.False(t, rc.Contains(target.Key))
}

func TestPrefetchTimeout(t *testing.T) {
	exec := testutil.NewStubExecutor()
	c, _ := newTestCoordinator(t, exec, func(cfg *Config) { cfg.PrefetchTimeout = 20 * time.Millisecond })

	target := NewTarget(storeA, 2, 5)
	_, started := c.FetchPrefetch(target)
	require.True(t, started)
	exec.Next(t)

	outcome := c.Settle(awaitCompletion(t, c), filterkey.Build(storeA, 1, 5))
	assert.Equal(t, DecisionPrefetchFailed, outcome.Decision)
	assert.ErrorIs(t, outcome.Err, context.DeadlineExceeded)
}

func TestClose_StopsAllFetches(t *testing.T) {
	var running atomic.Int32
	exec := ExecutorFunc(func(ctx context.Context, _ filterkey.FilterSet, _, _ int) (record.Page, error) {
		running.Add(1)
		defer running.Add(-1)
		<-ctx.Done()
		return record.Page{}, ctx.Err()
	})

	rc, err := cache.New(cache.DefaultOptions())
	require.NoError(t, err)
	nop := zerolog.Nop()
	c, err := New(Config{Executor: exec, Cache: rc, Logger: &nop})
	require.NoError(t, err)

	_, _, err = c.FetchPrimary(NewTarget(storeA, 1, 5))
	require.NoError(t, err)
	for page := 2; page <= 4; page++ {
		_, started := c.FetchPrefetch(NewTarget(storeA, page, 5))
		require.True(t, started)
	}
	require.Eventually(t, func() bool { return running.Load() == 4 }, time.Second, 5*time.Millisecond)

	closed := make(chan struct{})
	go func() {
		c.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}

	assert.Equal(t, int32(0), running.Load())
	assert.Empty(t, c.Pending())

	_, _, err = c.FetchPrimary(NewTarget(storeA, 1, 5))
	assert.ErrorIs(t, err, ErrClosed)

	_, started := c.FetchPrefetch(NewTarget(storeA, 5, 5))
	assert.False(t, started)

	// idempotent
	c.Close()
}
