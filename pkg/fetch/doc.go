// Package fetch coordinates the network fetches of a paged search.
//
// The Coordinator is the only component that starts or cancels fetches and
// the single choke point deciding whether a resolved fetch may touch visible
// state:
//
//   - At most one primary request is pending; starting one cancels the previous
//   - A primary result is applied only if its key still equals the live target
//   - Prefetch results are written to the result cache and nowhere else
//   - Cancellation is silent: no error surfaces and nothing is cached
//
// Fetches run in their own goroutines and report back on Completions(). The
// owner (normally a search.Session event loop) hands each completion to
// Settle together with the key it currently wants displayed:
//
//	coord, err := fetch.New(fetch.Config{Executor: exec, Cache: results})
//	entry, id, err := coord.FetchPrimary(fetch.NewTarget(filters, 1, 20))
//	if entry != nil {
//		// served from cache, no network call
//	}
//	for comp := range coord.Completions() {
//		outcome := coord.Settle(comp, liveKey)
//		if outcome.Decision == fetch.DecisionApply {
//			// display outcome.Entry
//		}
//	}
//
// A prefetch that is still in flight when the user navigates to its page is
// promoted to primary instead of being fetched a second time.
package fetch
