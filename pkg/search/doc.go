// Package search implements a paged search session: the controller behind a
// search dialog that lists server-paginated records.
//
// A Session owns one event-loop goroutine. User intents (Search, GoToPage,
// Next, Prev, Refresh, Clear, Close) and fetch completions are processed on
// that goroutine only, so visible state is never written concurrently. Every
// state change is published as a View:
//
//	s, err := search.New(search.Config{Executor: api.Endpoint("/purchases")})
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//
//	_ = s.Search(ctx, filterkey.FilterSet{"storeId": "S1"})
//	for v := range s.Updates() {
//		render(v)
//	}
//
// Pages are served from a short-lived result cache when possible; the page
// after the current one is prefetched in the background.
package search
