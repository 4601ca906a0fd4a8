package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/Sternrassler/pagedsearch/pkg/fetch"
	"github.com/Sternrassler/pagedsearch/pkg/filterkey"
	"github.com/Sternrassler/pagedsearch/pkg/metrics"
	"github.com/Sternrassler/pagedsearch/pkg/record"
	"github.com/Sternrassler/pagedsearch/pkg/search"
)

type ctxKey struct{}

type server struct {
	sessions    *registry
	waitTimeout time.Duration
}

type createRequest struct {
	Entity string `json:"entity"`
}

type searchRequest struct {
	Filters filterkey.FilterSet `json:"filters"`
}

type errorBody struct {
	Class      string `json:"class,omitempty"`
	StatusCode int    `json:"statusCode,omitempty"`
	Message    string `json:"message"`
}

type viewResponse struct {
	ID          string              `json:"id"`
	Entity      string              `json:"entity"`
	Status      search.Status       `json:"status"`
	Filters     filterkey.FilterSet `json:"filters"`
	Rows        []record.Row        `json:"rows"`
	IsLoading   bool                `json:"isLoading"`
	TotalCount  int                 `json:"totalCount"`
	CurrentPage int                 `json:"currentPage"`
	TotalPages  int                 `json:"totalPages"`
	PageSize    int                 `json:"pageSize"`
	PageWindow  []int               `json:"pageWindow"`
	Error       *errorBody          `json:"error,omitempty"`
}

func newRouter(s *server, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request served")
	}))

	r.Get("/health", healthHandler)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.createSession)

		r.Route("/{id}", func(r chi.Router) {
			r.Use(s.withSession)

			r.Get("/", s.getView)
			r.Delete("/", s.deleteSession)
			r.Post("/search", s.search)
			r.Post("/page/{n}", s.goToPage)
			r.Post("/next", s.intent((*search.Session).Next))
			r.Post("/prev", s.intent((*search.Session).Prev))
			r.Post("/refresh", s.intent((*search.Session).Refresh))
			r.Post("/clear", s.intent((*search.Session).Clear))
		})
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func (s *server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := s.sessions.get(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}

		logger := hlog.FromRequest(r).With().Str("session", session.ID()).Logger()
		ctx := logger.WithContext(context.WithValue(r.Context(), ctxKey{}, session))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFrom(r *http.Request) *search.Session {
	return r.Context().Value(ctxKey{}).(*search.Session)
}

func (s *server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}

	session, err := s.sessions.create(req.Entity)
	switch {
	case errors.Is(err, errUnknownEntity):
		writeError(w, http.StatusBadRequest, err)
		return
	case errors.Is(err, errTooManySession):
		writeError(w, http.StatusServiceUnavailable, err)
		return
	case err != nil:
		hlog.FromRequest(r).Error().Err(err).Msg("Failed to open session")
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	hlog.FromRequest(r).Info().
		Str("session", session.ID()).
		Str("entity", req.Entity).
		Msg("Session created")
	writeJSON(w, http.StatusCreated, toResponse(session, session.View()))
}

func (s *server) getView(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, sessionFrom(r))
}

func (s *server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.remove(chi.URLParam(r, "id")); err != nil && !errors.Is(err, errUnknownSession) {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}

	session := sessionFrom(r)
	if err := session.Search(r.Context(), req.Filters); err != nil {
		writeIntentError(w, err)
		return
	}
	s.respond(w, r, session)
}

func (s *server) goToPage(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid page: %w", err))
		return
	}

	session := sessionFrom(r)
	if err := session.GoToPage(r.Context(), n); err != nil {
		writeIntentError(w, err)
		return
	}
	s.respond(w, r, session)
}

func (s *server) intent(send func(*search.Session, context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := sessionFrom(r)
		if err := send(session, r.Context()); err != nil {
			writeIntentError(w, err)
			return
		}
		s.respond(w, r, session)
	}
}

// respond writes the session view; with ?wait=true it first waits for the
// page to finish loading.
func (s *server) respond(w http.ResponseWriter, r *http.Request, session *search.Session) {
	view := session.View()

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		ctx, cancel := context.WithTimeout(r.Context(), s.waitTimeout)
		defer cancel()

		v, err := session.Await(ctx, func(v search.View) bool { return !v.IsLoading })
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			writeIntentError(w, err)
			return
		}
		view = v
	}

	writeJSON(w, http.StatusOK, toResponse(session, view))
}

func toResponse(session *search.Session, v search.View) viewResponse {
	resp := viewResponse{
		ID:          session.ID(),
		Entity:      session.Entity(),
		Status:      v.Status,
		Filters:     v.Filters,
		Rows:        v.Rows,
		IsLoading:   v.IsLoading,
		TotalCount:  v.TotalCount,
		CurrentPage: v.CurrentPage,
		TotalPages:  v.TotalPages,
		PageSize:    v.PageSize,
		PageWindow:  v.PageWindow,
	}
	if resp.Rows == nil {
		resp.Rows = []record.Row{}
	}

	if v.Err != nil {
		resp.Error = &errorBody{Message: v.Err.Error()}

		var netErr *fetch.NetworkError
		if errors.As(v.Err, &netErr) {
			resp.Error.Class = string(netErr.Class)
			resp.Error.StatusCode = netErr.StatusCode
		}
	}
	return resp
}

func writeIntentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, search.ErrClosed):
		writeError(w, http.StatusGone, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusRequestTimeout, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
