package main

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/pagedsearch/pkg/search"
)

var (
	errUnknownSession = errors.New("unknown session")
	errUnknownEntity  = errors.New("unknown entity")
	errTooManySession = errors.New("too many open sessions")
)

// sessionFactory opens a session listing entity.
type sessionFactory func(entity string) (*search.Session, error)

type sessionEntry struct {
	session  *search.Session
	lastUsed time.Time
}

// registry holds the open sessions of all browser clients.
type registry struct {
	factory sessionFactory
	idle    time.Duration
	max     int
	now     func() time.Time
	logger  zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionEntry
	opening  int // slots reserved by create calls still running the factory
}

func newRegistry(factory sessionFactory, idle time.Duration, maxSessions int, logger zerolog.Logger) *registry {
	return &registry{
		factory:  factory,
		idle:     idle,
		max:      maxSessions,
		now:      time.Now,
		logger:   logger,
		sessions: make(map[string]*sessionEntry),
	}
}

func (r *registry) create(entity string) (*search.Session, error) {
	r.mu.Lock()
	if r.max > 0 && len(r.sessions)+r.opening >= r.max {
		r.mu.Unlock()
		return nil, errTooManySession
	}
	r.opening++
	r.mu.Unlock()

	s, err := r.factory(entity)

	r.mu.Lock()
	r.opening--
	if err == nil {
		r.sessions[s.ID()] = &sessionEntry{session: s, lastUsed: r.now()}
	}
	r.mu.Unlock()

	if err != nil {
		return nil, err
	}

	return s, nil
}

// get returns the session and marks it used.
func (r *registry) get(id string) (*search.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownSession, id)
	}
	e.lastUsed = r.now()
	return e.session, nil
}

func (r *registry) remove(id string) error {
	r.mu.Lock()
	e, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", errUnknownSession, id)
	}
	return e.session.Close()
}

func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// reap closes sessions idle for longer than the idle timeout.
func (r *registry) reap() int {
	if r.idle <= 0 {
		return 0
	}

	cutoff := r.now().Add(-r.idle)

	r.mu.Lock()
	var expired []*search.Session
	for id, e := range r.sessions {
		if e.lastUsed.Before(cutoff) {
			expired = append(expired, e.session)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		s.Close()
		r.logger.Info().Str("session", s.ID()).Msg("Closed idle session")
	}
	return len(expired)
}

// runReaper reaps idle sessions until stop is closed.
func (r *registry) runReaper(stop <-chan struct{}) {
	if r.idle <= 0 {
		return
	}

	ticker := time.NewTicker(r.idle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.reap()
		case <-stop:
			return
		}
	}
}

// closeAll closes every session.
func (r *registry) closeAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*sessionEntry)
	r.mu.Unlock()

	for _, e := range sessions {
		e.session.Close()
	}
}
