// Package api serves the calendar UI: per-view availability, the preload
// trigger, the paint beacon and a Server-Sent Events notification stream.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"praxis/internal/metrics"
	"praxis/internal/preload"
	"praxis/internal/search"
)

var errViewNotFound = errors.New("calendar view not found")

// Preloader starts or joins the background preload.
type Preloader interface {
	Start(ctx context.Context) *preload.Run
	State() preload.State
}

// PaintBeacon receives the browser's first-paint signal and tracks requests in flight.
type PaintBeacon interface {
	MarkPainted()
	Middleware(next http.Handler) http.Handler
}

// Server owns the open calendar views.
type Server struct {
	engine    *search.Engine
	preloader Preloader
	beacon    PaintBeacon
	broker    *Broker
	logger    *zerolog.Logger

	// baseCtx outlives single requests; background work hangs off it.
	baseCtx context.Context

	mu    sync.RWMutex
	views map[string]*search.View
}

// NewServer wires the HTTP surface. baseCtx bounds auto-refresh loops and preload runs.
func NewServer(
	baseCtx context.Context,
	engine *search.Engine,
	preloader Preloader,
	beacon PaintBeacon,
	broker *Broker,
	logger *zerolog.Logger,
) *Server {
	return &Server{
		engine:    engine,
		preloader: preloader,
		beacon:    beacon,
		broker:    broker,
		logger:    logger,
		baseCtx:   baseCtx,
		views:     make(map[string]*search.View),
	}
}

// Router mounts every route. The event stream is kept outside the beacon
// middleware so a connected browser never counts as busy.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	if s.broker != nil {
		r.Get("/api/events", s.instrument("events", s.broker.ServeHTTP))
	}

	r.Group(func(r chi.Router) {
		if s.beacon != nil {
			r.Use(s.beacon.Middleware)
		}

		r.Post("/api/views", s.instrument("open_view", s.openView))
		r.Get("/api/views/{id}/availability", s.instrument("availability", s.availability))
		r.Post("/api/views/{id}/navigate", s.instrument("navigate", s.navigate))
		r.Post("/api/views/{id}/search-forward", s.instrument("search_forward", s.searchForward))
		r.Post("/api/views/{id}/select-day", s.instrument("select_day", s.selectDay))
		r.Delete("/api/views/{id}", s.instrument("close_view", s.closeView))

		r.Post("/api/preload", s.instrument("preload", s.startPreload))
		r.Post("/api/signals/paint", s.instrument("paint", s.paint))
		r.Get("/api/next-available", s.instrument("next_available", s.nextAvailable))
	})

	return r
}

// Close closes every open view.
func (s *Server) Close() {
	s.mu.Lock()
	views := s.views
	s.views = make(map[string]*search.View)
	s.mu.Unlock()

	for _, v := range views {
		v.Close()
	}
}

// ViewCount returns the number of open views.
func (s *Server) ViewCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.views)
}

func (s *Server) instrument(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics.IncHTTP(name)
		h(w, r)
	}
}

func (s *Server) addView(v *search.View) {
	s.mu.Lock()
	s.views[v.ID()] = v
	s.mu.Unlock()
}

func (s *Server) view(r *http.Request) (*search.View, error) {
	id := chi.URLParam(r, "id")
	s.mu.RLock()
	v, ok := s.views[id]
	s.mu.RUnlock()
	if !ok {
		return nil, errViewNotFound
	}
	return v, nil
}

func (s *Server) removeView(id string) (*search.View, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[id]
	if ok {
		delete(s.views, id)
	}
	return v, ok
}
