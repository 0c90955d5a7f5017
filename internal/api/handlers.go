package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"praxis/internal/models"
	"praxis/internal/search"
)

type openViewResponse struct {
	ID string `json:"id"`
}

type weekRequest struct {
	Week string `json:"week"`
}

type dayRequest struct {
	Date string `json:"date"`
}

type preloadResponse struct {
	State string `json:"state"`
}

type nextAvailableResponse struct {
	NextAvailable *models.Slot `json:"next_available"`
}

// openView handles POST /api/views.
func (s *Server) openView(w http.ResponseWriter, _ *http.Request) {
	v := s.engine.Open()
	v.StartAutoRefresh(s.baseCtx, 0)
	s.addView(v)

	s.logger.Debug().Str("view", v.ID()).Msg("calendar view opened")
	writeJSON(w, http.StatusCreated, openViewResponse{ID: v.ID()})
}

// availability handles GET /api/views/{id}/availability.
func (s *Server) availability(w http.ResponseWriter, r *http.Request) {
	v, err := s.view(r)
	if err != nil {
		s.writeViewError(w, err)
		return
	}

	q := r.URL.Query()
	week := s.engine.CurrentWeek()
	if raw := q.Get("week"); raw != "" {
		week, err = models.ParseWeekKey(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return
		}
	}

	duration := s.engine.Config().CachedDurationMinutes
	if raw := q.Get("duration"); raw != "" {
		duration, err = strconv.Atoi(raw)
		if err != nil || duration <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody("duration must be a positive number of minutes"))
			return
		}
	}

	res, err := v.Resolve(r.Context(), week, duration, q.Get("practitioner"))
	if err != nil {
		s.writeViewError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// navigate handles POST /api/views/{id}/navigate.
func (s *Server) navigate(w http.ResponseWriter, r *http.Request) {
	v, err := s.view(r)
	if err != nil {
		s.writeViewError(w, err)
		return
	}

	var req weekRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON"))
		return
	}
	week, err := models.ParseWeekKey(req.Week)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	res, err := v.Navigate(r.Context(), week)
	if err != nil {
		s.writeViewError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// searchForward handles POST /api/views/{id}/search-forward.
func (s *Server) searchForward(w http.ResponseWriter, r *http.Request) {
	v, err := s.view(r)
	if err != nil {
		s.writeViewError(w, err)
		return
	}

	res, err := v.SearchForward(r.Context())
	if err != nil {
		s.writeViewError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// selectDay handles POST /api/views/{id}/select-day.
func (s *Server) selectDay(w http.ResponseWriter, r *http.Request) {
	v, err := s.view(r)
	if err != nil {
		s.writeViewError(w, err)
		return
	}

	var req dayRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON"))
		return
	}
	if err := v.SelectDay(req.Date); err != nil {
		s.writeViewError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v.Current())
}

// closeView handles DELETE /api/views/{id}.
func (s *Server) closeView(w http.ResponseWriter, r *http.Request) {
	v, ok := s.removeView(chi.URLParam(r, "id"))
	if !ok {
		s.writeViewError(w, errViewNotFound)
		return
	}
	v.Close()
	w.WriteHeader(http.StatusNoContent)
}

// startPreload handles POST /api/preload. The run is bound to the server
// context, not the request.
func (s *Server) startPreload(w http.ResponseWriter, _ *http.Request) {
	s.preloader.Start(s.baseCtx)
	writeJSON(w, http.StatusAccepted, preloadResponse{State: s.preloader.State().String()})
}

// paint handles POST /api/signals/paint.
func (s *Server) paint(w http.ResponseWriter, _ *http.Request) {
	if s.beacon != nil {
		s.beacon.MarkPainted()
	}
	w.WriteHeader(http.StatusNoContent)
}

// nextAvailable handles GET /api/next-available.
func (s *Server) nextAvailable(w http.ResponseWriter, _ *http.Request) {
	var resp nextAvailableResponse
	if slot, ok := s.engine.NextAvailable(); ok {
		resp.NextAvailable = &slot
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeViewError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errViewNotFound), errors.Is(err, search.ErrViewClosed):
		writeJSON(w, http.StatusNotFound, errorBody(errViewNotFound.Error()))
	case errors.Is(err, search.ErrDayOutsideWeek), errors.Is(err, models.ErrInvalidWeek):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	default:
		s.logger.Error().Err(err).Msg("availability request failed")
		writeJSON(w, http.StatusBadGateway, retryableBody("availability could not be loaded"))
	}
}
