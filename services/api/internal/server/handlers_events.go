package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"bookie/pkg/domain"
	"bookie/services/api/internal/app"
)

type eventRequest struct {
	Title    string `json:"title" validate:"required,max=200"`
	Date     string `json:"date" validate:"required,datetime=2006-01-02"`
	Time     string `json:"time" validate:"required,datetime=15:04"`
	Category string `json:"category" validate:"required,max=60"`
	Location string `json:"location" validate:"required,max=200"`
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request, _ domain.User) {
	events, err := s.app.ListEvents()
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req eventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ev, err := s.app.CreateEvent(user, app.EventInput{
		Title:    req.Title,
		Date:     req.Date,
		Time:     req.Time,
		Category: req.Category,
		Location: req.Location,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := chi.URLParam(r, "id")
	if err := s.app.DeleteEvent(user, id); err != nil {
		s.audit(r, "api.event.delete", "fail", "user_id", user.ID, "event_id", id, "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.event.delete", "success", "user_id", user.ID, "event_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEventSignup(w http.ResponseWriter, r *http.Request, user domain.User) {
	if err := s.app.SignupEvent(user, chi.URLParam(r, "id")); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEventUnsignup(w http.ResponseWriter, r *http.Request, user domain.User) {
	if err := s.app.UnsignupEvent(user, chi.URLParam(r, "id")); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEventUsers(w http.ResponseWriter, r *http.Request, _ domain.User) {
	users, err := s.app.EventAttendees(chi.URLParam(r, "id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (s *Server) handleUserEvents(w http.ResponseWriter, r *http.Request, _ domain.User) {
	events, err := s.app.UserEvents(chi.URLParam(r, "id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
