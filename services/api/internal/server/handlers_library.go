package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"bookie/pkg/domain"
	"bookie/services/api/internal/app"
)

type libraryRequest struct {
	ISBN      string   `json:"isbn" validate:"required,max=32"`
	Title     string   `json:"title" validate:"required,max=300"`
	Authors   []string `json:"authors" validate:"max=20"`
	Thumbnail string   `json:"thumbnail" validate:"omitempty,url"`
	Publisher string   `json:"publisher" validate:"max=200"`
}

type top3Entry struct {
	Position int    `json:"position" validate:"min=1,max=3"`
	ISBN     string `json:"isbn" validate:"required"`
}

type top3Request struct {
	Top3 []top3Entry `json:"top3" validate:"max=3,dive"`
}

func (s *Server) handleSearchBooks(w http.ResponseWriter, r *http.Request, _ domain.User) {
	title := strings.TrimSpace(r.URL.Query().Get("title"))
	if title == "" {
		writeError(w, http.StatusBadRequest, app.ErrTitleRequired.Error())
		return
	}
	res, err := s.app.SearchBooks(r.Context(), title)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if res.Items == nil {
		res.Items = []domain.BookSearchItem{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleLibrary(w http.ResponseWriter, r *http.Request, user domain.User) {
	entries, err := s.app.Library(user.ID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (s *Server) handleAddToLibrary(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req libraryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	entry, added, err := s.app.AddToLibrary(user.ID, app.LibraryBook{
		ISBN:      req.ISBN,
		Title:     req.Title,
		Authors:   req.Authors,
		Thumbnail: req.Thumbnail,
		Publisher: req.Publisher,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, entry)
}

func (s *Server) handleRemoveFromLibrary(w http.ResponseWriter, r *http.Request, user domain.User) {
	if err := s.app.RemoveFromLibrary(user.ID, chi.URLParam(r, "isbn")); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTop3(w http.ResponseWriter, r *http.Request, user domain.User) {
	top, err := s.app.Top3(user.ID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if top == nil {
		top = []domain.TopBook{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"top3": top})
}

func (s *Server) handleReplaceTop3(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req top3Request
	if !decodeJSON(w, r, &req) {
		return
	}
	entries := make([]domain.TopBook, 0, len(req.Top3))
	for _, e := range req.Top3 {
		entries = append(entries, domain.TopBook{Position: e.Position, ISBN: e.ISBN})
	}
	top, err := s.app.ReplaceTop3(user.ID, entries)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if top == nil {
		top = []domain.TopBook{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"top3": top})
}

func (s *Server) handleUserProfile(w http.ResponseWriter, r *http.Request, _ domain.User) {
	profile, err := s.app.UserProfile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if profile.Top3 == nil {
		profile.Top3 = []domain.TopBook{}
	}
	writeJSON(w, http.StatusOK, profile)
}
