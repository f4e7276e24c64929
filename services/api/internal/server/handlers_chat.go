package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"bookie/pkg/domain"
	"bookie/services/api/internal/app"
)

type channelByISBNRequest struct {
	ISBN      string   `json:"isbn" validate:"required,max=32"`
	BookTitle string   `json:"book_title" validate:"max=300"`
	Thumbnail string   `json:"thumbnail" validate:"omitempty,url"`
	Authors   []string `json:"authors" validate:"max=20"`
}

type channelByTitleRequest struct {
	BookTitle string `json:"book_title" validate:"required,max=300"`
}

type channelResponse struct {
	ChannelID string `json:"channel_id"`
	Created   bool   `json:"created"`
	Status    string `json:"status"`
}

func (s *Server) writeJoin(w http.ResponseWriter, join app.ChannelJoin) {
	if join.Member != nil {
		s.hub.MemberAdded(*join.Member)
	}
	status := http.StatusOK
	if join.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, channelResponse{ChannelID: join.ChannelID, Created: join.Created, Status: join.Status()})
}

func (s *Server) handleCreateOrJoinByISBN(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req channelByISBNRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	join, err := s.app.CreateOrJoinByISBN(r.Context(), user, app.ChannelBook{
		ISBN:      req.ISBN,
		BookTitle: req.BookTitle,
		Thumbnail: req.Thumbnail,
		Authors:   req.Authors,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.writeJoin(w, join)
}

func (s *Server) handleCreateOrJoinByTitle(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req channelByTitleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	join, err := s.app.CreateOrJoinByTitle(user, req.BookTitle)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.writeJoin(w, join)
}

func (s *Server) handleJoinChannel(w http.ResponseWriter, r *http.Request, user domain.User) {
	join, err := s.app.JoinChannel(user, chi.URLParam(r, "id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.writeJoin(w, join)
}

func (s *Server) handleLeaveChannel(w http.ResponseWriter, r *http.Request, user domain.User) {
	member, err := s.app.LeaveChannel(user, chi.URLParam(r, "id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.hub.MemberRemoved(member)
	writeJSON(w, http.StatusOK, channelResponse{ChannelID: member.ChannelID, Status: "left"})
}

func (s *Server) handleDeleteChannel(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := chi.URLParam(r, "id")
	if err := s.app.DeleteChannel(user, id); err != nil {
		s.audit(r, "api.channel.delete", "fail", "user_id", user.ID, "channel_id", id, "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.channel.delete", "success", "user_id", user.ID, "channel_id", id)
	s.hub.ChannelDeleted(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChannelDetail(w http.ResponseWriter, r *http.Request, _ domain.User) {
	detail, err := s.app.ChannelDetail(chi.URLParam(r, "id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handlePublicChannels(w http.ResponseWriter, r *http.Request, _ domain.User) {
	channels, err := s.app.PublicChannels()
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": channels})
}

func (s *Server) handleMyChannels(w http.ResponseWriter, r *http.Request, user domain.User) {
	channels, err := s.app.MyChannels(user)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": channels})
}

// handleRealtime authenticates the websocket handshake. Browsers cannot set
// headers on a websocket, so the token may also come in the query string.
func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		token = strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	if token == "" {
		s.audit(r, "api.realtime.connect", "fail", "reason", "missing_token")
		writeError(w, http.StatusUnauthorized, "no autorizado")
		return
	}
	user, ok := s.app.UserFromToken(token)
	if !ok {
		s.audit(r, "api.realtime.connect", "fail", "reason", "invalid_token")
		writeError(w, http.StatusUnauthorized, "no autorizado")
		return
	}
	s.audit(r, "api.realtime.connect", "success", "user_id", user.ID)
	s.hub.ServeWS(w, r, user)
}
