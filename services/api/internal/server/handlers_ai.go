package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"bookie/pkg/ai"
	"bookie/pkg/domain"
)

type aiChatRequest struct {
	Message string           `json:"message" validate:"required,max=4000"`
	History []domain.Message `json:"history" validate:"max=100"`
}

func (s *Server) handleAIChat(w http.ResponseWriter, r *http.Request, user domain.User) {
	if !s.allowRate(w, r, s.aiChatLimiter, "demasiadas preguntas, espera un momento") {
		s.audit(r, "api.ai_chat", "rate_limited", "user_id", user.ID)
		return
	}
	var req aiChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming no soportado")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := func(payload any) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	err := s.app.StreamChat(r.Context(), req.Message, req.History, func(delta string) error {
		return send(map[string]string{"content": delta})
	})
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		return
	case errors.Is(err, ai.ErrEmptyReply):
		_ = send(map[string]string{"error": "el asistente no devolvió ninguna respuesta"})
	default:
		s.logger.Warn("ai chat stream failed", "user_id", user.ID, "err", err)
		_ = send(map[string]string{"error": "el asistente no está disponible en este momento"})
	}
	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (s *Server) handleRandomBook(w http.ResponseWriter, r *http.Request, _ domain.User) {
	rec, err := s.app.RandomBook(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
