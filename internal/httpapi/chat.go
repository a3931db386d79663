package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/aidex/internal/chat"
	"github.com/ent0n29/aidex/internal/logging"
	"github.com/ent0n29/aidex/internal/protocol"
)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "chat service not configured")
		return
	}
	var req protocol.ChatRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	resp, err := s.chat.Reply(r.Context(), chat.Request{
		Message:   req.Message,
		SessionID: req.SessionID,
		Language:  req.Language,
	})
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		// Clients read this from a 200 body.
		respondJSON(w, http.StatusOK, protocol.ErrorResponse{Error: chat.EmptyMessageMessage})
	case err != nil:
		logging.FromContext(r.Context()).WithError(err).Warn("chat turn aborted")
		respondError(w, http.StatusServiceUnavailable, "chat_aborted", "the request was canceled before a reply was ready")
	default:
		s.metrics.SetActiveSessions(s.sessions.ActiveCount())
		respondJSON(w, http.StatusOK, protocol.ChatResponse{Reply: resp.Reply})
	}
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}
	if s.history == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "history store not configured")
		return
	}
	turns, err := s.history.History(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "history_unavailable", err.Error())
		return
	}

	out := protocol.SessionHistory{
		SessionID: id,
		Turns:     make([]protocol.HistoryTurn, 0, len(turns)),
	}
	for _, t := range turns {
		out.Turns = append(out.Turns, protocol.HistoryTurn{Role: string(t.Role), Content: t.Content})
	}
	if sess, err := s.sessions.Get(id); err == nil {
		out.Exchanges = sess.Turns
		out.StartedAt = &sess.StartedAt
		out.LastActivityAt = &sess.LastActivityAt
	}
	respondJSON(w, http.StatusOK, out)
}
