package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/contract"
)

const maxRequestBodySize = 1 << 20

type AskRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
	AgentMode string `json:"agent_mode,omitempty"`
}

type AskResponse struct {
	SessionID string `json:"session_id"`
	Response  string `json:"response"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func newSessionID() string {
	return uuid.NewString()
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Detail: "Method not allowed"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "Invalid request body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "Message cannot be empty"})
		return
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = s.newID()
	}

	reply, err := s.turns.HandleMessage(r.Context(), sessionID, req.Message, req.AgentMode)
	switch {
	case errors.Is(err, contractx.ErrInputInvalid):
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: err.Error()})
		return
	case err != nil:
		log.Error().Err(err).Str("session_id", sessionID).Msg("ask failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: "Internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, AskResponse{SessionID: sessionID, Response: reply})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("write response")
	}
}
