// Package httpapi exposes the orchestration engine over HTTP: a JSON turn
// endpoint and a WebSocket endpoint that streams the synthesized reply
// fragment by fragment.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lumenstack/concierge/core"
	"github.com/lumenstack/concierge/logging"
	"github.com/lumenstack/concierge/workflow"
)

// Handler serves the turn and session endpoints.
type Handler struct {
	engine   *workflow.Engine
	sessions core.SessionStore
	logger   logging.Logger
}

// NewHandler creates a Handler over the engine and its session store.
func NewHandler(engine *workflow.Engine, sessions core.SessionStore, logger logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Handler{engine: engine, sessions: sessions, logger: logger}
}

// RegisterRoutes mounts the API under /v1.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/v1/sessions/{sessionID}", func(r chi.Router) {
		r.Post("/turns", h.handleTurn)
		r.Get("/", h.handleGetSession)
		r.Get("/stream", h.handleStream)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

type turnRequest struct {
	Message  string `json:"message"`
	TurnID   string `json:"turn_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Language string `json:"language,omitempty"`
}

func (h *Handler) handleTurn(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		Error(w, http.StatusBadRequest, "message cannot be empty")
		return
	}

	res, err := h.engine.HandleTurn(r.Context(), sessionID, req.Message, func(o *workflow.TurnOptions) {
		o.TurnID = req.TurnID
		o.UserID = req.UserID
		o.LanguageHint = req.Language
	})
	if err != nil {
		switch {
		case errors.Is(err, core.ErrDeadlineExceeded):
			JSON(w, http.StatusGatewayTimeout, res)
		case errors.Is(err, core.ErrCancelled):
			// The client went away; the status is best effort.
			JSON(w, http.StatusRequestTimeout, res)
		default:
			h.logger.Error("turn handling failed", "session_id", sessionID, "error", err)
			Error(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	JSON(w, http.StatusOK, res)
}

type sessionResponse struct {
	SessionID string      `json:"session_id"`
	UserID    string      `json:"user_id,omitempty"`
	State     string      `json:"workflow_state"`
	Turns     []core.Turn `json:"turns"`
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := h.sessions.Get(sessionID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			Error(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("session lookup failed", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	JSON(w, http.StatusOK, sessionResponse{
		SessionID: sess.ID,
		UserID:    sess.UserID,
		State:     string(sess.WorkflowState()),
		Turns:     sess.GetTurns(),
	})
}
