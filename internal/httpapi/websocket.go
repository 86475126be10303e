package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/lumenstack/concierge/core"
	"github.com/lumenstack/concierge/workflow"
)

// streamEvent is one message sent to the WebSocket client. Type is one of
// "fragment", "done" or "error".
type streamEvent struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	TurnID    string `json:"turn_id,omitempty"`
	State     string `json:"state,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

// handleStream upgrades to WebSocket, reads one turn request and streams the
// synthesized reply back fragment by fragment. One turn per connection keeps
// the protocol trivial; clients reconnect for the next turn.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "session_id", sessionID, "error", err)
		return
	}
	defer ws.Close(websocket.StatusNormalClosure, "turn complete")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_, payload, err := ws.Read(ctx)
	if err != nil {
		return
	}
	var req turnRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.Message == "" {
		h.writeEvent(ctx, ws, streamEvent{Type: "error", ErrorKind: "bad_request"})
		return
	}

	frags, errs := h.engine.HandleTurnStream(ctx, sessionID, req.Message, func(o *workflow.TurnOptions) {
		o.TurnID = req.TurnID
		o.UserID = req.UserID
		o.LanguageHint = req.Language
	})

	for frag := range frags {
		if frag.Final {
			continue
		}
		if err := h.writeEvent(ctx, ws, streamEvent{Type: "fragment", Text: frag.Text}); err != nil {
			// Client gone; cancelling fails the turn at the next boundary.
			cancel()
			break
		}
	}

	if err := <-errs; err != nil {
		h.writeEvent(ctx, ws, streamEvent{Type: "error", ErrorKind: core.ErrorKind(err)})
		return
	}

	done := streamEvent{Type: "done", State: string(core.StateCommitted)}
	if sess, err := h.sessions.Get(sessionID); err == nil {
		if last, ok := sess.LastTurn(); ok {
			done.TurnID = last.ID
			done.State = string(last.State)
			done.ErrorKind = last.ErrorKind
		}
	}
	h.writeEvent(ctx, ws, done)
}

func (h *Handler) writeEvent(ctx context.Context, ws *websocket.Conn, ev streamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		if !errors.Is(err, context.Canceled) {
			h.logger.Debug("websocket write failed", "error", err)
		}
		return err
	}
	return nil
}
