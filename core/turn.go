package core

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a turn within a session.
type Role string

const (
	// RoleUser marks a turn authored by the end user.
	RoleUser Role = "user"
	// RoleAgent marks a turn authored by the assistant.
	RoleAgent Role = "agent"
)

// Turn is one request/response exchange within a Session. After commit it
// must be treated as immutable; sessions hold turns as an append-only
// sequence totally ordered by Timestamp. It captures:
//
//   - Correlation (ID, SessionID)
//   - The raw utterance and the synthesized response
//   - Classification outcome (Intent), always present once classification ran
//   - An optional summary of the capability invocation that served it
//   - Terminal workflow state and error kind for audit
type Turn struct {
	ID         string                 `json:"id"`
	SessionID  string                 `json:"session_id"`
	Role       Role                   `json:"role"`
	Content    string                 `json:"content"`
	Response   string                 `json:"response,omitempty"`
	Intent     *IntentResult          `json:"intent,omitempty"`
	Capability *CapabilityInvocation  `json:"capability,omitempty"`
	State      WorkflowState          `json:"state"`
	ErrorKind  string                 `json:"error_kind,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// NewTurn creates a user-authored turn in the received state bound to a session.
func NewTurn(sessionID, content string) Turn {
	return Turn{
		ID:        NewID(),
		SessionID: sessionID,
		Role:      RoleUser,
		Content:   content,
		State:     StateReceived,
		Timestamp: time.Now().UTC(),
	}
}

// IsTerminal reports whether the turn reached a terminal workflow state.
func (t Turn) IsTerminal() bool { return t.State.Terminal() }

// NewID generates a new unique identifier for turns, sessions and memory
// records. Returns a string representation of a new UUID.
func NewID() string { return uuid.NewString() }
