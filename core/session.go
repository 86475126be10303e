package core

import (
	"sync"
	"time"
)

// Session represents an ongoing conversation tracking an append-only turn
// history plus the workflow state of the most recent turn. It is safe for
// concurrent access.
//
// Contract:
//   - Turns are append-only and totally ordered by timestamp
//   - AppendTurn and SetWorkflowState update the Updated timestamp
//   - GetTurns returns a defensive copy to avoid external mutation
//   - Clone performs deep copies of slices/maps for safe divergence.
type Session struct {
	ID       string            `json:"id"`
	UserID   string            `json:"user_id,omitempty"`
	State    WorkflowState     `json:"state"`
	Turns    []Turn            `json:"turns"`
	Created  time.Time         `json:"created"`
	Updated  time.Time         `json:"updated"`
	Metadata map[string]string `json:"metadata,omitempty"`
	mu       sync.RWMutex
}

// NewSession creates a new session with the given ID.
func NewSession(id string) *Session {
	now := time.Now().UTC()
	return &Session{ID: id, State: StateReceived, Turns: []Turn{}, Created: now, Updated: now, Metadata: map[string]string{}}
}

// AppendTurn appends a turn to the history updating the Updated timestamp.
// Ordering is the caller's responsibility; the store rejects regressions.
func (s *Session) AppendTurn(t Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Turns = append(s.Turns, t)
	s.Updated = time.Now().UTC()
}

// SetWorkflowState records the live workflow state of the in-flight turn.
func (s *Session) SetWorkflowState(state WorkflowState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = state
	s.Updated = time.Now().UTC()
}

// WorkflowState returns the recorded workflow state.
func (s *Session) WorkflowState() WorkflowState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.State
}

// GetTurns returns a defensive copy of the full turn history.
func (s *Session) GetTurns() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns := make([]Turn, len(s.Turns))
	copy(turns, s.Turns)
	return turns
}

// LastTurn returns the most recent turn and whether one exists.
func (s *Session) LastTurn() (Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.Turns) == 0 {
		return Turn{}, false
	}
	return s.Turns[len(s.Turns)-1], true
}

// RecentHistory returns up to n committed turns, oldest first, suitable for
// providing conversational context to providers. Failed turns are included so
// the model can see the user's message even when processing degraded.
func (s *Session) RecentHistory(n int) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	terminal := make([]Turn, 0, len(s.Turns))
	for _, t := range s.Turns {
		if t.IsTerminal() {
			terminal = append(terminal, t)
		}
	}
	if n > 0 && len(terminal) > n {
		terminal = terminal[len(terminal)-n:]
	}
	return terminal
}

// Clone returns a deep copy of the session safe for independent mutation.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clone := &Session{ID: s.ID, UserID: s.UserID, State: s.State, Turns: make([]Turn, len(s.Turns)), Created: s.Created, Updated: s.Updated, Metadata: make(map[string]string, len(s.Metadata))}
	copy(clone.Turns, s.Turns)
	for k, v := range s.Metadata {
		clone.Metadata[k] = v
	}
	return clone
}

// SessionStore persists sessions and their append-only turn history. The core
// creates sessions on first message and never deletes them; retention is a
// collaborator's policy.
type SessionStore interface {
	GetOrCreate(id string) (*Session, error)
	Get(id string) (*Session, error)
	AppendTurn(sessionID string, turn Turn) error
	SetWorkflowState(sessionID string, state WorkflowState) error
	// BindUser associates a user with a session. The first binding wins;
	// later calls with a different user are ignored.
	BindUser(sessionID, userID string) error
}
