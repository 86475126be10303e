package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/lumenstack/concierge/core"
)

// InMemoryStore is a volatile core.SessionStore keeping sessions in a process
// local map. It is safe for concurrent access. Reads return clones to prevent
// external mutation of internal state; turn appends enforce the total
// timestamp ordering invariant.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
}

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*core.Session)}
}

// GetOrCreate returns a clone of the session, creating it lazily on first use.
func (s *InMemoryStore) GetOrCreate(sessionID string) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		return sess.Clone(), nil
	}
	sess := core.NewSession(sessionID)
	s.sessions[sessionID] = sess
	return sess.Clone(), nil
}

// Get returns a clone of an existing session or core.ErrNotFound.
func (s *InMemoryStore) Get(sessionID string) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, core.ErrNotFound)
	}
	return sess.Clone(), nil
}

// AppendTurn appends a turn to an existing or newly created session. Appends
// that would regress the session's timestamp ordering are rejected.
func (s *InMemoryStore) AppendTurn(sessionID string, turn core.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = core.NewSession(sessionID)
		s.sessions[sessionID] = sess
	}
	if last, exists := sess.LastTurn(); exists && turn.Timestamp.Before(last.Timestamp) {
		return fmt.Errorf("turn %s timestamp precedes session tail", turn.ID)
	}
	sess.AppendTurn(turn)
	return nil
}

// BindUser records the owning user on an existing session. Because reads
// return clones, callers cannot bind by mutating a fetched session; this is
// the only path that persists the association. First binding wins.
func (s *InMemoryStore) BindUser(sessionID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, core.ErrNotFound)
	}
	if sess.UserID == "" {
		sess.UserID = userID
		sess.Updated = time.Now().UTC()
	}
	return nil
}

// SetWorkflowState records the live workflow state for a session.
func (s *InMemoryStore) SetWorkflowState(sessionID string, state core.WorkflowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, core.ErrNotFound)
	}
	sess.SetWorkflowState(state)
	return nil
}
