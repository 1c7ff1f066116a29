package chat

import (
	"sync"

	"github.com/Rrens/langly/internal/domain"
)

// SessionStore is the in-memory session list and the active selection.
// The list is ordered newest first.
type SessionStore struct {
	mu       sync.RWMutex
	sessions []domain.ChatSession
	activeID int64
}

// NewSessionStore creates an empty store
func NewSessionStore() *SessionStore {
	return &SessionStore{}
}

// Replace swaps in a freshly fetched list. The active selection is kept.
func (s *SessionStore) Replace(sessions []domain.ChatSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append([]domain.ChatSession(nil), sessions...)
}

// Add inserts a session at the head of the list
func (s *SessionStore) Add(session domain.ChatSession) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.sessions {
		if existing.ID == session.ID {
			s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
			break
		}
	}
	s.sessions = append([]domain.ChatSession{session}, s.sessions...)
}

// Update replaces the stored copy of session, if present
func (s *SessionStore) Update(session domain.ChatSession) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.sessions {
		if s.sessions[i].ID == session.ID {
			s.sessions[i] = session
			return true
		}
	}
	return false
}

// Remove deletes a session and clears the active selection if it was active
func (s *SessionStore) Remove(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.sessions {
		if s.sessions[i].ID == id {
			s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
			break
		}
	}
	if s.activeID == id {
		s.activeID = 0
	}
}

// Get returns a session by id
func (s *SessionStore) Get(id int64) (domain.ChatSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, session := range s.sessions {
		if session.ID == id {
			return session, true
		}
	}
	return domain.ChatSession{}, false
}

// List returns a copy of the sessions
func (s *SessionStore) List() []domain.ChatSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.ChatSession{}, s.sessions...)
}

// Active returns the active session id
func (s *SessionStore) Active() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID, s.activeID != 0
}

// SetActive selects a session. Zero clears the selection.
func (s *SessionStore) SetActive(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeID = id
}
