package memory

import (
	"sync"

	"trial-service/internal/app"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*app.Session),
	}
}

// GetOrCreate returns the live session for an attempt, building one with
// create when none exists. The check and insert happen under one lock, so
// racing connections end up sharing a single session. The boolean reports
// whether this call created it.
func (s *SessionStore) GetOrCreate(attemptID string, create func() *app.Session) (*app.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[attemptID]; ok {
		return session, false
	}
	session := create()
	s.sessions[attemptID] = session
	return session, true
}

func (s *SessionStore) Get(attemptID string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[attemptID]
	return session, ok
}

// DeleteIfEmpty drops the session only when no subscriber is attached,
// reporting whether it was removed.
func (s *SessionStore) DeleteIfEmpty(attemptID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[attemptID]
	if !ok || !session.Idle() {
		return false
	}
	delete(s.sessions, attemptID)
	return true
}
