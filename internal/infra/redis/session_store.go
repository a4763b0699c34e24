package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"trial-service/internal/app"
)

// SessionStore is a Redis-aware implementation of app.SessionRepository.
// Notes:
//   - Live sessions stay in a local in-memory map: the countdown and the
//     answer ledger are process-local by design.
//   - Redis marks session liveness so other instances (and operators) can see
//     which attempts are currently being taken.
type SessionStore struct {
	client   *redis.Client
	ttl      time.Duration
	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client:   client,
		ttl:      ttl,
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
	// best-effort liveness marker
	_ = s.client.Set(context.Background(), s.key(attemptID), "1", s.ttl).Err()
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
	_ = s.client.Del(context.Background(), s.key(attemptID)).Err()
	return true
}

func (s *SessionStore) key(attemptID string) string {
	return "trial:session:" + attemptID
}
