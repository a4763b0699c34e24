package memory

import (
	"context"
	"sync"

	"trial-service/internal/domain"
)

// AttemptStore is an in-memory implementation of app.AttemptStore, used by
// unit tests and the no-database demo mode.
type AttemptStore struct {
	mu       sync.RWMutex
	attempts map[string]domain.Attempt
	order    []string // attempt IDs in creation order
	answers  map[string][]domain.AnswerRecord
	exp      map[string]int
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{
		attempts: make(map[string]domain.Attempt),
		answers:  make(map[string][]domain.AnswerRecord),
		exp:      make(map[string]int),
	}
}

func (s *AttemptStore) CreateAttempt(_ context.Context, attempt domain.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[attempt.ID] = attempt
	s.order = append(s.order, attempt.ID)
	return nil
}

func (s *AttemptStore) GetAttempt(_ context.Context, attemptID string) (domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempt, ok := s.attempts[attemptID]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return attempt, nil
}

// ListAttempts returns the user's attempts on a trial in creation order, so
// reconciliation tie-breaks are deterministic.
func (s *AttemptStore) ListAttempts(_ context.Context, trialID, userID string) ([]domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Attempt
	for _, id := range s.order {
		a, ok := s.attempts[id]
		if ok && a.TrialID == trialID && a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

// FinishAttempt applies the terminal update. Like the Postgres store it only
// succeeds while the attempt is still ongoing, so a duplicate finish can never
// credit experience twice.
func (s *AttemptStore) FinishAttempt(_ context.Context, attempt domain.Attempt, records []domain.AnswerRecord, expDelta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.attempts[attempt.ID]
	if !ok {
		return domain.ErrAttemptNotFound
	}
	if current.Status != domain.AttemptOngoing {
		return domain.ErrAttemptFinished
	}
	s.attempts[attempt.ID] = attempt
	s.answers[attempt.ID] = append([]domain.AnswerRecord(nil), records...)
	s.exp[attempt.UserID] += expDelta
	return nil
}

// DeleteAttempt removes the attempt's answer records first, then the attempt.
func (s *AttemptStore) DeleteAttempt(_ context.Context, attemptID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.answers, attemptID)
	delete(s.attempts, attemptID)
	for i, id := range s.order {
		if id == attemptID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *AttemptStore) UserExperience(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exp[userID], nil
}

// AnswerRecords exposes persisted records for assertions in tests.
func (s *AttemptStore) AnswerRecords(attemptID string) []domain.AnswerRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.AnswerRecord(nil), s.answers[attemptID]...)
}
