package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"trial-service/internal/domain"
)

// DefaultMaxAttempts caps how many attempts a user gets per trial.
const DefaultMaxAttempts = 3

const expirySubmitTimeout = 10 * time.Second

// TrialRepository loads trial content (from cache/backing store).
type TrialRepository interface {
	GetTrial(ctx context.Context, trialID string) (domain.Trial, error)
}

// AttemptStore is the persistence contract for attempts, answer records, and
// user experience. FinishAttempt must apply its writes atomically.
type AttemptStore interface {
	CreateAttempt(ctx context.Context, attempt domain.Attempt) error
	GetAttempt(ctx context.Context, attemptID string) (domain.Attempt, error)
	ListAttempts(ctx context.Context, trialID, userID string) ([]domain.Attempt, error)
	FinishAttempt(ctx context.Context, attempt domain.Attempt, records []domain.AnswerRecord, expDelta int) error
	DeleteAttempt(ctx context.Context, attemptID string) error
	UserExperience(ctx context.Context, userID string) (int, error)
}

// SessionRepository abstracts where live sessions are tracked (in-memory,
// Redis-marked, etc). GetOrCreate must check and insert atomically so that
// concurrent connections for one attempt always share a single session, and
// DeleteIfEmpty must refuse to drop a session that still has subscribers.
type SessionRepository interface {
	GetOrCreate(attemptID string, create func() *Session) (*Session, bool)
	Get(attemptID string) (*Session, bool)
	DeleteIfEmpty(attemptID string) bool
}

// TrialService drives timed trial attempts: creation, the live session state
// machine, grading on finish, and reconciliation of competing attempts.
type TrialService struct {
	trials      TrialRepository
	store       AttemptStore
	sessions    SessionRepository
	maxAttempts int
	now         func() time.Time
}

func NewTrialService(trials TrialRepository, store AttemptStore, sessions SessionRepository) *TrialService {
	return &TrialService{
		trials:      trials,
		store:       store,
		sessions:    sessions,
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
	}
}

// NewTrialServiceWithClock is test-only for deterministic timestamps.
func NewTrialServiceWithClock(trials TrialRepository, store AttemptStore, sessions SessionRepository, now func() time.Time) *TrialService {
	s := NewTrialService(trials, store, sessions)
	s.now = now
	return s
}

// BeginAttempt creates a fresh ongoing attempt. It refuses to start while
// another attempt on the trial is still running, and enforces the attempt cap.
func (s *TrialService) BeginAttempt(ctx context.Context, trialID, userID string) (domain.Attempt, error) {
	trial, err := s.trials.GetTrial(ctx, trialID)
	if err != nil {
		return domain.Attempt{}, err
	}

	attempts, err := s.store.ListAttempts(ctx, trialID, userID)
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("list attempts: %w", err)
	}
	now := s.now()
	for _, a := range attempts {
		if a.Status == domain.AttemptOngoing && a.Deadline.After(now) {
			return domain.Attempt{}, domain.ErrAttemptOngoing
		}
	}
	if len(attempts) >= s.maxAttempts {
		return domain.Attempt{}, domain.ErrAttemptLimit
	}

	attempt := domain.Attempt{
		ID:          uuid.NewString(),
		UserID:      userID,
		TrialID:     trialID,
		StartedAt:   now,
		Deadline:    now.Add(time.Duration(trial.TimeBudget) * time.Second),
		Status:      domain.AttemptOngoing,
		ShuffleSeed: rand.Int63(),
	}
	if err := s.store.CreateAttempt(ctx, attempt); err != nil {
		return domain.Attempt{}, fmt.Errorf("create attempt: %w", err)
	}
	return attempt, nil
}

// StartSession loads an ongoing attempt into a live session: it verifies
// ownership and status, fixes the question order from the persisted seed, and
// starts the countdown. Reconnecting to an already-live session returns its
// current state instead of rebuilding it.
func (s *TrialService) StartSession(ctx context.Context, attemptID, userID string) (SessionState, error) {
	if session, ok := s.sessions.Get(attemptID); ok {
		if session.Attempt().UserID != userID {
			return SessionState{}, domain.ErrNotAttemptOwner
		}
		return session.snapshot(), nil
	}

	attempt, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return SessionState{}, err
	}
	if attempt.UserID != userID {
		return SessionState{}, domain.ErrNotAttemptOwner
	}
	if attempt.Status == domain.AttemptFinished {
		return SessionState{}, domain.ErrAttemptFinished
	}
	trial, err := s.trials.GetTrial(ctx, attempt.TrialID)
	if err != nil {
		return SessionState{}, err
	}

	session, created := s.sessions.GetOrCreate(attemptID, func() *Session {
		return NewSessionWithClock(trial, attempt, s.now)
	})
	if !created {
		// A concurrent connection built the session first; attach to it.
		return session.snapshot(), nil
	}

	if session.remaining() == 0 {
		// The budget ran out while nobody was connected; conclude right away.
		if _, err := s.finish(ctx, session, true); err != nil {
			return SessionState{}, err
		}
		return session.snapshot(), nil
	}

	go session.runClock(func() {
		ctx, cancel := context.WithTimeout(context.Background(), expirySubmitTimeout)
		defer cancel()
		if _, err := s.finish(ctx, session, true); err != nil && !errors.Is(err, domain.ErrAttemptFinished) {
			log.Printf("auto-finish attempt %s: %v", attemptID, err)
		}
	})
	return session.snapshot(), nil
}

// Navigate moves the session's question index by step (bounded).
func (s *TrialService) Navigate(attemptID string, step int) (SessionState, error) {
	session, ok := s.sessions.Get(attemptID)
	if !ok {
		return SessionState{}, domain.ErrSessionNotFound
	}
	return session.navigate(step)
}

// SetAnswer records an answer in the session's ledger.
func (s *TrialService) SetAnswer(attemptID, questionID string, answer domain.Answer) error {
	session, ok := s.sessions.Get(attemptID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	return session.setAnswer(questionID, answer)
}

// Finish is the explicit finish path.
func (s *TrialService) Finish(ctx context.Context, attemptID string) (domain.Summary, error) {
	session, ok := s.sessions.Get(attemptID)
	if !ok {
		return domain.Summary{}, domain.ErrSessionNotFound
	}
	return s.finish(ctx, session, false)
}

// Subscribe returns a channel of once-per-second session updates plus the
// terminal summary. The caller must invoke cancel to avoid leaks.
func (s *TrialService) Subscribe(attemptID string) (<-chan SessionUpdate, func(), error) {
	session, ok := s.sessions.Get(attemptID)
	if !ok {
		return nil, nil, domain.ErrSessionNotFound
	}
	ch, cancel := session.Subscribe()
	return ch, cancel, nil
}

// Leave drops the live session once its last connection is gone. While other
// subscribers remain the session and its clock stay untouched. The attempt
// row is never changed here: an ongoing attempt stays resumable until its
// deadline passes.
func (s *TrialService) Leave(attemptID string) {
	session, ok := s.sessions.Get(attemptID)
	if !ok {
		return
	}
	if s.sessions.DeleteIfEmpty(attemptID) {
		session.halt()
	}
}

// finish grades every question of the trial against the ledger, persists the
// results atomically, and reconciles the user's attempts. expired forces
// remaining to zero, guarding the race where the clock state has not caught
// up with the deadline.
func (s *TrialService) finish(ctx context.Context, session *Session, expired bool) (domain.Summary, error) {
	if err := session.beginSubmit(); err != nil {
		return domain.Summary{}, err
	}

	remaining := session.remaining()
	if expired {
		remaining = 0
	}
	trial := session.trial
	attempt := session.Attempt()

	records := make([]domain.AnswerRecord, 0, len(trial.Questions))
	total := 0
	for _, q := range trial.Questions {
		submitted := session.answer(q.ID)
		points := Grade(q, submitted)
		total += points
		records = append(records, domain.AnswerRecord{
			AttemptID:  attempt.ID,
			QuestionID: q.ID,
			Submitted:  submitted,
			Points:     points,
		})
	}

	stars := Stars(total, trial.AllScore, trial.TimeBudget, remaining)
	eval := EvalScore(total, trial.AllScore, trial.TimeBudget, remaining)

	first, err := s.isFirstAttempt(ctx, attempt)
	if err != nil {
		session.abortSubmit()
		return domain.Summary{}, err
	}
	expDelta := ExperienceGain(stars, trial, first)

	attempt.Status = domain.AttemptFinished
	attempt.Score = total
	attempt.TimeConcluded = remaining
	attempt.Star = stars
	attempt.EvalScore = eval
	if err := s.store.FinishAttempt(ctx, attempt, records, expDelta); err != nil {
		// No summary is presented when the authoritative write failed.
		session.abortSubmit()
		return domain.Summary{}, fmt.Errorf("persist attempt results: %w", err)
	}

	outcome := s.reconcile(ctx, attempt)

	summary := domain.Summary{
		AttemptID:     attempt.ID,
		TrialID:       trial.ID,
		Score:         total,
		AllScore:      trial.AllScore,
		TimeConcluded: remaining,
		Star:          stars,
		EvalScore:     eval,
		ExpGained:     expDelta,
		Outcome:       outcome,
		Message:       outcome.Message(),
	}
	if totalExp, err := s.store.UserExperience(ctx, attempt.UserID); err == nil {
		summary.TotalExp = totalExp
	} else {
		log.Printf("read experience for %s: %v", attempt.UserID, err)
	}

	session.conclude(attempt, summary, expired)
	return summary, nil
}

func (s *TrialService) isFirstAttempt(ctx context.Context, attempt domain.Attempt) (bool, error) {
	attempts, err := s.store.ListAttempts(ctx, attempt.TrialID, attempt.UserID)
	if err != nil {
		return false, fmt.Errorf("count prior attempts: %w", err)
	}
	for _, a := range attempts {
		if a.ID != attempt.ID {
			return false, nil
		}
	}
	return true, nil
}
