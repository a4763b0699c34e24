package app

import (
	"math/rand"
	"sync"
	"time"

	"trial-service/internal/domain"
)

// State tracks where a live session sits in its lifecycle. Transitions are
// one-way: Active -> Submitting -> Finished/Expired. A failed submit drops
// back to Active so the finish can be retried.
type State int

const (
	StateActive State = iota + 1
	StateSubmitting
	StateFinished
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateSubmitting:
		return "submitting"
	case StateFinished:
		return "finished"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// QuestionView is the client-safe projection of a question: content and
// options without the correct-answer set.
type QuestionView struct {
	ID          string              `json:"id"`
	Content     string              `json:"content"`
	Type        domain.QuestionType `json:"type"`
	Options     []string            `json:"options,omitempty"`
	Points      int                 `json:"points"`
	SelectLimit int                 `json:"selectLimit,omitempty"`
}

// SessionState is a snapshot of a live session for the transport layer.
type SessionState struct {
	AttemptID string                   `json:"attemptId"`
	TrialID   string                   `json:"trialId"`
	Title     string                   `json:"title"`
	State     string                   `json:"state"`
	Remaining int                      `json:"remaining"`
	Index     int                      `json:"index"`
	Questions []QuestionView           `json:"questions"`
	Answers   map[string]domain.Answer `json:"answers"`
	Summary   *domain.Summary          `json:"summary,omitempty"`
}

// SessionUpdate is pushed to subscribers once per second, and a final time
// with the summary when the session concludes.
type SessionUpdate struct {
	Remaining int             `json:"remaining"`
	Answered  int             `json:"answered"`
	State     string          `json:"state"`
	Summary   *domain.Summary `json:"summary,omitempty"`
}

// Session holds the in-memory state of one running attempt: the answer
// ledger, the current question index, and the countdown.
type Session struct {
	trial   domain.Trial
	attempt domain.Attempt
	order   []int // shuffled question indexes, fixed per attempt by its seed
	now     func() time.Time

	mu          sync.Mutex
	state       State
	index       int
	ledger      map[string]domain.Answer
	summary     *domain.Summary
	subscribers map[chan SessionUpdate]struct{}

	stop     chan struct{}
	stopOnce sync.Once
}

// NewSession builds a session for an ongoing attempt. The question order is
// derived from the attempt's persisted shuffle seed, so a reload resumes the
// exact order the user saw before.
func NewSession(trial domain.Trial, attempt domain.Attempt) *Session {
	return NewSessionWithClock(trial, attempt, time.Now)
}

// NewSessionWithClock allows deterministic timestamps in tests.
func NewSessionWithClock(trial domain.Trial, attempt domain.Attempt, now func() time.Time) *Session {
	return &Session{
		trial:       trial,
		attempt:     attempt,
		order:       rand.New(rand.NewSource(attempt.ShuffleSeed)).Perm(len(trial.Questions)),
		now:         now,
		state:       StateActive,
		ledger:      make(map[string]domain.Answer),
		subscribers: make(map[chan SessionUpdate]struct{}),
		stop:        make(chan struct{}),
	}
}

// Attempt returns the attempt this session is bound to.
func (s *Session) Attempt() domain.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// Idle reports whether no subscriber is attached. An idle session is safe to
// drop from its store.
func (s *Session) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers) == 0
}

func (s *Session) remaining() int {
	return Remaining(s.attempt.StartedAt, s.trial.TimeBudget, s.now())
}

func (s *Session) snapshot() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	questions := make([]QuestionView, 0, len(s.order))
	for _, i := range s.order {
		q := s.trial.Questions[i]
		view := QuestionView{
			ID:      q.ID,
			Content: q.Content,
			Type:    q.Type,
			Options: q.Options,
			Points:  q.Points,
		}
		if q.Type == domain.QuestionMultiple {
			view.SelectLimit = len(q.CorrectAnswers)
		}
		questions = append(questions, view)
	}
	answers := make(map[string]domain.Answer, len(s.ledger))
	for id, a := range s.ledger {
		answers[id] = a
	}
	return SessionState{
		AttemptID: s.attempt.ID,
		TrialID:   s.trial.ID,
		Title:     s.trial.Title,
		State:     s.state.String(),
		Remaining: s.remaining(),
		Index:     s.index,
		Questions: questions,
		Answers:   answers,
		Summary:   s.summary,
	}
}

// navigate moves the current question index by step, clamped to the question
// range. Navigation never touches the ledger.
func (s *Session) navigate(step int) (SessionState, error) {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return SessionState{}, domain.ErrAttemptFinished
	}
	s.index += step
	if s.index < 0 {
		s.index = 0
	}
	if max := len(s.order) - 1; s.index > max {
		s.index = max
	}
	s.mu.Unlock()
	return s.snapshot(), nil
}

// setAnswer records an answer in the ledger. Multiple-choice selections are
// truncated to the question's selection limit before they are stored.
func (s *Session) setAnswer(questionID string, answer domain.Answer) error {
	var question *domain.Question
	for i := range s.trial.Questions {
		if s.trial.Questions[i].ID == questionID {
			question = &s.trial.Questions[i]
			break
		}
	}
	if question == nil {
		return domain.ErrQuestionNotFound
	}
	if question.Type == domain.QuestionMultiple {
		if limit := len(question.CorrectAnswers); len(answer.Values) > limit {
			answer.Values = answer.Values[:limit]
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return domain.ErrAttemptFinished
	}
	s.ledger[questionID] = answer
	return nil
}

func (s *Session) answer(questionID string) domain.Answer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger[questionID]
}

// beginSubmit is the one-shot guard onto the finish path: only an Active
// session may enter Submitting, so the explicit-finish and timer-expiry paths
// cannot both get through.
func (s *Session) beginSubmit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return domain.ErrAttemptFinished
	}
	s.state = StateSubmitting
	return nil
}

// abortSubmit drops back to Active after a failed persist so the finish can
// be retried instead of presenting a summary that was never stored.
func (s *Session) abortSubmit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateSubmitting {
		s.state = StateActive
	}
}

// conclude moves the session to its terminal state and pushes the summary to
// all subscribers.
func (s *Session) conclude(attempt domain.Attempt, summary domain.Summary, expired bool) {
	s.halt()

	s.mu.Lock()
	s.attempt = attempt
	s.summary = &summary
	if expired {
		s.state = StateExpired
	} else {
		s.state = StateFinished
	}
	s.broadcastLocked()
	s.mu.Unlock()
}

// halt stops the countdown without finishing the attempt.
func (s *Session) halt() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Subscribe returns a channel of session updates. The caller must invoke the
// returned cancel function to avoid leaks.
func (s *Session) Subscribe() (<-chan SessionUpdate, func()) {
	ch := make(chan SessionUpdate, 8)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	initial := s.updateLocked()
	s.mu.Unlock()

	ch <- initial

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// runClock ticks once per second, broadcasting the remaining time. When the
// countdown reaches zero it stops and hands control to onExpire, which drives
// the finish path with an explicit zero override.
func (s *Session) runClock(onExpire func()) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			active := s.state == StateActive
			remaining := 0
			if active {
				remaining = s.remaining()
				s.broadcastLocked()
			}
			s.mu.Unlock()
			if !active {
				return
			}
			if remaining == 0 {
				onExpire()
				return
			}
		case <-s.stop:
			return
		}
	}
}

func (s *Session) updateLocked() SessionUpdate {
	remaining := s.remaining()
	if s.state == StateFinished || s.state == StateExpired {
		remaining = s.attempt.TimeConcluded
	}
	return SessionUpdate{
		Remaining: remaining,
		Answered:  len(s.ledger),
		State:     s.state.String(),
		Summary:   s.summary,
	}
}

func (s *Session) broadcastLocked() {
	update := s.updateLocked()
	for ch := range s.subscribers {
		select {
		case ch <- update:
		default:
			// Drop the oldest pending update so slow readers never block the clock.
			select {
			case <-ch:
			default:
			}
			ch <- update
		}
	}
}
