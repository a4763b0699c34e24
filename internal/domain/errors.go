package domain

import "errors"

var (
	// ErrTrialNotFound indicates the trial content could not be loaded.
	ErrTrialNotFound = errors.New("trial not found")
	// ErrAttemptNotFound indicates the attempt row does not exist.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrUserNotFound indicates the user row does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrNotAttemptOwner is returned when a caller loads someone else's attempt.
	ErrNotAttemptOwner = errors.New("attempt belongs to a different user")
	// ErrAttemptFinished is returned when a finished attempt is loaded or mutated again.
	ErrAttemptFinished = errors.New("attempt already finished")
	// ErrAttemptOngoing is returned when a new attempt is begun while one is still running.
	ErrAttemptOngoing = errors.New("an attempt on this trial is still ongoing")
	// ErrAttemptLimit is returned when the per-trial attempt cap is exhausted.
	ErrAttemptLimit = errors.New("attempt limit reached for this trial")
	// ErrSessionNotFound is returned when no live session exists for an attempt.
	ErrSessionNotFound = errors.New("trial session not found")
	// ErrQuestionNotFound indicates a submitted question ID is not part of the trial.
	ErrQuestionNotFound = errors.New("question not found")
)
