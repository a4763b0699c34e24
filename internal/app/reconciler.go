package app

import (
	"context"
	"log"

	"trial-service/internal/domain"
)

// reconcile prunes the user's attempts on a trial down to the single
// best-performing one and reports how the just-finished attempt fared.
// Only finished attempts compete for the survivor slot; an ungraded row must
// never win against a graded one. Abandoned ongoing attempts whose deadline
// has passed are reaped in the same pass. Ties on the maximum eval score
// resolve to the first-encountered attempt in the store's creation order.
// Deletion failures are logged, not fatal: a stale attempt will be reaped on
// the next reconciliation pass.
func (s *TrialService) reconcile(ctx context.Context, finished domain.Attempt) domain.ReconcileOutcome {
	attempts, err := s.store.ListAttempts(ctx, finished.TrialID, finished.UserID)
	if err != nil {
		log.Printf("reconcile attempts for trial %s: %v", finished.TrialID, err)
		return domain.ReconcileFirst
	}

	now := s.now()
	var graded []domain.Attempt
	for _, a := range attempts {
		switch {
		case a.Status == domain.AttemptFinished:
			graded = append(graded, a)
		case !a.Deadline.After(now):
			if err := s.store.DeleteAttempt(ctx, a.ID); err != nil {
				log.Printf("reap abandoned attempt %s: %v", a.ID, err)
			}
		}
	}
	if len(graded) < 2 {
		return domain.ReconcileFirst
	}

	maxEval := graded[0].EvalScore
	for _, a := range graded[1:] {
		if a.EvalScore > maxEval {
			maxEval = a.EvalScore
		}
	}
	best := ""
	for _, a := range graded {
		if a.EvalScore == maxEval {
			best = a.ID
			break
		}
	}

	for _, a := range graded {
		if a.ID == best {
			continue
		}
		if err := s.store.DeleteAttempt(ctx, a.ID); err != nil {
			log.Printf("prune attempt %s: %v", a.ID, err)
		}
	}

	if best == finished.ID {
		return domain.ReconcileKept
	}
	return domain.ReconcilePruned
}
