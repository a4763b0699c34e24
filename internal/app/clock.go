package app

import "time"

// Remaining converts an attempt's recorded start time and its time budget
// into the seconds left on the clock, clamped to [0, budget]. The upper clamp
// keeps a skewed clock (start time in the future) from showing more time than
// the trial allots. Elapsed time is floored to whole seconds so the countdown
// never overshoots the budget.
func Remaining(startedAt time.Time, budgetSeconds int, now time.Time) int {
	elapsed := int(now.Sub(startedAt) / time.Second)
	remaining := budgetSeconds - elapsed
	if remaining < 0 {
		return 0
	}
	if remaining > budgetSeconds {
		return budgetSeconds
	}
	return remaining
}
