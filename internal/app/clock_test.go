package app

import (
	"testing"
	"time"
)

func TestRemaining(t *testing.T) {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	if got := Remaining(start, 120, start); got != 120 {
		t.Fatalf("at start: expected 120, got %d", got)
	}
	if got := Remaining(start, 120, start.Add(45*time.Second)); got != 75 {
		t.Fatalf("after 45s: expected 75, got %d", got)
	}
	if got := Remaining(start, 120, start.Add(120*time.Second)); got != 0 {
		t.Fatalf("at deadline: expected 0, got %d", got)
	}
}

func TestRemainingClampsToZero(t *testing.T) {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	// Budget of 120s, started 150s ago: exactly zero, never negative.
	if got := Remaining(start, 120, start.Add(150*time.Second)); got != 0 {
		t.Fatalf("overrun: expected 0, got %d", got)
	}
	// Clock skew must never produce a negative countdown.
	if got := Remaining(start.Add(time.Hour), 120, start); got < 0 {
		t.Fatalf("future start: expected non-negative, got %d", got)
	}
}

func TestRemainingClampsToBudget(t *testing.T) {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	// A start time in the future must not show more time than the trial allots.
	if got := Remaining(start.Add(time.Hour), 120, start); got != 120 {
		t.Fatalf("future start: expected 120, got %d", got)
	}
}

func TestRemainingFloorsElapsed(t *testing.T) {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	// 44.9s elapsed floors to 44s.
	if got := Remaining(start, 120, start.Add(44*time.Second+900*time.Millisecond)); got != 76 {
		t.Fatalf("expected 76, got %d", got)
	}
}
