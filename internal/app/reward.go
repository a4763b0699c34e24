package app

import (
	"math"

	"trial-service/internal/domain"
)

const (
	scoreWeight    = 0.70
	timeWeight     = 0.30
	scoreThreshold = 0.70
	timeThreshold  = 0.35
	maxStars       = 3
)

// Stars derives the 1-3 star rating for a finished attempt. The first star is
// earned by completion alone; the second requires at least 70% of the
// achievable score; the third additionally requires at least 35% of the time
// budget left on the clock. Zero denominators fail the corresponding star.
func Stars(totalScore, allScore, allocated, remaining int) int {
	stars := 1
	if allScore > 0 && ratio(totalScore, allScore) >= scoreThreshold {
		stars++
		if allocated > 0 && ratio(remaining, allocated) >= timeThreshold {
			stars++
		}
	}
	return stars
}

// EvalScore blends the score ratio and the remaining-time ratio into a 0-100
// metric (one decimal place) used to rank attempts against each other.
func EvalScore(totalScore, allScore, allocated, remaining int) float64 {
	scoreRatio := 0.0
	if allScore > 0 {
		scoreRatio = ratio(totalScore, allScore)
	}
	timeRatio := 0.0
	if allocated > 0 {
		timeRatio = ratio(remaining, allocated)
	}
	return math.Round((scoreRatio*scoreWeight+timeRatio*timeWeight)*100*10) / 10
}

// ExperienceGain computes the experience award for a finished attempt:
// a star-proportional share of the trial's base award, plus the first-attempt
// bonus when applicable. Never negative.
func ExperienceGain(stars int, trial domain.Trial, firstAttempt bool) int {
	exp := int(math.Round(float64(stars) / maxStars * float64(trial.ExpGain)))
	if exp < 0 {
		exp = 0
	}
	if firstAttempt {
		exp += trial.FirstExp
	}
	return exp
}

func ratio(num, den int) float64 {
	return float64(num) / float64(den)
}
