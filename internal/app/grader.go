package app

import (
	"strings"

	"trial-service/internal/domain"
)

// Grade computes the points awarded for a submitted answer under the
// question-type rule. It is pure: the same question and answer always yield
// the same points. Unanswered questions score zero.
func Grade(q domain.Question, a domain.Answer) int {
	if a.IsEmpty() {
		return 0
	}
	switch q.Type {
	case domain.QuestionSingle:
		for _, correct := range q.CorrectAnswers {
			if a.Value == correct {
				return q.Points
			}
		}
	case domain.QuestionMultiple:
		return countCorrectSelections(q, a.Values)
	case domain.QuestionInput:
		submitted := strings.TrimSpace(a.Value)
		for _, correct := range q.CorrectAnswers {
			if strings.EqualFold(submitted, strings.TrimSpace(correct)) {
				return q.Points
			}
		}
	}
	return 0
}

// countCorrectSelections awards one point per selected member of the correct
// set. The award is a raw count, not scaled to the question's point value.
// Selections beyond len(CorrectAnswers) are ignored, and duplicates are not
// counted twice, so the result is bounded in [0, len(CorrectAnswers)].
func countCorrectSelections(q domain.Question, values []string) int {
	limit := len(q.CorrectAnswers)
	if len(values) > limit {
		values = values[:limit]
	}
	correct := make(map[string]struct{}, limit)
	for _, c := range q.CorrectAnswers {
		correct[c] = struct{}{}
	}
	awarded := 0
	for _, v := range values {
		if _, ok := correct[v]; ok {
			awarded++
			delete(correct, v)
		}
	}
	return awarded
}
