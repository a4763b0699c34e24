package domain

import "time"

// QuestionType discriminates how a question is presented and graded.
type QuestionType string

const (
	// QuestionSingle has one selectable option; any member of the correct set earns full points.
	QuestionSingle QuestionType = "single"
	// QuestionMultiple allows selecting up to len(CorrectAnswers) options; each correct pick earns one point.
	QuestionMultiple QuestionType = "multiple"
	// QuestionInput takes free text, matched trimmed and case-insensitively.
	QuestionInput QuestionType = "input"
)

// AttemptStatus enumerates the lifecycle states of a persisted attempt.
type AttemptStatus string

const (
	AttemptOngoing  AttemptStatus = "ongoing"
	AttemptFinished AttemptStatus = "finished"
)

// Question models one graded question of a trial.
type Question struct {
	ID             string       `json:"id"`
	Content        string       `json:"content"` // may carry HTML
	Type           QuestionType `json:"type"`
	Options        []string     `json:"options,omitempty"`
	CorrectAnswers []string     `json:"correctAnswers"`
	Points         int          `json:"points"`
}

// Trial is a gradable unit: questions plus scoring and reward parameters.
// Immutable for the duration of a session.
type Trial struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	TimeBudget int        `json:"timeBudgetSeconds"`
	AllScore   int        `json:"allScore"`
	ExpGain    int        `json:"expGain"`
	FirstExp   int        `json:"firstExp"`
	Questions  []Question `json:"questions"`
}

// Answer is a submitted answer for one question: a single value for
// single/input questions, a list of values for multiple-choice ones.
type Answer struct {
	Value  string   `json:"value,omitempty"`
	Values []string `json:"values,omitempty"`
}

// IsEmpty reports whether the answer carries no submission at all.
func (a Answer) IsEmpty() bool {
	return a.Value == "" && len(a.Values) == 0
}

// Attempt is one user's timed instance of taking a trial.
type Attempt struct {
	ID            string        `json:"id"`
	UserID        string        `json:"userId"`
	TrialID       string        `json:"trialId"`
	StartedAt     time.Time     `json:"startedAt"`
	Deadline      time.Time     `json:"deadline"`
	Status        AttemptStatus `json:"status"`
	Score         int           `json:"score"`
	TimeConcluded int           `json:"timeConcluded"` // seconds left when the attempt finished
	Star          int           `json:"star"`
	EvalScore     float64       `json:"evalScore"`
	ShuffleSeed   int64         `json:"shuffleSeed"`
}

// AnswerRecord is the persisted grading result for one (attempt, question) pair.
type AnswerRecord struct {
	AttemptID  string `json:"attemptId"`
	QuestionID string `json:"questionId"`
	Submitted  Answer `json:"submitted"`
	Points     int    `json:"points"`
}

// ReconcileOutcome reports how a finished attempt fared against the user's
// other attempts on the same trial.
type ReconcileOutcome string

const (
	// ReconcileFirst is the neutral outcome for a user's first attempt.
	ReconcileFirst ReconcileOutcome = "first"
	// ReconcileKept means the just-finished attempt is the best and survived.
	ReconcileKept ReconcileOutcome = "kept"
	// ReconcilePruned means a previous attempt scored better and this one was deleted.
	ReconcilePruned ReconcileOutcome = "pruned"
)

// Message renders the user-facing reconciliation verdict.
func (o ReconcileOutcome) Message() string {
	switch o {
	case ReconcileKept:
		return "you beat your previous attempt"
	case ReconcilePruned:
		return "try again next time"
	default:
		return "trial finished"
	}
}

// Summary is what the session presents once an attempt reaches Finished.
type Summary struct {
	AttemptID     string           `json:"attemptId"`
	TrialID       string           `json:"trialId"`
	Score         int              `json:"score"`
	AllScore      int              `json:"allScore"`
	TimeConcluded int              `json:"timeConcluded"`
	Star          int              `json:"star"`
	EvalScore     float64          `json:"evalScore"`
	ExpGained     int              `json:"expGained"`
	TotalExp      int              `json:"totalExp"`
	Outcome       ReconcileOutcome `json:"outcome"`
	Message       string           `json:"message"`
}
