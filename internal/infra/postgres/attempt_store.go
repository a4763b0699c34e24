package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"trial-service/internal/domain"
)

type attemptRow struct {
	bun.BaseModel `bun:"table:attempts,alias:a"`

	ID            string    `bun:"id,pk"`
	UserID        string    `bun:"user_id"`
	TrialID       string    `bun:"trial_id"`
	StartedAt     time.Time `bun:"started_at"`
	Deadline      time.Time `bun:"deadline"`
	Status        string    `bun:"status"`
	Score         int       `bun:"score"`
	TimeConcluded int       `bun:"time_concluded"`
	Star          int       `bun:"star"`
	EvalScore     float64   `bun:"eval_score"`
	ShuffleSeed   int64     `bun:"shuffle_seed"`
}

type answerRow struct {
	bun.BaseModel `bun:"table:answer_records,alias:ar"`

	AttemptID  string `bun:"attempt_id,pk"`
	QuestionID string `bun:"question_id,pk"`
	Submitted  []byte `bun:"submitted,type:jsonb"`
	Points     int    `bun:"points"`
}

type userRow struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID         string `bun:"id,pk"`
	Experience int    `bun:"experience"`
}

// AttemptStore persists attempts, answer records, and user experience in
// Postgres via bun.
type AttemptStore struct {
	db *bun.DB
}

func NewAttemptStore(db *bun.DB) *AttemptStore {
	return &AttemptStore{db: db}
}

func (s *AttemptStore) CreateAttempt(ctx context.Context, attempt domain.Attempt) error {
	row := toAttemptRow(attempt)
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func (s *AttemptStore) GetAttempt(ctx context.Context, attemptID string) (domain.Attempt, error) {
	var row attemptRow
	err := s.db.NewSelect().Model(&row).Where("a.id = ?", attemptID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("select attempt: %w", err)
	}
	return fromAttemptRow(row), nil
}

// ListAttempts returns the user's attempts on a trial ordered by creation,
// which keeps reconciliation tie-breaks deterministic.
func (s *AttemptStore) ListAttempts(ctx context.Context, trialID, userID string) ([]domain.Attempt, error) {
	var rows []attemptRow
	err := s.db.NewSelect().Model(&rows).
		Where("a.trial_id = ?", trialID).
		Where("a.user_id = ?", userID).
		Order("a.started_at ASC", "a.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	attempts := make([]domain.Attempt, 0, len(rows))
	for _, row := range rows {
		attempts = append(attempts, fromAttemptRow(row))
	}
	return attempts, nil
}

// FinishAttempt applies the full finish in one transaction: the answer
// records, the attempt's terminal update, and the user's experience credit.
// Either all of it lands or none of it does.
func (s *AttemptStore) FinishAttempt(ctx context.Context, attempt domain.Attempt, records []domain.AnswerRecord, expDelta int) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		rows := make([]answerRow, 0, len(records))
		for _, rec := range records {
			submitted, err := json.Marshal(rec.Submitted)
			if err != nil {
				return fmt.Errorf("marshal answer: %w", err)
			}
			rows = append(rows, answerRow{
				AttemptID:  rec.AttemptID,
				QuestionID: rec.QuestionID,
				Submitted:  submitted,
				Points:     rec.Points,
			})
		}
		if len(rows) > 0 {
			if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
				return fmt.Errorf("insert answer records: %w", err)
			}
		}

		row := toAttemptRow(attempt)
		res, err := tx.NewUpdate().Model(&row).
			Column("status", "score", "time_concluded", "star", "eval_score").
			WherePK().
			Where("a.status = ?", string(domain.AttemptOngoing)).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("update attempt: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return domain.ErrAttemptFinished
		}

		user := userRow{ID: attempt.UserID, Experience: expDelta}
		_, err = tx.NewInsert().Model(&user).
			On("CONFLICT (id) DO UPDATE").
			Set("experience = u.experience + EXCLUDED.experience").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("credit experience: %w", err)
		}
		return nil
	})
}

// DeleteAttempt removes a pruned attempt: its answer records first, then the
// attempt row.
func (s *AttemptStore) DeleteAttempt(ctx context.Context, attemptID string) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*answerRow)(nil)).Where("ar.attempt_id = ?", attemptID).Exec(ctx); err != nil {
			return fmt.Errorf("delete answer records: %w", err)
		}
		if _, err := tx.NewDelete().Model((*attemptRow)(nil)).Where("a.id = ?", attemptID).Exec(ctx); err != nil {
			return fmt.Errorf("delete attempt: %w", err)
		}
		return nil
	})
}

func (s *AttemptStore) UserExperience(ctx context.Context, userID string) (int, error) {
	var row userRow
	err := s.db.NewSelect().Model(&row).Where("u.id = ?", userID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("select user: %w", err)
	}
	return row.Experience, nil
}

func toAttemptRow(a domain.Attempt) attemptRow {
	return attemptRow{
		ID:            a.ID,
		UserID:        a.UserID,
		TrialID:       a.TrialID,
		StartedAt:     a.StartedAt,
		Deadline:      a.Deadline,
		Status:        string(a.Status),
		Score:         a.Score,
		TimeConcluded: a.TimeConcluded,
		Star:          a.Star,
		EvalScore:     a.EvalScore,
		ShuffleSeed:   a.ShuffleSeed,
	}
}

func fromAttemptRow(row attemptRow) domain.Attempt {
	return domain.Attempt{
		ID:            row.ID,
		UserID:        row.UserID,
		TrialID:       row.TrialID,
		StartedAt:     row.StartedAt,
		Deadline:      row.Deadline,
		Status:        domain.AttemptStatus(row.Status),
		Score:         row.Score,
		TimeConcluded: row.TimeConcluded,
		Star:          row.Star,
		EvalScore:     row.EvalScore,
		ShuffleSeed:   row.ShuffleSeed,
	}
}
