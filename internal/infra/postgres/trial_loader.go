package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"trial-service/internal/domain"
)

// TrialLoader loads trial JSONB documents from Postgres.
type TrialLoader struct {
	pool *pgxpool.Pool
}

func NewTrialLoader(pool *pgxpool.Pool) *TrialLoader {
	return &TrialLoader{pool: pool}
}

func (l *TrialLoader) LoadTrial(ctx context.Context, trialID string) (domain.Trial, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM trials WHERE id=$1`, trialID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Trial{}, domain.ErrTrialNotFound
	}
	if err != nil {
		return domain.Trial{}, fmt.Errorf("load trial: %w", err)
	}
	var trial domain.Trial
	if err := json.Unmarshal(raw, &trial); err != nil {
		return domain.Trial{}, fmt.Errorf("unmarshal trial: %w", err)
	}
	return trial, nil
}
