package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"trial-service/internal/domain"
)

// TrialLoader fetches trial content from a backing store (e.g., Postgres).
type TrialLoader interface {
	LoadTrial(ctx context.Context, trialID string) (domain.Trial, error)
}

// TrialRepository caches trial documents in Redis and falls back to a loader
// on cache miss. The full document (questions, correct answers, points) is
// stored as JSON under trial:{trialID}:doc.
type TrialRepository struct {
	client *redis.Client
	loader TrialLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewTrialRepository(client *redis.Client, loader TrialLoader, ttl time.Duration) *TrialRepository {
	return &TrialRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *TrialRepository) GetTrial(ctx context.Context, trialID string) (domain.Trial, error) {
	key := r.docKey(trialID)

	if trial, ok := r.cached(ctx, key); ok {
		return trial, nil
	}

	result, err, _ := r.sf.Do(trialID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if trial, ok := r.cached(ctx, key); ok {
			return trial, nil
		}

		trial, err := r.loader.LoadTrial(ctx, trialID)
		if err != nil {
			return domain.Trial{}, err
		}

		if data, err := json.Marshal(trial); err == nil {
			// best-effort cache fill
			_ = r.client.Set(ctx, key, data, r.ttlWithJitter()).Err()
		}
		return trial, nil
	})
	if err != nil {
		return domain.Trial{}, err
	}
	return result.(domain.Trial), nil
}

func (r *TrialRepository) cached(ctx context.Context, key string) (domain.Trial, bool) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return domain.Trial{}, false
	}
	var trial domain.Trial
	if err := json.Unmarshal(data, &trial); err != nil {
		return domain.Trial{}, false
	}
	return trial, true
}

func (r *TrialRepository) docKey(trialID string) string {
	return "trial:" + trialID + ":doc"
}

func (r *TrialRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
