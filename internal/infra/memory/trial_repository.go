package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"trial-service/internal/domain"
)

// TrialLoader fetches trial content from a backing store (e.g., Postgres).
type TrialLoader interface {
	LoadTrial(ctx context.Context, trialID string) (domain.Trial, error)
}

// TrialRepository caches trials with TTL to avoid repeated DB hits for the
// same content while a cohort is taking it.
type TrialRepository struct {
	loader TrialLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedTrial
}

type cachedTrial struct {
	trial     domain.Trial
	expiresAt time.Time
}

func NewTrialRepository(loader TrialLoader, ttl time.Duration) *TrialRepository {
	return &TrialRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedTrial),
	}
}

func (r *TrialRepository) GetTrial(ctx context.Context, trialID string) (domain.Trial, error) {
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.cache[trialID]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.trial, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(trialID, func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.cache[trialID]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.trial, nil
		}
		r.mu.RUnlock()

		trial, err := r.loader.LoadTrial(ctx, trialID)
		if err != nil {
			return domain.Trial{}, err
		}

		r.mu.Lock()
		r.cache[trialID] = cachedTrial{
			trial:     trial,
			expiresAt: now.Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return trial, nil
	})
	if err != nil {
		return domain.Trial{}, err
	}
	return result.(domain.Trial), nil
}

func (r *TrialRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticTrialLoader is a simple loader backed by an in-memory map (useful for tests/demos).
type StaticTrialLoader struct {
	trials map[string]domain.Trial
}

func NewStaticTrialLoader(trials map[string]domain.Trial) *StaticTrialLoader {
	return &StaticTrialLoader{trials: trials}
}

func (l *StaticTrialLoader) LoadTrial(_ context.Context, trialID string) (domain.Trial, error) {
	if trial, ok := l.trials[trialID]; ok {
		return trial, nil
	}
	return domain.Trial{}, domain.ErrTrialNotFound
}
