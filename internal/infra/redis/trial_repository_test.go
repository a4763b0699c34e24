package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"trial-service/internal/domain"
	"trial-service/internal/infra/memory"
)

func TestTrialRepositoryCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := newClient(mr)

	loader := &countingLoader{
		TrialLoader: memory.NewStaticTrialLoader(map[string]domain.Trial{
			"trial-1": sampleTrial(),
		}),
	}
	repo := NewTrialRepository(client, loader, time.Minute)

	trial, err := repo.GetTrial(context.Background(), "trial-1")
	if err != nil {
		t.Fatalf("get trial: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls)
	}
	if len(trial.Questions) != 1 || trial.Questions[0].CorrectAnswers[0] != "4" {
		t.Fatalf("trial content mangled: %+v", trial)
	}
	if !mr.Exists("trial:trial-1:doc") {
		t.Fatalf("expected cached document in redis")
	}

	// Second call should hit cache, loader not incremented.
	cached, err := repo.GetTrial(context.Background(), "trial-1")
	if err != nil {
		t.Fatalf("get trial 2: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}
	if cached.TimeBudget != trial.TimeBudget || len(cached.Questions) != len(trial.Questions) {
		t.Fatalf("cached trial differs: %+v", cached)
	}
}

type countingLoader struct {
	memory.TrialLoader
	calls int
}

func (l *countingLoader) LoadTrial(ctx context.Context, trialID string) (domain.Trial, error) {
	l.calls++
	return l.TrialLoader.LoadTrial(ctx, trialID)
}

func sampleTrial() domain.Trial {
	return domain.Trial{
		ID:         "trial-1",
		Title:      "Basic arithmetic",
		TimeBudget: 60,
		AllScore:   5,
		Questions: []domain.Question{
			{
				ID:             "q1",
				Content:        "What is 2 + 2?",
				Type:           domain.QuestionSingle,
				Options:        []string{"3", "4", "5"},
				CorrectAnswers: []string{"4"},
				Points:         5,
			},
		},
	}
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
