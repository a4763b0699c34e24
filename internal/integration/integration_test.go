package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"trial-service/internal/app"
	"trial-service/internal/domain"
	"trial-service/internal/infra/memory"
	pgstore "trial-service/internal/infra/postgres"
	pgmigrations "trial-service/internal/infra/postgres/migrations"
	infraredis "trial-service/internal/infra/redis"
)

func TestTrialAttemptEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	db := openBun(pgURL)
	defer db.Close()
	migrateAndSeed(t, ctx, db, sampleTrial())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}

	trials := infraredis.NewTrialRepository(redisClient, pgstore.NewTrialLoader(pool), 5*time.Minute)
	attempts := pgstore.NewAttemptStore(db)
	sessions := infraredis.NewSessionStore(redisClient, 5*time.Minute)
	service := app.NewTrialService(trials, attempts, sessions)

	attempt, err := service.BeginAttempt(ctx, "trial-1", "u1")
	if err != nil {
		t.Fatalf("begin attempt: %v", err)
	}
	if _, err := service.StartSession(ctx, attempt.ID, "u1"); err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := service.SetAnswer(attempt.ID, "q1", domain.Answer{Value: "4"}); err != nil {
		t.Fatalf("answer q1: %v", err)
	}
	if err := service.SetAnswer(attempt.ID, "q2", domain.Answer{Values: []string{"2", "4"}}); err != nil {
		t.Fatalf("answer q2: %v", err)
	}
	if err := service.SetAnswer(attempt.ID, "q3", domain.Answer{Value: "three"}); err != nil {
		t.Fatalf("answer q3: %v", err)
	}

	summary, err := service.Finish(ctx, attempt.ID)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if summary.Score != 10 {
		t.Fatalf("expected full score, got %d", summary.Score)
	}
	if summary.Star != 3 {
		t.Fatalf("expected 3 stars for an instant perfect run, got %d", summary.Star)
	}
	if summary.ExpGained != 45 {
		t.Fatalf("expected 45 exp (30 base + 15 first bonus), got %d", summary.ExpGained)
	}

	stored, err := attempts.GetAttempt(ctx, attempt.ID)
	if err != nil {
		t.Fatalf("reload attempt: %v", err)
	}
	if stored.Status != domain.AttemptFinished || stored.Score != 10 {
		t.Fatalf("attempt row not finished: %+v", stored)
	}

	var recordCount int
	if err := db.NewSelect().Table("answer_records").ColumnExpr("count(*)").Where("attempt_id = ?", attempt.ID).Scan(ctx, &recordCount); err != nil {
		t.Fatalf("count records: %v", err)
	}
	if recordCount != 3 {
		t.Fatalf("expected 3 answer records, got %d", recordCount)
	}

	exp, err := attempts.UserExperience(ctx, "u1")
	if err != nil {
		t.Fatalf("experience: %v", err)
	}
	if exp != 45 {
		t.Fatalf("expected 45 exp persisted, got %d", exp)
	}
}

func TestReconciliationEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()

	db := openBun(pgURL)
	defer db.Close()
	migrateAndSeed(t, ctx, db, sampleTrial())

	attempts := pgstore.NewAttemptStore(db)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	// No redis here: memory cache in front of the pg loader.
	service := app.NewTrialService(
		memory.NewTrialRepository(pgstore.NewTrialLoader(pool), 5*time.Minute),
		attempts,
		memory.NewSessionStore(),
	)

	// First run: no answers, low eval.
	first, err := service.BeginAttempt(ctx, "trial-1", "u1")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := service.StartSession(ctx, first.ID, "u1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := service.Finish(ctx, first.ID); err != nil {
		t.Fatalf("finish: %v", err)
	}
	service.Leave(first.ID)

	// Second run: perfect, must win and prune the first.
	second, err := service.BeginAttempt(ctx, "trial-1", "u1")
	if err != nil {
		t.Fatalf("begin 2: %v", err)
	}
	if _, err := service.StartSession(ctx, second.ID, "u1"); err != nil {
		t.Fatalf("start 2: %v", err)
	}
	for qid, answer := range map[string]domain.Answer{
		"q1": {Value: "4"},
		"q2": {Values: []string{"2", "4"}},
		"q3": {Value: "three"},
	} {
		if err := service.SetAnswer(second.ID, qid, answer); err != nil {
			t.Fatalf("answer %s: %v", qid, err)
		}
	}
	summary, err := service.Finish(ctx, second.ID)
	if err != nil {
		t.Fatalf("finish 2: %v", err)
	}
	if summary.Outcome != domain.ReconcileKept {
		t.Fatalf("expected winning attempt kept, got %s", summary.Outcome)
	}

	remaining, err := attempts.ListAttempts(ctx, "trial-1", "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != second.ID {
		t.Fatalf("expected only the winning attempt to survive, got %+v", remaining)
	}
}

func openBun(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

func migrateAndSeed(t *testing.T, ctx context.Context, db *bun.DB, trial domain.Trial) {
	t.Helper()
	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	data, err := json.Marshal(trial)
	if err != nil {
		t.Fatalf("marshal trial: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO trials (id, data) VALUES (?, ?::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`, trial.ID, string(data)); err != nil {
		t.Fatalf("insert trial: %v", err)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "trial", "POSTGRES_PASSWORD": "trialpass", "POSTGRES_DB": "trialdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://trial:trialpass@%s:%s/trialdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}

func sampleTrial() domain.Trial {
	return domain.Trial{
		ID:         "trial-1",
		Title:      "Basic arithmetic",
		TimeBudget: 60,
		AllScore:   10,
		ExpGain:    30,
		FirstExp:   15,
		Questions: []domain.Question{
			{
				ID:             "q1",
				Content:        "<p>What is 2 + 2?</p>",
				Type:           domain.QuestionSingle,
				Options:        []string{"3", "4", "5"},
				CorrectAnswers: []string{"4"},
				Points:         5,
			},
			{
				ID:             "q2",
				Content:        "<p>Select the even numbers.</p>",
				Type:           domain.QuestionMultiple,
				Options:        []string{"1", "2", "3", "4"},
				CorrectAnswers: []string{"2", "4"},
				Points:         2,
			},
			{
				ID:             "q3",
				Content:        "<p>Spell the number 3.</p>",
				Type:           domain.QuestionInput,
				CorrectAnswers: []string{"three"},
				Points:         3,
			},
		},
	}
}
