package cli

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"trial-service/internal/app"
	"trial-service/internal/config"
	"trial-service/internal/domain"
	"trial-service/internal/infra/memory"
	pgstore "trial-service/internal/infra/postgres"
	redisinfra "trial-service/internal/infra/redis"
	transport "trial-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the trial server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	var loader memory.TrialLoader = memory.NewStaticTrialLoader(sampleTrials())
	var attempts app.AttemptStore = memory.NewAttemptStore()
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		loader = pgstore.NewTrialLoader(pool)

		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		db := bun.NewDB(sqldb, pgdialect.New())
		defer db.Close()
		attempts = pgstore.NewAttemptStore(db)
	}

	trialTTL := config.TTLDuration(cfg.Trial.TTL, 10*time.Minute)
	var trialRepo app.TrialRepository
	if redisClient != nil {
		trialRepo = redisinfra.NewTrialRepository(redisClient, loader, trialTTL)
	} else {
		trialRepo = memory.NewTrialRepository(loader, trialTTL)
	}

	var sessions app.SessionRepository
	if redisClient != nil {
		sessions = redisinfra.NewSessionStore(redisClient, redisTTL)
	} else {
		sessions = memory.NewSessionStore()
	}

	service := app.NewTrialService(trialRepo, attempts, sessions)
	wsHandler := transport.NewWSHandler(service, transport.QueryAuthenticator{})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting trial service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleTrials seeds the no-database demo mode with one short trial.
func sampleTrials() map[string]domain.Trial {
	return map[string]domain.Trial{
		"trial-1": {
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
		},
	}
}
