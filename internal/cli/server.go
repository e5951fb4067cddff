package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"timed-quiz-service/internal/app"
	"timed-quiz-service/internal/config"
	"timed-quiz-service/internal/domain"
	"timed-quiz-service/internal/infra/memory"
	"timed-quiz-service/internal/infra/postgres"
	redisinfra "timed-quiz-service/internal/infra/redis"
	"timed-quiz-service/internal/logging"
	"timed-quiz-service/internal/monitoring"
	transport "timed-quiz-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
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
	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
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
		defer redisClient.Close()
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	deps, err := buildDeps(cfg, pool, redisClient, log)
	if err != nil {
		return err
	}

	monitoring.Init()
	rules := cfg.Quiz.Rules()
	if err := rules.Validate(); err != nil {
		return err
	}
	service := app.NewQuizService(deps, app.Options{
		Rules:         rules,
		QuestionLimit: cfg.Quiz.Limit(),
		Shuffle:       cfg.Quiz.Shuffle,
		AutoSubmit:    cfg.Quiz.AutoSubmitEnabled(),
		Logger:        log,
	})
	router := transport.NewRouter(
		transport.NewWSHandler(service, log),
		transport.NewRESTHandler(service, log),
		log,
	)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.WithField("port", finalPort).Info("starting quiz service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server...")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildDeps picks Postgres and Redis adapters when configured and falls back to memory.
func buildDeps(cfg config.Config, pool *pgxpool.Pool, redisClient *redis.Client, log logrus.FieldLogger) (app.Deps, error) {
	questionTTL := config.TTLDuration(cfg.Quiz.QuestionTTL, 10*time.Minute)

	var (
		source app.QuestionSource
		bank   app.QuestionStore
	)
	if pool != nil {
		pgSource := postgres.NewQuestionSource(pool)
		source, bank = pgSource, pgSource
	} else {
		questions := sampleQuestions()
		if cfg.Quiz.QuestionsFile != "" {
			loaded, err := memory.LoadQuestionsFile(cfg.Quiz.QuestionsFile)
			if err != nil {
				return app.Deps{}, err
			}
			questions = loaded
		}
		static, err := memory.NewStaticQuestionSource(questions)
		if err != nil {
			return app.Deps{}, err
		}
		source, bank = static, static
	}

	deps := app.Deps{Bank: bank}
	switch {
	case redisClient != nil:
		deps.Questions = redisinfra.NewQuestionCache(redisClient, source, questionTTL)
	case pool != nil:
		deps.Questions = memory.NewQuestionCache(source, questionTTL)
	default:
		deps.Questions = source
	}

	if pool != nil {
		results := postgres.NewResultStore(pool)
		deps.Answers, deps.Scores, deps.Leaderboard, deps.Results, deps.Stats = results, results, results, results, results
	} else {
		results := memory.NewResultStore()
		deps.Answers, deps.Scores, deps.Leaderboard, deps.Results, deps.Stats = results, results, results, results, results
		log.Warn("postgres not configured, results are kept in memory")
	}

	if redisClient != nil {
		board := redisinfra.NewLeaderboard(redisClient, cfg.Quiz.LeaderboardCap())
		deps.Scores = app.ScoreSinks{deps.Scores, board}
		deps.Leaderboard = board
		deps.Sessions = redisinfra.NewSessionStore(redisClient, config.TTLDuration(cfg.Redis.TTL, 30*time.Minute))
	} else {
		deps.Sessions = memory.NewSessionStore()
	}
	return deps, nil
}

// sampleQuestions is the built-in set used when no questions file is configured.
func sampleQuestions() []domain.Question {
	return []domain.Question{
		{ID: "q1", Prompt: "What is 2 + 2?", Options: []string{"3", "4", "5", "22"}, CorrectAnswer: "4"},
		{ID: "q2", Prompt: "What is the capital of France?", Options: []string{"Berlin", "Madrid", "Paris", "Rome"}, CorrectAnswer: "Paris"},
		{ID: "q3", Prompt: "Which planet is known as the Red Planet?", Options: []string{"Venus", "Mars", "Jupiter", "Saturn"}, CorrectAnswer: "Mars"},
	}
}
