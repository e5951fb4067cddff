package cli

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"timed-quiz-service/internal/config"
	"timed-quiz-service/internal/infra/memory"
	"timed-quiz-service/internal/infra/postgres"
	redisinfra "timed-quiz-service/internal/infra/redis"
	"timed-quiz-service/internal/logging"
)

// NewSeedCmd loads a YAML question set into Postgres.
func NewSeedCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert questions from a YAML file into Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), *configPath, file)
		},
	}
	cmd.Flags().StringVar(&file, "file", "config/questions.yaml", "YAML question set to load")
	return cmd
}

func runSeed(ctx context.Context, configPath, file string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	questions, err := memory.LoadQuestionsFile(file)
	if err != nil {
		return fmt.Errorf("load %s: %w", file, err)
	}
	if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
		return err
	}

	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := postgres.SeedQuestions(ctx, pool, questions); err != nil {
		return err
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer client.Close()
		// cached lists would hide the new questions until they expire
		cache := redisinfra.NewQuestionCache(client, nil, 0)
		if err := cache.Invalidate(ctx); err != nil {
			log.WithError(err).Warn("failed to invalidate question cache")
		}
	}

	log.WithField("questions", len(questions)).Info("questions seeded")
	return nil
}
