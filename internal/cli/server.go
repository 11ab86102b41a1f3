package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"classquiz/internal/app"
	"classquiz/internal/config"
	"classquiz/internal/domain"
	"classquiz/internal/infra/memory"
	pgloader "classquiz/internal/infra/postgres"
	redisstore "classquiz/internal/infra/redis"
	transport "classquiz/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewServeCmd builds the CLI subcommand that serves the shared session store.
func NewServeCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the shared session store over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// questionStore is what the server needs from a question repository.
type questionStore interface {
	app.QuestionSource
	app.QuestionWriter
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
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
	redisTTL := config.Duration(cfg.Redis.TTL, 6*time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.QuestionLoader = memory.NewStaticQuestionLoader(sampleQuestions())
	if pool != nil {
		loader = pgloader.NewQuestionLoader(pool)
	}

	clock := clockwork.NewRealClock()
	questionTTL := config.Duration(cfg.Questions.TTL, 10*time.Minute)
	var questions questionStore
	if redisClient != nil {
		questions = redisstore.NewQuestionRepository(redisClient, loader, questionTTL)
	} else {
		questions = memory.NewQuestionRepository(loader, questionTTL, clock)
	}

	var store app.SessionStore
	if redisClient != nil {
		store = redisstore.NewSessionStore(redisClient, questions, clock, redisTTL)
	} else {
		store = memory.NewSessionStore(questions, clock)
	}

	handler := transport.NewStoreHandler(store, questions, logger.With().Str("component", "api").Logger())
	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      handler.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", finalPort).
			Bool("redis", redisClient != nil).
			Bool("postgres", pool != nil).
			Msg("starting session store")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("failed to start server")
		}
	}()

	waitForShutdown(ctx, logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func waitForShutdown(ctx context.Context, logger zerolog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case <-stop:
		logger.Info().Msg("shutting down...")
	case <-ctx.Done():
		logger.Info().Msg("context canceled, shutting down...")
	}
}

// sampleQuestions seeds the in-memory question source; configure postgres.url for real content.
func sampleQuestions() []domain.Question {
	return []domain.Question{
		{
			ID:           "q1",
			Prompt:       "What is 2 + 2?",
			Options:      [domain.OptionCount]string{"3", "4", "5", "22"},
			CorrectIndex: 1,
			TimeLimit:    20,
		},
		{
			ID:           "q2",
			Prompt:       "Which planet is known as the red planet?",
			Options:      [domain.OptionCount]string{"Venus", "Jupiter", "Mars", "Mercury"},
			CorrectIndex: 2,
			TimeLimit:    20,
		},
		{
			ID:           "q3",
			Prompt:       "How many sides does a hexagon have?",
			Options:      [domain.OptionCount]string{"5", "6", "7", "8"},
			CorrectIndex: 1,
			TimeLimit:    15,
		},
	}
}
