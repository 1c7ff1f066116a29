package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Rrens/langly/internal/api"
	"github.com/Rrens/langly/internal/config"
	"github.com/Rrens/langly/internal/logging"
	"github.com/Rrens/langly/internal/repository/postgres"
	"github.com/Rrens/langly/internal/repository/redis"
	"github.com/Rrens/langly/internal/repository/sqlstore"
)

func main() {
	// Load .env file - try multiple locations
	for _, p := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(p); err == nil {
			fmt.Printf("Loaded .env from: %s\n", p)
			break
		}
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logger
	logger, logCloser, err := logging.Setup(cfg.Logging, os.Getenv("ENV") == "production")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up logging")
	}
	defer logCloser.Close()
	log.Logger = logger

	log.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("database", cfg.Database.Driver).
		Msg("Starting Langly chat server")

	ctx := context.Background()

	// Initialize database
	deps, dbCloser, err := openStorage(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbCloser.Close()

	// Initialize Redis
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()
		deps.Redis = redisClient
	}

	// Initialize router
	router, err := api.NewRouter(cfg, deps)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build router")
	}

	// Create HTTP server. WriteTimeout stays zero: the socket route holds
	// connections open for the whole conversation.
	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		log.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		return
	}
	log.Info().Msg("Server stopped")
}

// openStorage connects the configured chat store
func openStorage(ctx context.Context, cfg config.DatabaseConfig) (api.Dependencies, io.Closer, error) {
	switch cfg.Driver {
	case "postgres":
		db, err := postgres.NewDB(ctx, cfg)
		if err != nil {
			return api.Dependencies{}, nil, err
		}
		return api.Dependencies{
			Sessions: postgres.NewSessionRepository(db),
			Messages: postgres.NewMessageRepository(db),
			DB:       db,
		}, db, nil
	default:
		db, err := sqlstore.Open(ctx, cfg.Driver, cfg.DSN())
		if err != nil {
			return api.Dependencies{}, nil, err
		}
		return api.Dependencies{
			Sessions: sqlstore.NewSessionRepository(db),
			Messages: sqlstore.NewMessageRepository(db),
			DB:       db,
		}, db, nil
	}
}
