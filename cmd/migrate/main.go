package main

import (
	"flag"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/langly/internal/config"
	"github.com/Rrens/langly/internal/repository/postgres"
)

func main() {
	source := flag.String("source", "file://migrations", "migration source URL")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	if cfg.Database.Driver != "postgres" {
		log.Info().Str("driver", cfg.Database.Driver).Msg("Schema is created on startup for this driver; nothing to migrate")
		return
	}

	log.Info().Str("host", cfg.Database.Host).Int("port", cfg.Database.Port).Msg("Connecting to database")

	if err := postgres.RunMigrations(cfg.Database.DSN(), *source); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}
