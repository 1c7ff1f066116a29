package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Rrens/langly/internal/chatapi"
	"github.com/Rrens/langly/internal/config"
	"github.com/Rrens/langly/internal/credential"
	"github.com/Rrens/langly/internal/logging"
)

var (
	verbose    bool
	configPath string
)

// app holds what every command needs once flags are parsed
type app struct {
	cfg    *config.Config
	log    zerolog.Logger
	logs   io.Closer
	creds  *credential.Store
	client *chatapi.Client
}

var current *app

var rootCmd = &cobra.Command{
	Use:   "langly-chat",
	Short: "Chat with the Langly assistant from the terminal",
	Long: `A terminal client for the Langly assistant.

Messages stream over the socket with the assistant's reasoning and tool
calls shown as they arrive. Finished exchanges are saved to the server.

Quick Start:
  langly-chat login                  # Store a token
  langly-chat send "what time is it?" # Ask in the newest session
  langly-chat sessions               # List sessions`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		var (
			cfg *config.Config
			err error
		)
		if configPath != "" {
			cfg, err = config.LoadFile(configPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return err
		}

		logger, logs, err := logging.Setup(cfg.Logging, false)
		if err != nil {
			return err
		}
		if verbose {
			logger = logger.Level(zerolog.DebugLevel)
		}

		tokenFile := cfg.Client.TokenFile
		if tokenFile == "" {
			if home, err := os.UserHomeDir(); err == nil {
				tokenFile = filepath.Join(home, ".langly", "token")
			}
		}
		creds, err := credential.NewStore(cfg.Client.Token, tokenFile)
		if err != nil {
			_ = logs.Close()
			return err
		}

		current = &app{
			cfg:   cfg,
			log:   logger,
			logs:  logs,
			creds: creds,
			client: chatapi.New(cfg.Client.BaseURL, creds,
				chatapi.WithTimeout(cfg.Client.RequestTimeout),
				chatapi.WithLogger(logger),
			),
		}
		return nil
	},
}

// Execute runs the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if current != nil {
		_ = current.logs.Close()
	}
	if err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		}
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default $CONFIG_PATH or ./configs/config.yaml)")
}

func parseSessionID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid session id: %q", arg)
	}
	return id, nil
}
