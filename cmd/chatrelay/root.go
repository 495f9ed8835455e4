package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/meikuraledutech/chatrelay"
	"github.com/meikuraledutech/chatrelay/gemini"
	"github.com/meikuraledutech/chatrelay/memory"
	"github.com/meikuraledutech/chatrelay/openai"
	"github.com/meikuraledutech/chatrelay/postgres"
	"github.com/meikuraledutech/chatrelay/sqlite"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "chatrelay",
		Short: "Session-aware chat relay in front of an LLM completion API",
		Long: `chatrelay accepts a user message tagged with a session ID, replays the
session's history to a completion provider behind a fixed system prompt,
and persists the user and assistant turns together.

Configuration is read from defaults, an optional YAML file (--config),
environment variables and flags, in that order.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "Path to a YAML config file")
	flags.String("store", "", "Store backend: memory, postgres or sqlite")
	flags.String("database-url", "", "PostgreSQL connection string")
	flags.String("sqlite-path", "", "SQLite database file")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.String("log-format", "", "Log format: text or json")

	root.AddCommand(newServeCmd(), newMigrateCmd(), newHistoryCmd(), newSessionsCmd())
	return root
}

// loadConfig reads the config file and environment, then applies any flag
// the user set explicitly.
func loadConfig(cmd *cobra.Command) (chatrelay.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := chatrelay.LoadConfig(path)
	if err != nil {
		return chatrelay.Config{}, err
	}
	if err := applyFlags(cmd, &cfg); err != nil {
		return chatrelay.Config{}, err
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *chatrelay.Config) error {
	strs := map[string]*string{
		"store":        &cfg.Store,
		"database-url": &cfg.DatabaseURL,
		"sqlite-path":  &cfg.SQLitePath,
		"log-level":    &cfg.LogLevel,
		"log-format":   &cfg.LogFormat,
		"addr":         &cfg.Addr,
		"mode":         &cfg.Mode,
		"provider":     &cfg.Provider,
		"model":        &cfg.Model,
	}
	for name, dst := range strs {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		*dst = f.Value.String()
	}

	if f := cmd.Flags().Lookup("history-limit"); f != nil && f.Changed {
		n, err := cmd.Flags().GetInt("history-limit")
		if err != nil {
			return err
		}
		cfg.HistoryLimit = n
	}
	if f := cmd.Flags().Lookup("request-log"); f != nil && f.Changed {
		v, err := cmd.Flags().GetBool("request-log")
		if err != nil {
			return err
		}
		cfg.RequestLog = v
	}
	return nil
}

func newLogger(cfg chatrelay.Config) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	logger := logrus.New()
	logger.Out = os.Stderr
	logger.SetLevel(level)
	switch strings.ToLower(cfg.LogFormat) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.LogFormat)
	}
	return logger, nil
}

func openStore(ctx context.Context, cfg chatrelay.Config) (chatrelay.Store, error) {
	switch cfg.Store {
	case chatrelay.BackendMemory:
		return memory.New(), nil
	case chatrelay.BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when store=%s", cfg.Store)
		}
		pg, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case chatrelay.BackendSQLite:
		if cfg.SQLitePath == "" {
			return nil, fmt.Errorf("SQLITE_PATH is required when store=%s", cfg.Store)
		}
		doc, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return doc, nil
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}

func newCompleter(cfg chatrelay.Config) (chatrelay.Completer, error) {
	switch cfg.Provider {
	case chatrelay.ProviderOpenAI:
		return openai.New(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL), nil
	case chatrelay.ProviderGemini:
		return gemini.New(cfg.GeminiAPIKey, cfg.GeminiBaseURL), nil
	}
	return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
}
