package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/meikuraledutech/chatrelay"
	"github.com/meikuraledutech/chatrelay/conversation"
	"github.com/meikuraledutech/chatrelay/httpapi"
	"github.com/meikuraledutech/chatrelay/postgres"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP chat endpoint",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().String("addr", "", "Listen address (default :3000)")
	cmd.Flags().String("mode", "", "session or stateless")
	cmd.Flags().String("provider", "", "Completion provider: openai or gemini")
	cmd.Flags().String("model", "", "Model ID sent to the provider")
	cmd.Flags().Int("history-limit", 0, "Max turns replayed to the provider (0 = all)")
	cmd.Flags().Bool("request-log", false, "Record completion calls in the store")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	logger.WithField("config", fmt.Sprintf("%+v", cfg.Redacted())).Debug("config loaded")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if pg, ok := store.(*postgres.PGStore); ok {
		applied, err := pg.Migrate(ctx)
		if err != nil {
			return err
		}
		for _, name := range applied {
			logger.WithField("migration", name).Info("migration applied")
		}
	}

	completer, err := newCompleter(cfg)
	if err != nil {
		return err
	}

	svc := conversation.New(store, completer, conversation.OptionsFromConfig(cfg), logger)
	if cfg.RequestLog {
		if logs, ok := store.(chatrelay.RequestLogStore); ok {
			svc.WithRequestLog(logs)
		} else {
			logger.WithField("store", cfg.Store).Warn("store does not support request logs")
		}
	}

	if logger.IsLevelEnabled(logrus.DebugLevel) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.New(svc, store, cfg.Mode, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithFields(logrus.Fields{
			"addr":     cfg.Addr,
			"mode":     cfg.Mode,
			"store":    cfg.Store,
			"provider": cfg.Provider,
			"model":    cfg.Model,
		}).Info("chatrelay listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
