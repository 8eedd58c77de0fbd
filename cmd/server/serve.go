package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"consent-manager/internal/platform/config"
	"consent-manager/internal/platform/httpserver"
	"consent-manager/internal/platform/kafka/consumer"
	"consent-manager/internal/platform/logger"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API, the notification dispatcher and the expiry scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx)
		},
	}
}

// setup loads config and builds the logger shared by every command.
func setup() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	log := logger.New(cfg.Log.Level)
	slog.SetDefault(log)
	return cfg, log, nil
}

func runServer(ctx context.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Error("failed to start", "error", err)
		return err
	}
	defer a.Close()

	srv := httpserver.New(cfg.Server.Addr, a.handler)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting consent-manager", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		log.Info("http server stopped")
		return nil
	})
	g.Go(func() error {
		return a.scheduler.Run(ctx)
	})
	g.Go(func() error {
		if a.loopback != nil {
			return a.loopback.Run(ctx)
		}
		c, err := consumer.New(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, a.topics.Topics(), a.topics,
			consumer.WithLogger(log),
		)
		if err != nil {
			return err
		}
		log.Info("notification dispatcher consuming", "topics", a.topics.Topics())
		return c.Run(ctx)
	})

	return g.Wait()
}
