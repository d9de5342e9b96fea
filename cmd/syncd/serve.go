package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-sync-engine/logging"
	"github.com/c0deZ3R0/go-sync-engine/storage/sqlite"
	"github.com/c0deZ3R0/go-sync-engine/syncengine"
	"github.com/c0deZ3R0/go-sync-engine/transport/httptransport"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func loadConfig(opts *rootOptions) (syncengine.Config, error) {
	if opts.ConfigPath == "" {
		return syncengine.DefaultEngineConfig(), nil
	}
	return syncengine.LoadConfig(opts.ConfigPath)
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger := logging.Default().WithComponent("syncd")

	store, err := sqlite.New(sqlite.DefaultConfig(cfg.DatabasePath))
	if err != nil {
		return err
	}

	service := syncengine.New(store, store, store,
		syncengine.WithBatchSize(cfg.BatchSize),
		syncengine.WithRetryPolicy(cfg.Retry.Policy()),
		syncengine.WithAutoDrainInterval(cfg.AutoDrainInterval()),
	)
	defer service.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.AutoDrainInterval() > 0 {
		if err := service.StartAutoDrain(ctx); err != nil {
			return err
		}
		logger.Info("auto drain enabled", slog.Duration("interval", cfg.AutoDrainInterval()))
	}

	serverOpts := httptransport.DefaultServerOptions()
	serverOpts.RateLimitPerSecond = cfg.RateLimitPerSecond
	handler := httptransport.NewHandler(service, serverOpts, logging.Default())

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
