package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/sentinel/internal/api"
	"github.com/gyaneshwarpardhi/sentinel/internal/engine"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP ingestion service with the periodic sweep",
		Long: `Run the HTTP ingestion service. The correlation sweep and state pruning
run on sweep.interval, and the rule catalog is hot-reloaded when its file
changes.

Examples:
  sentinel serve --config configs/sentinel.yaml
  SENTINEL_HTTP_ADDR=:9090 sentinel serve`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	// ── Hot-reload watcher ────────────────────────────────────────────────────
	stopWatch, err := a.loader.Watch()
	if err != nil {
		logger.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── Sweeper ───────────────────────────────────────────────────────────────
	sweeper := engine.NewSweeper(a.engine, a.settings.Sweep.Interval, logger)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:         a.settings.HTTP.Addr,
		Handler:      api.New(a.engine, a.loader, logger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	errC := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errC <- err
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
	case err := <-errC:
		return err
	}
	logger.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	logger.Info("goodbye")
	return nil
}
