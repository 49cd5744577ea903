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

	"github.com/JonMunkholm/dropload/internal/watcher"
	"github.com/JonMunkholm/dropload/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Watch the drop folder and serve the control API",
	Long: `serve polls WATCH_DROP_DIR and loads every CSV file once it has stopped
changing, and serves the HTTP control API on SERVER_HOST:SERVER_PORT.
Either half can be turned off with WATCH_ENABLED or SERVER_ENABLED.

On SIGINT or SIGTERM the API stops accepting requests and running loads are
given SERVER_SHUTDOWN_TIMEOUT to finish.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(os.Stdout, "")
	if err != nil {
		return err
	}
	if !cfg.Watcher.Enabled && !cfg.Server.Enabled {
		return errors.New("nothing to run: WATCH_ENABLED and SERVER_ENABLED are both false")
	}
	slog.Info("configuration loaded", "config", cfg.String())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := os.MkdirAll(cfg.Watcher.DropDir, 0o755); err != nil {
		return fmt.Errorf("drop directory: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Watcher.Enabled {
		w := watcher.New(a.jobs, watcher.Options{
			DropDir:     cfg.Watcher.DropDir,
			Interval:    cfg.Watcher.PollInterval,
			Threshold:   cfg.Watcher.StabilityThreshold,
			IdleHorizon: cfg.Watcher.IdleHorizon,
			SampleBytes: cfg.Loader.SampleBytes,
		})
		g.Go(func() error { return w.Run(gctx) })
	}

	var srv *web.Server
	if cfg.Server.Enabled {
		opts := web.Options{
			Config:      cfg.Server,
			DropDir:     cfg.Watcher.DropDir,
			SampleBytes: cfg.Loader.SampleBytes,
			DB:          a.db,
		}
		if a.catalog != nil {
			opts.Tables = a.catalog
		}
		srv = web.NewServer(a.jobs, opts)
		g.Go(func() error {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if srv != nil {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("shutdown error", "error", err)
			}
		}

		// Wait for active loads to complete (with timeout)
		if st := a.jobs.Status(); st.Active > 0 {
			slog.Info("waiting for loads to complete", "active", st.Active)
			if err := a.jobs.Wait(shutdownCtx); err != nil {
				slog.Warn("loads did not complete in time", "error", err)
			} else {
				slog.Info("all loads completed")
			}
		}
		return nil
	})

	return g.Wait()
}
