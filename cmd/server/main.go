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

	"github.com/AdamBeresnev/bracket-engine/internal/cache"
	"github.com/AdamBeresnev/bracket-engine/internal/config"
	"github.com/AdamBeresnev/bracket-engine/internal/db"
	"github.com/AdamBeresnev/bracket-engine/internal/health"
	"github.com/AdamBeresnev/bracket-engine/internal/logging"
	"github.com/AdamBeresnev/bracket-engine/internal/service"
	"github.com/AdamBeresnev/bracket-engine/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.LogLevel, cfg.LogNoColor)

	if err := run(cfg); err != nil {
		slog.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.RunMigrations(database); err != nil {
		return err
	}

	monitor := health.NewMonitor(db.Probe(database, cfg.AcquireTimeout()), cfg.HealthCheckInterval())
	exec := db.NewExecutor(database, monitor, db.PolicyFromConfig(cfg))

	var opts []service.Option
	if cfg.RedisURL != "" {
		snapshots, err := cache.Connect(ctx, cfg.RedisURL, cfg.BracketCacheTTL)
		if err != nil {
			// Reads still work without the cache, they just cannot survive an outage
			slog.Warn("Bracket cache disabled", "error", err)
		} else {
			defer snapshots.Close()
			opts = append(opts, service.WithSnapshots(snapshots))
			slog.Info("Bracket cache enabled", "ttl", cfg.BracketCacheTTL)
		}
	}

	tournamentStore := store.NewTournamentStore()
	a := &api{
		tournaments: service.NewTournamentService(exec, tournamentStore, opts...),
		matches:     service.NewMatchService(exec, tournamentStore, opts...),
		monitor:     monitor,
	}

	monitor.Start()
	defer monitor.Stop()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server starting", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
