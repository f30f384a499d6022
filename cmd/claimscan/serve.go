package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/claimscan/internal/api"
	"github.com/opensource-finance/claimscan/internal/bus"
	"github.com/opensource-finance/claimscan/internal/cache"
	"github.com/opensource-finance/claimscan/internal/config"
	"github.com/opensource-finance/claimscan/internal/domain"
	"github.com/opensource-finance/claimscan/internal/evaluator"
	"github.com/opensource-finance/claimscan/internal/refindex"
	"github.com/opensource-finance/claimscan/internal/repository"
	"github.com/opensource-finance/claimscan/internal/rules"
	"github.com/opensource-finance/claimscan/internal/service"
	"github.com/opensource-finance/claimscan/internal/velocity"
	"github.com/opensource-finance/claimscan/internal/worker"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the async evaluation worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			setupLogger(cfg.Logging)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *domain.Config) error {
	slog.Info("starting claimscan",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"edition", cfg.Edition,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	custom, err := rules.NewCustomEngine(cfg.Scoring.Weights)
	if err != nil {
		return fmt.Errorf("initialize custom rule engine: %w", err)
	}
	defer custom.Close()

	ev, err := evaluator.New(cfg.Scoring, custom)
	if err != nil {
		return fmt.Errorf("initialize evaluator: %w", err)
	}

	svc := service.New(service.Deps{
		Evaluator:     ev,
		Custom:        custom,
		Store:         refindex.NewStore(nil),
		Repo:          repo,
		Cache:         cacheImpl,
		Velocity:      velocity.NewService(repo, cacheImpl, cfg.Worker.VelocityWindow),
		Scoring:       cfg.Scoring,
		OutcomeTTL:    cfg.Cache.OutcomeTTL,
		ReferencePath: cfg.Reference.Path,
	})
	if err := svc.Bootstrap(ctx); err != nil {
		return err
	}

	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, svc, worker.Config{
			TenantIDs:   cfg.Worker.Tenants,
			Concurrency: cfg.Worker.Concurrency,
			AlertTier:   cfg.Worker.AlertTier,
		})
		if err := asyncWorker.Start(cfg.Worker.Tenants); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		}
	}

	srv := api.NewServer(cfg.Server, svc, cacheImpl, busImpl, Version)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("claimscan is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"reference_version", svc.Store().Current().Version(),
	)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-errCh:
		slog.Error("server failed", "error", err)
		if asyncWorker != nil {
			asyncWorker.Stop()
		}
		return err
	}

	// Stop async worker first so in-flight claims still have the repository
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("claimscan shutdown complete")
	return nil
}
