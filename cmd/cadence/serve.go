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
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/cadence/internal/api"
	"github.com/opensource-finance/cadence/internal/bus"
	"github.com/opensource-finance/cadence/internal/cache"
	"github.com/opensource-finance/cadence/internal/config"
	"github.com/opensource-finance/cadence/internal/domain"
	"github.com/opensource-finance/cadence/internal/policy"
	"github.com/opensource-finance/cadence/internal/profile"
	"github.com/opensource-finance/cadence/internal/repository"
	"github.com/opensource-finance/cadence/internal/verifier"
	"github.com/opensource-finance/cadence/internal/worker"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func serve(cfg *domain.Config) error {
	slog.Info("starting cadence",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	if cacheImpl != nil {
		defer cacheImpl.Close()
	}
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	if busImpl != nil {
		defer busImpl.Close()
	}
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	pol, err := policy.New(cfg.Policy)
	if err != nil {
		return fmt.Errorf("failed to compile policy: %w", err)
	}

	v := verifier.New(repo, profile.ParamsFromConfig(cfg.Model),
		verifier.WithCache(cacheImpl, cfg.Cache.ProfileTTL),
		verifier.WithTrace(debugTrace),
	)
	svc := verifier.NewService(v, repo, pol, busImpl)

	deps := api.Deps{
		Service: svc,
		Store:   repo,
		Cache:   cacheImpl,
		Bus:     busImpl,
	}

	var asyncWorker *worker.Worker
	if busImpl != nil {
		asyncWorker = worker.NewWorker(busImpl, svc)
		if err := asyncWorker.Start(cfg.Worker); err != nil {
			return fmt.Errorf("failed to start async worker: %w", err)
		}
		deps.Tracker = asyncWorker
		slog.Info("async worker started", "tenant_count", len(cfg.Worker.Tenants))
	}

	if err := config.Watch(cfgFile, func(next *domain.Config) {
		if err := pol.Reload(next.Policy); err != nil {
			slog.Error("policy reload rejected", "error", err)
			return
		}
		slog.Info("policy reloaded from configuration")
	}); err != nil {
		slog.Debug("configuration watch disabled", "reason", err)
	}

	srv := api.NewServer(cfg.Server, deps, Version)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("cadence is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"default_tenant", cfg.Server.DefaultTenant,
	)
	printBanner(cfg, Version)

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("received shutdown signal")
	case serveErr = <-errCh:
		slog.Error("server failed", "error", serveErr)
	}
	slog.Info("shutting down...")

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

	slog.Info("cadence shutdown complete")
	return serveErr
}

func debugTrace(ctx context.Context, t verifier.Trace) {
	slog.DebugContext(ctx, "verification trace",
		"tenant_id", t.TenantID,
		"account_id", t.AccountID,
		"outcome", t.Outcome,
		"threshold", t.Threshold,
		"distance", t.ObservedDistance,
		"confidence", t.Confidence,
	)
}

func printBanner(cfg *domain.Config, version string) {
	out := os.Stdout
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  CADENCE  keystroke dynamics authentication")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Version:  %s\n", version)
	fmt.Fprintf(out, "  Tier:     %s\n", cfg.Tier)
	fmt.Fprintf(out, "  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Endpoints:")
	fmt.Fprintln(out, "    POST /accounts/{id}/samples  - Submit a sample (?async=true to queue)")
	fmt.Fprintln(out, "    POST /accounts/{id}/verify   - Verify a login attempt")
	fmt.Fprintln(out, "    POST /accounts/{id}/enroll   - Store a sample without scoring")
	fmt.Fprintln(out, "    GET  /accounts/{id}/profile  - Inspect the account profile")
	fmt.Fprintln(out, "    GET  /verifications/{id}     - Get a recorded decision")
	fmt.Fprintln(out, "    GET  /policy, PUT /policy    - Read or replace decision expressions")
	fmt.Fprintln(out, "    POST /addData, POST /predict - Capture page endpoints")
	fmt.Fprintln(out, "    GET  /health, GET /ready     - Health checks")
	fmt.Fprintln(out)
}
