// Kestrel - Credit risk assessment for microfinance lenders.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

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

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/assessment"
	"github.com/opensource-finance/kestrel/internal/auth"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/telemetry"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging, os.Getenv("KESTREL_DEBUG") == "true"))

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"model", cfg.Model.ArtifactPath,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing, Version)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Error("failed to flush traces", "error", err)
		}
	}()

	var metrics *telemetry.Metrics
	if cfg.Metrics.Enabled {
		metrics = telemetry.NewMetrics()
	}

	// The service cannot answer without a model.
	bundle, err := model.LoadFile(cfg.Model.ArtifactPath)
	if err != nil {
		slog.Error("failed to load model bundle", "path", cfg.Model.ArtifactPath, "error", err)
		os.Exit(1)
	}
	slog.Info("model bundle loaded",
		"version", bundle.Version(),
		"classifier", bundle.Classifier().Kind(),
	)

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type, "score_ttl", cfg.Cache.ScoreTTL)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	engine, err := rules.NewEngine(rules.BuiltinRules(), cfg.Model.RuleWorkers)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	processor := decision.NewProcessor(cfg.Model.OverrideThreshold)
	slog.Info("decision processor initialized", "override_threshold", processor.OverrideThreshold)

	assessor := assessment.NewAssessor(bundle, engine, processor, cacheImpl, cfg.Cache.ScoreTTL)

	users, err := auth.NewService(repo, 0)
	if err != nil {
		slog.Error("failed to initialize user service", "error", err)
		os.Exit(1)
	}

	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, assessor, assessment.NewRecorder(repo, busImpl).WithMetrics(metrics))
		if err := asyncWorker.Start(worker.Config{TenantIDs: cfg.Worker.TenantIDs}); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		} else {
			slog.Info("async worker started", "tenant_count", len(cfg.Worker.TenantIDs))
		}
	}

	opts := api.Options{RateLimit: cfg.RateLimit, Metrics: metrics}
	if cfg.Auth.Enabled {
		opts.Users = users
	}

	handler := api.NewHandler(assessor, repo, cacheImpl, busImpl, users, Version)
	srv := api.NewServer(cfg.Server, handler, opts)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"auth", cfg.Auth.Enabled,
		"rate_limit", cfg.RateLimit.Enabled,
		"metrics", cfg.Metrics.Enabled,
		"tracing", cfg.Tracing.Enabled,
	)

	printBanner(cfg, Version, bundle.Version())

	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

func printBanner(cfg *domain.Config, version, modelVersion string) {
	fmt.Println()
	fmt.Println("  +-------------------------------------------+")
	fmt.Println("  |                 KESTREL                   |")
	fmt.Println("  |      Microfinance Credit Risk Engine      |")
	fmt.Println("  +-------------------------------------------+")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Model:    %s\n", modelVersion)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /assessments        - Assess a loan application")
	fmt.Println("    GET  /assessments        - List assessments")
	fmt.Println("    GET  /assessments/{id}   - Get assessment by ID")
	fmt.Println("    GET  /rules              - List credit rules")
	fmt.Println("    GET  /model              - Model bundle info")
	fmt.Println("    GET  /portfolio/summary  - Portfolio dashboard data")
	fmt.Println("    GET  /borrowers          - List tracked borrowers")
	fmt.Println("    POST /borrowers          - Track a borrower")
	fmt.Println("    POST /users              - Register a credit officer")
	fmt.Println("    GET  /health             - Health check")
	if cfg.Metrics.Enabled {
		fmt.Println("    GET  /metrics            - Prometheus metrics")
	}
	fmt.Println()
}
