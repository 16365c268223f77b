// Heron - Risk evaluation and case management for compliance teams.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/heron/internal/alerts"
	"github.com/opensource-finance/heron/internal/api"
	"github.com/opensource-finance/heron/internal/audit"
	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/cache"
	"github.com/opensource-finance/heron/internal/cases"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/entity"
	"github.com/opensource-finance/heron/internal/evidence"
	"github.com/opensource-finance/heron/internal/metrics"
	"github.com/opensource-finance/heron/internal/repository"
	"github.com/opensource-finance/heron/internal/risk"
	"github.com/opensource-finance/heron/internal/rules"
	"github.com/opensource-finance/heron/internal/sar"
	"github.com/opensource-finance/heron/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("HERON_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting heron",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"actor_auth", authMode(cfg.Auth),
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Rule catalog: seed file first, then whatever the store holds
	catalog, err := rules.NewCatalog()
	if err != nil {
		slog.Error("failed to initialize rule catalog", "error", err)
		os.Exit(1)
	}
	if err := seedRules(ctx, repo, catalog, cfg.Rules.SeedFile); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule catalog initialized", "rules_count", catalog.Count())

	m := metrics.New()
	recorder := audit.NewRecorder(repo, busImpl)
	caseFlow := cases.NewWorkflow(repo, recorder, m)
	alertMgr := alerts.NewManager(repo, caseFlow, recorder, m)
	assessor := risk.NewService(risk.NewEvaluator(catalog), repo, recorder, m)
	builder := evidence.NewBuilder(repo, evidence.OptionsFromConfig(cfg.Risk))

	// Entity views are cached; local writes invalidate them synchronously and
	// the audit stream carries invalidations from other nodes
	assembler := entity.NewAssembler(repo, cacheImpl, cfg.Cache.ViewTTL)
	recorder.Observe(assembler.Observe)
	viewSub, err := assembler.Subscribe(ctx, busImpl)
	if err != nil {
		slog.Error("failed to subscribe view invalidation", "error", err)
		os.Exit(1)
	}
	defer viewSub.Unsubscribe()

	// Transaction monitor
	var monitor *worker.Worker
	if cfg.Risk.MonitorTransactions {
		monitor = worker.NewWorker(busImpl, repo, builder, catalog, assessor, alertMgr, worker.Config{
			AlertThreshold: cfg.Risk.AlertThreshold,
			Group:          cfg.EventBus.MonitorGroup,
		}).WithAudit(recorder)
		if err := monitor.Start(); err != nil {
			slog.Error("failed to start transaction monitor", "error", err)
			os.Exit(1)
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, cfg.Auth, api.Services{
		Repo:     repo,
		Cache:    cacheImpl,
		Bus:      busImpl,
		Audit:    recorder,
		Metrics:  m,
		Catalog:  catalog,
		Evidence: builder,
		Risk:     assessor,
		Alerts:   alertMgr,
		Cases:    caseFlow,
		SARs:     sar.NewWorkflow(repo, recorder, m),
		Entities: assembler,
	}, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("heron is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop the monitor first so no new alerts race the shutdown
	if monitor != nil {
		if err := monitor.Stop(); err != nil {
			slog.Error("failed to stop transaction monitor", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("heron shutdown complete")
}

func authMode(cfg domain.AuthConfig) string {
	if cfg.JWTSecret != "" {
		return "jwt"
	}
	return "headers"
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  HERON - risk evaluation and case workflow")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /subjects                     - Register a subject")
	fmt.Println("    POST /subjects/{id}/assessments    - Assess a subject")
	fmt.Println("    GET  /subjects/{id}/view           - Unified entity view")
	fmt.Println("    POST /transactions                 - Record a transaction")
	fmt.Println("    POST /transactions/{id}/flag       - Flag a transaction")
	fmt.Println("    POST /alerts/{id}/escalate         - Escalate an alert to a case")
	fmt.Println("    POST /cases/{id}/transition        - Move a case")
	fmt.Println("    POST /sars/{id}/actions            - Apply a SAR action")
	fmt.Println("    POST /rules/reload                 - Hot-reload rules from the store")
	fmt.Println("    GET  /health                       - Health check")
	fmt.Println("    GET  /metrics                      - Prometheus metrics")
	fmt.Println()
}
