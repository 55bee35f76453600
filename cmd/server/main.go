package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"b2brecon/internal/adapters/badgercache"
	"b2brecon/internal/adapters/checko"
	httpadapter "b2brecon/internal/adapters/http"
	pg "b2brecon/internal/adapters/postgres"
	"b2brecon/internal/config"
	"b2brecon/internal/extract"
	"b2brecon/internal/logging"
	"b2brecon/internal/metrics"
	"b2brecon/internal/ports"
	"b2brecon/internal/services/enrichment"
	"b2brecon/internal/services/learning"
	"b2brecon/internal/services/reconcile"
	"b2brecon/internal/services/registry"
	"b2brecon/internal/services/runs"
	"b2brecon/internal/workers/enrichrunner"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("warning: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required for Postgres adapters")
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	metrics.Init()
	go func() {
		if err := metrics.Serve(cfg.MetricsAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}

	jobCache, err := badgercache.Open(cfg.JobCacheDir, cfg.JobCacheTTL, logger.Named("jobcache"))
	if err != nil {
		logger.Fatal("job cache", zap.String("dir", cfg.JobCacheDir), zap.Error(err))
	}
	defer jobCache.Close()

	var lookup ports.CompanyLookup
	if len(cfg.CheckoAPIKeys) > 0 {
		lookup = checko.New(cfg.CheckoBaseURL, cfg.CheckoAPIKeys, logger.Named("checko"))
	} else {
		logger.Warn("CHECKO_API_KEYS not set; suppliers are created without company metadata")
	}

	loader := registry.NewLoader(db, cfg.RegistryPageSize)
	supplierCache := registry.NewCache(loader, cfg.SupplierCacheTTL)
	blacklist := registry.NewBlacklister(db, logger.Named("registry"))

	orch := enrichment.New(db, supplierCache, jobCache, enrichment.Options{
		PollInterval: cfg.PollInterval,
		MaxIdle:      cfg.PollMaxIdle,
		MaxNotFound:  cfg.PollMaxNotFound,
	}, logger.Named("enrichment"))
	engine := reconcile.New(db, lookup, supplierCache, reconcile.Options{
		PageSize:       cfg.RegistryPageSize,
		CreateInterval: cfg.PromoteInterval,
	}, logger.Named("reconcile"))
	learner := learning.New(db, db, cfg.LearningDedupe, logger.Named("learning"))

	// Subscriptions outlive requests; they stop with the process context.
	runSvc := runs.New(ctx, db, supplierCache, orch, engine, jobCache, logger.Named("runs"))
	if _, err := runSvc.ResumeAll(ctx); err != nil {
		logger.Warn("resume runs", zap.Error(err))
	}

	if cfg.EnrichWorkers > 0 {
		if n, err := db.RequeueStale(ctx, cfg.EnrichStaleAfter); err != nil {
			logger.Warn("requeue stale jobs", zap.Error(err))
		} else if n > 0 {
			logger.Info("stale jobs requeued", zap.Int64("jobs", n))
		}
		extractor := extract.New(db, extract.Options{
			Timeout:  cfg.ExtractTimeout,
			MaxPages: cfg.ExtractMaxPages,
		}, logger.Named("extract"))
		enrichrunner.Run(ctx, db, extractor, cfg.EnrichWorkers, cfg.EnrichClaimInterval, logger.Named("enrichrunner"))
		logger.Info("enrichment workers started", zap.Int("workers", cfg.EnrichWorkers))
	}

	srv := httpadapter.New(runSvc, learner, blacklist, logger.Named("http"))
	r := chi.NewRouter()
	r.Mount("/", srv.Routes())
	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	logger.Info("listening", zap.String("addr", cfg.ListenAddr), zap.String("env", cfg.Env))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
		}
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	cancel()
	runSvc.Wait()
}
