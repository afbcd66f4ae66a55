package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wenwu/saas-platform/statement-portal/internal/config"
	"github.com/wenwu/saas-platform/statement-portal/internal/http"
	"github.com/wenwu/saas-platform/statement-portal/internal/logger"
	"github.com/wenwu/saas-platform/statement-portal/internal/metrics"
	"github.com/wenwu/saas-platform/statement-portal/internal/portal"
	"github.com/wenwu/saas-platform/statement-portal/internal/storage"
	"github.com/wenwu/saas-platform/statement-portal/internal/tracer"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log := logger.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	log.Info("starting statement portal",
		zap.String("backend", cfg.Backend.URL),
		zap.String("storage", cfg.Storage.Driver),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer := tracer.Init(cfg.Tracing, log)

	// Initialize storage
	store, closeStore, err := storage.Open(ctx, cfg.Storage, cfg.Session.IdleTTL*12, log)
	if err != nil {
		log.Fatal("failed to open storage", zap.Error(err))
	}
	defer closeStore()

	m := metrics.New()
	registry := portal.NewRegistry(ctx, cfg, store, m, log)

	// Initialize HTTP server
	server := http.NewServer(cfg, store, registry, m, log)

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("port", cfg.Server.Port))
		errCh <- server.Run()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Error("server failed", zap.Error(err))
		}
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}
	registry.Close()
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Warn("tracer shutdown failed", zap.Error(err))
	}

	log.Info("server exited")
}
