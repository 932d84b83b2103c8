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

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/p-buglewicz/photo-lens/internal/config"
	"github.com/p-buglewicz/photo-lens/internal/events"
	"github.com/p-buglewicz/photo-lens/internal/httpx"
	"github.com/p-buglewicz/photo-lens/internal/ingest"
	"github.com/p-buglewicz/photo-lens/internal/photo"
)

func main() {
	cfg := config.Load()

	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() {
		_ = cleanup()
	}()
	slog.SetDefault(logger)

	dbPool := mustOpenDB(cfg.DatabaseDSN, logger)
	defer dbPool.Close()

	broker := events.NewBroker()
	batchRepo := ingest.NewPostgresRepo(dbPool)
	photoRepo := photo.NewPostgresRepo(dbPool)
	worker := ingest.NewWorker(batchRepo, photoRepo, broker, logger)
	service := ingest.NewService(batchRepo, worker, ingest.NewTakeoutSourceFactory(logger), cfg.TakeoutPath, logger)

	ingestHandler := ingest.NewHTTPHandler(service)
	progressHandler := ingest.NewProgressHandler(broker, logger)

	router := http.NewServeMux()

	router.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := dbPool.Ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	router.HandleFunc("POST /ingest/start", ingestHandler.Start)
	router.HandleFunc("GET /ingest/status", ingestHandler.Status)
	router.HandleFunc("/ingest/config", ingestHandler.Config)
	router.HandleFunc("GET /ws/ingest/progress", progressHandler.Progress)

	allowedOrigins := []string{"http://localhost:5173", "http://localhost:3000"}
	handler := httpx.Chain(router,
		httpx.RequestIDMiddleware,
		httpx.RecoveryMiddleware(logger),
		httpx.AccessLogMiddleware(logger),
		httpx.CORSMiddleware(allowedOrigins),
	)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: handler,
		// No global read/write timeouts: /ws/ingest/progress holds a
		// long-lived connection.
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting server", "addr", cfg.Addr, "environment", cfg.Environment)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func mustOpenDB(dsn string, logger *slog.Logger) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		logger.Error("failed to create db pool", "error", err)
		os.Exit(1)
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	return pool
}
