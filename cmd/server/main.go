package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stemsi/hourglass/internal/cache"
	"github.com/stemsi/hourglass/internal/config"
	"github.com/stemsi/hourglass/internal/database"
	"github.com/stemsi/hourglass/internal/handler"
	"github.com/stemsi/hourglass/internal/logger"
	"github.com/stemsi/hourglass/internal/repository"
	"github.com/stemsi/hourglass/internal/router"
	"github.com/stemsi/hourglass/internal/service"
	"github.com/stemsi/hourglass/internal/validator"
	"github.com/stemsi/hourglass/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting Hourglass")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	examRepo := repository.NewExamRepository(pool)
	registrationRepo := repository.NewRegistrationRepository(pool)
	snapshotRepo := repository.NewSnapshotRepository(pool)
	anomalyRepo := repository.NewAnomalyRepository(pool)
	messageRepo := repository.NewMessageRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	hot := cache.NewStore(rdb, cfg.ContentCacheTTL)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg.JWTSecret, cfg.JWTExpiry)
	takeService := service.NewTakeService(examRepo, registrationRepo, snapshotRepo, anomalyRepo, messageRepo, questionRepo, hot, log)
	proctorService := service.NewProctorService(examRepo, registrationRepo, anomalyRepo, messageRepo, questionRepo, hot, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Take:    handler.NewTakeHandler(takeService),
		Proctor: handler.NewProctorHandler(proctorService),
		Push:    handler.NewPushHandler(takeService, log, cfg.AllowedOrigins),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	finalizer, err := worker.NewFinalizer(cfg.FinalizeCron, proctorService, log)
	if err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.FinalizeCron).Msg("Invalid finalize schedule")
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers errgroup.Group
	for _, start := range []func(context.Context){
		worker.NewSnapshotWorker(snapshotRepo, rdb, log).Start,
		worker.NewAnomalyWorker(pool, rdb, log, cfg.AnomalyBatchSize).Start,
		finalizer.Start,
	} {
		start := start
		workers.Go(func() error {
			start(workerCtx)
			return nil
		})
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout). Push channels are
	// hijacked connections, so cancelling ctx is what ends them.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	cancel()

	// 2. Stop background workers and wait for queues to drain.
	workerCancel()
	_ = workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
