package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-kiosk/internal/auth"
	"github.com/stemsi/exstem-kiosk/internal/config"
	"github.com/stemsi/exstem-kiosk/internal/database"
	"github.com/stemsi/exstem-kiosk/internal/handler"
	"github.com/stemsi/exstem-kiosk/internal/logger"
	"github.com/stemsi/exstem-kiosk/internal/middleware"
	"github.com/stemsi/exstem-kiosk/internal/proctor"
	"github.com/stemsi/exstem-kiosk/internal/repository"
	"github.com/stemsi/exstem-kiosk/internal/router"
	"github.com/stemsi/exstem-kiosk/internal/validator"
	"github.com/stemsi/exstem-kiosk/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ProctorPort).
		Msg("Starting ExStem violation worker and proctor API")

	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	attemptRepo := repository.NewAttemptRepository(pool)
	violationRepo := repository.NewViolationRepository(pool)

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	violationWorker := worker.NewViolationWorker(violationRepo, rdb, log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		violationWorker.Start(workerCtx)
	}()

	// ─── Setup Router ──────────────────────────────────────────────────
	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.TokenTTL)
	limiter := middleware.NewRateLimiter(20, time.Minute, middleware.ByClaims, nil)
	go limiter.RunCleanup(workerCtx)

	handlers := &router.ProctorHandlers{
		Proctor: handler.NewProctorHandler(rdb, attemptRepo, violationRepo, proctor.NewPublisher(rdb, log), log),
	}
	r := router.SetupProctorRouter(verifier, handlers, limiter, cfg)

	srv := &http.Server{
		Addr:    ":" + cfg.ProctorPort,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", ":"+cfg.ProctorPort).Msg("Proctor API listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the worker and wait for its buffer to drain.
	workerCancel()
	wg.Wait()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
