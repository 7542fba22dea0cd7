package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-kiosk/internal/auth"
	"github.com/stemsi/exstem-kiosk/internal/autosave"
	"github.com/stemsi/exstem-kiosk/internal/config"
	"github.com/stemsi/exstem-kiosk/internal/database"
	"github.com/stemsi/exstem-kiosk/internal/handler"
	"github.com/stemsi/exstem-kiosk/internal/integrity"
	"github.com/stemsi/exstem-kiosk/internal/localstore"
	"github.com/stemsi/exstem-kiosk/internal/logger"
	"github.com/stemsi/exstem-kiosk/internal/middleware"
	"github.com/stemsi/exstem-kiosk/internal/netstatus"
	"github.com/stemsi/exstem-kiosk/internal/proctor"
	"github.com/stemsi/exstem-kiosk/internal/repository"
	"github.com/stemsi/exstem-kiosk/internal/router"
	"github.com/stemsi/exstem-kiosk/internal/session"
	"github.com/stemsi/exstem-kiosk/internal/validator"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("local_store", cfg.LocalStore).
		Msg("Starting ExStem Kiosk")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis (local store or proctor feed) ────────────────
	var rdb *redis.Client
	if cfg.LocalStore == config.LocalStoreRedis || cfg.ProctorFeed {
		rdb, err = database.NewRedisClient(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
	}

	// ─── Open Local Storage ────────────────────────────────────────────
	local, closeLocal, err := localstore.Open(ctx, cfg, rdb, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open local storage")
	}
	defer closeLocal()

	// ─── Initialize Repositories ───────────────────────────────────────
	attemptRepo := repository.NewAttemptRepository(pool)
	examSource := repository.NewExamSource(
		repository.NewScheduleRepository(pool),
		repository.NewQuestionRepository(pool),
	)

	// ─── Network Signal & Offline Queue ────────────────────────────────
	clock := clockwork.NewRealClock()
	prober := netstatus.NewProber(pool, cfg.NetworkProbeEvery, clock, log)
	queue := autosave.NewOfflineQueue(local, log)

	// Replay device-wide on reconnect, even when no session is open.
	unsubscribe := prober.Subscribe(func(online bool) {
		if !online {
			return
		}
		go func() {
			replayCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			if _, err := queue.Replay(replayCtx, attemptRepo); err != nil && !errors.Is(err, autosave.ErrReplayInProgress) {
				log.Warn().Err(err).Msg("Offline queue replay incomplete")
			}
		}()
	})
	defer unsubscribe()
	prober.Start()
	defer prober.Stop()

	var publisher session.Publisher
	if cfg.ProctorFeed {
		publisher = proctor.NewPublisher(rdb, log)
	}

	// ─── Initialize Handlers ──────────────────────────────────────────
	deps := session.Deps{
		Store:     attemptRepo,
		Source:    examSource,
		Local:     local,
		Queue:     queue,
		Network:   prober,
		Publisher: publisher,
		Clock:     clock,
		Log:       log,
	}
	level, err := integrity.ParseLevel(cfg.IntegrityLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid integrity level")
	}
	opts := session.Options{
		Debounce:       cfg.AutosaveDebounce,
		MaxAttempts:    cfg.AutosaveMaxAttempts,
		RetryBase:      cfg.AutosaveRetryBase,
		ReplayEvery:    cfg.OfflineReplayEvery,
		KickPollEvery:  cfg.KickPollEvery,
		IntegrityLevel: level,
		MaxWarnings:    cfg.IntegrityMaxWarnings,
	}

	handlers := &router.KioskHandlers{
		Session: handler.NewSessionHandler(deps, opts, log, cfg.AllowedOrigins),
		Device:  handler.NewDeviceHandler(queue, attemptRepo, prober, log),
	}

	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.TokenTTL)
	limiter := middleware.NewRateLimiter(30, time.Minute, middleware.ByClaims, clock)
	go limiter.RunCleanup(ctx)

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupKioskRouter(verifier, handlers, limiter, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// Hijacked WebSockets are not tracked by Shutdown; their handlers flush what is
	// pending when the read loop ends, and the local backup covers the rest.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Int("queued", queue.Len()).Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
