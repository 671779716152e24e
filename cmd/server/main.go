package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-tutor/internal/config"
	"github.com/stemsi/exstem-tutor/internal/handler"
	"github.com/stemsi/exstem-tutor/internal/logger"
	"github.com/stemsi/exstem-tutor/internal/metrics"
	"github.com/stemsi/exstem-tutor/internal/middleware"
	"github.com/stemsi/exstem-tutor/internal/router"
	"github.com/stemsi/exstem-tutor/internal/scoring"
	"github.com/stemsi/exstem-tutor/internal/session"
	"github.com/stemsi/exstem-tutor/internal/validator"
	"github.com/stemsi/exstem-tutor/internal/worker"
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
		Str("scoring_url", cfg.ScoringBaseURL).
		Msg("Starting ExStem Tutor")

	// ─── Initialize Validator & Metrics ────────────────────────────────
	validator.Setup()
	metrics.Init()

	// ─── Scoring Backend & Sessions ────────────────────────────────────
	scorer := scoring.NewClient(cfg.ScoringBaseURL, log)
	registry := session.NewRegistry(cfg.UserID, scorer, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Session: handler.NewSessionHandler(registry, log, middleware.NewCookieOptions(cfg.SessionIdleTTL, cfg.CookieSecure)),
		WS:      handler.NewWSHandler(log, cfg.AllowedOrigins),
		System:  handler.NewSystemHandler(registry, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	janitor := worker.NewSessionJanitor(registry, cfg.SessionIdleTTL, cfg.SessionSweepEvery, log)
	limiter := middleware.NewRateLimiter(cfg.ActionRatePerMinute)

	go janitor.Start(workerCtx)
	go limiter.StartCleanup(workerCtx)

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(registry, limiter, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
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

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers.
	workerCancel()

	// 3. End sessions; workflows already loading run to completion first.
	// The scoring client times out at 30s, so that bounds the wait.
	sessionCtx, sessionCancel := context.WithTimeout(context.Background(), 35*time.Second)
	defer sessionCancel()
	registry.CloseAll(sessionCtx)

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
