package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"cot-backend/internal/chain"
	"cot-backend/internal/config"
	"cot-backend/internal/database"
	"cot-backend/internal/handlers"
	"cot-backend/internal/logging"
	"cot-backend/internal/middleware"
	"cot-backend/internal/router"
	"cot-backend/internal/services"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ──── Step 1: Load Configuration ────
	cfg, err := config.Load()
	if err != nil {
		bootstrap := logging.New("info", os.Getenv("ENV"))
		bootstrap.Fatal().Err(err).Msg("✗ Configuration invalid")
	}
	logger := logging.New(cfg.LogLevel, cfg.Env)
	logger.Info().Msg("🚀 Starting chain-of-thought backend...")
	logger.Info().Str("env", cfg.Env).Msg("✓ Configuration loaded")

	// ──── Step 2: Initialize Model Backend ────
	backend, err := services.NewBackend(ctx, services.ProviderConfig{
		Provider:   cfg.LLMProvider,
		OutputMode: cfg.ChainOutputMode,
		Gemini: services.GeminiConfig{
			APIKey:             cfg.GeminiAPIKey,
			Model:              cfg.GeminiModel,
			Temperature:        cfg.GeminiTemperature,
			ConcurrentRequests: cfg.GeminiConcurrentReqs,
			MaxRetries:         cfg.GeminiMaxRetries,
			RetryBase:          cfg.GeminiRetryBase,
		},
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("✗ Model backend initialization failed")
	}
	defer backend.Close()
	logger.Info().Str("backend", backend.Name).Msg("✓ Model backend initialized")

	// ──── Step 3: Optional Redis ────
	var (
		observer  chain.Observer
		reporter  handlers.RunReporter
		rateLimit func(http.Handler) http.Handler
	)
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("✗ Redis connection failed")
		}
		defer redisClient.Close()

		publisher := services.NewRedisPublisher(redisClient, logger)
		observer, reporter = publisher, publisher
		if cfg.RateLimitPerMinute > 0 {
			rateLimit = middleware.NewRedisRateLimiter(redisClient, cfg.RateLimitPerMinute, time.Minute, logger).Middleware
		}
		logger.Info().Msg("✓ Redis connected (shared rate limit, progress events)")
	} else if cfg.RateLimitPerMinute > 0 {
		rateLimit = middleware.NewRateLimiter(ctx, cfg.RateLimitPerMinute, time.Minute).Middleware
	}

	// ──── Step 4: Build Orchestrator ────
	depthMode, err := chain.ParseDepthMode(cfg.ChainDepthMode)
	if err != nil {
		logger.Fatal().Err(err).Msg("✗ Invalid depth mode")
	}
	orchestrator := chain.NewOrchestrator(backend.Caller, chain.Options{
		DepthLimit:       cfg.ChainDepthLimit,
		DepthMode:        depthMode,
		MaxTurns:         cfg.ChainMaxTurns,
		CollapseNewlines: cfg.ChainCollapseNewlines,
	}, observer, logger)
	opts := orchestrator.Options()
	logger.Info().
		Int("depth_limit", opts.DepthLimit).
		Str("depth_mode", string(opts.DepthMode)).
		Int("max_turns", opts.MaxTurns).
		Msg("✓ Orchestrator ready")

	// ──── Step 5: Start HTTP Server ────
	var jwtAuth *middleware.JWTAuth
	if cfg.JWTSecret != "" {
		jwtAuth = middleware.NewJWTAuth(cfg.JWTSecret)
		logger.Info().Msg("✓ Bearer token auth enabled")
	}

	r := router.New(
		logger,
		handlers.NewChainHandler(orchestrator, reporter),
		handlers.NewMessageHandler(backend.Messages),
		router.Options{
			CORSOrigin: cfg.CORSOrigin,
			JWTAuth:    jwtAuth,
			RateLimit:  rateLimit,
		},
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		logger.Info().Msg("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
		}
	}()

	logger.Info().Msgf("✓ Server ready on http://localhost:%s", cfg.Port)
	logRoutes(logger, cfg.Port)

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("Server error")
	}
}

func logRoutes(logger zerolog.Logger, port string) {
	for _, route := range []string{"POST /chain", "POST /message", "GET  /health"} {
		logger.Info().Msgf("  %s  http://localhost:%s", route, port)
	}
}
