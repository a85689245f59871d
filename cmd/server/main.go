package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/ajharbinger/dilution-monitor/internal/api"
	"github.com/ajharbinger/dilution-monitor/internal/app"
	apperrors "github.com/ajharbinger/dilution-monitor/internal/errors"
	"github.com/ajharbinger/dilution-monitor/internal/logger"
	"github.com/ajharbinger/dilution-monitor/internal/middleware"
	"github.com/ajharbinger/dilution-monitor/pkg/config"
)

func main() {
	envErr := godotenv.Load()

	// Initialize configuration
	cfg := config.New()

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		log = logger.NewFromEnv()
		log.Warn("Invalid log configuration, using defaults", "error", err)
	}
	if envErr != nil {
		log.Debug("No .env file found")
	}

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required", errors.New("missing JWT_SECRET"))
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, log, app.Options{Migrate: true})
	if err != nil {
		log.Fatal("Failed to initialize application", err)
	}
	defer a.Close()

	// Set Gin mode based on environment
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if proxies := cfg.GetTrustedProxies(); len(proxies) > 0 {
		if err := r.SetTrustedProxies(proxies); err != nil {
			log.Fatal("Invalid TRUSTED_PROXIES", err)
		}
	}

	// Add security middleware
	r.Use(middleware.LoggingMiddleware(log.With("component", "http")))
	r.Use(middleware.SecurityHeadersMiddleware())
	r.Use(middleware.CORSMiddleware(cfg))
	r.Use(middleware.InputValidationMiddleware(cfg.MaxRequestSize))
	if cfg.EnableRateLimit {
		r.Use(middleware.RateLimitingMiddleware(middleware.DefaultRateLimit))
	}
	r.Use(gin.Recovery())

	api.SetupRoutes(r, api.Dependencies{
		Companies:     a.Services.Companies,
		ScoringConfig: a.Services.Config,
		Export:        a.Services.Export,
		Pipeline:      a.Orchestrator,
		DB:            a.DB,
		Providers:     a.Monitors,
		Metrics:       a.Metrics,
		JWTSecret:     cfg.JWTSecret,
		DefaultMode:   app.DefaultMode(cfg),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Port, "env", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("Shutdown signal received")

	if err := a.Orchestrator.Stop(); err != nil && !apperrors.Is(err, apperrors.ErrCodeConflict) {
		log.Warn("Error stopping pipeline", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", err)
	}
}
