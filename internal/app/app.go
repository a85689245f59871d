// Package app wires configuration, storage, providers and the pipeline
// orchestrator into the process shared by the server and the batch runners.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ajharbinger/dilution-monitor/internal/cache"
	"github.com/ajharbinger/dilution-monitor/internal/database"
	"github.com/ajharbinger/dilution-monitor/internal/events"
	"github.com/ajharbinger/dilution-monitor/internal/lock"
	"github.com/ajharbinger/dilution-monitor/internal/logger"
	"github.com/ajharbinger/dilution-monitor/internal/metrics"
	"github.com/ajharbinger/dilution-monitor/internal/models"
	"github.com/ajharbinger/dilution-monitor/internal/provider"
	"github.com/ajharbinger/dilution-monitor/internal/repository"
	"github.com/ajharbinger/dilution-monitor/internal/scoring"
	"github.com/ajharbinger/dilution-monitor/internal/services"
	"github.com/ajharbinger/dilution-monitor/pkg/config"
)

// App holds the long-lived collaborators of a process
type App struct {
	Config        *config.Config
	Log           logger.Logger
	DB            *database.DB
	Repos         *repository.Repositories
	ScoringConfig *scoring.ConfigStore
	Services      *services.Services
	Orchestrator  *services.Orchestrator
	Metrics       *metrics.Recorder
	Monitors      []*provider.HealthMonitor

	closers []func() error
}

// Options tune what New sets up
type Options struct {
	// Migrate applies pending migrations before anything reads the database
	Migrate bool
}

// New connects to every configured backend. Redis and Kafka are optional:
// without them the run lock is in-process and tier events are dropped.
func New(ctx context.Context, cfg *config.Config, log logger.Logger, opts Options) (*App, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	a := &App{Config: cfg, Log: log}

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)

	if opts.Migrate {
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			a.Close()
			return nil, err
		}
		log.Info("Database migrations applied")
	}

	a.Repos = repository.NewRepositories(db.DB)

	fallback, err := config.LoadScoring(cfg.ScoringConfigPath)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.ScoringConfig = scoring.NewConfigStore(services.LoadScoringConfig(a.Repos.Config, fallback, log))
	a.Services = services.NewServices(a.Repos, a.ScoringConfig)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(reg)

	var (
		c       cache.Cache = cache.NewMemoryCache()
		runLock lock.RunLock
	)
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.RedisURL, "dilution")
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, rc.Close)
		c = rc
		runLock = lock.NewRedisLock(rc.Client(), lock.PipelineKey, 0, log)
		log.Info("Using Redis for provider cache and run lock")
	} else {
		runLock = lock.NewLocalLock()
		log.Warn("REDIS_URL not set, using in-process run lock")
	}

	var publisher events.Publisher = events.NopPublisher{}
	if brokers := cfg.GetKafkaBrokers(); len(brokers) > 0 {
		kp, err := events.NewKafkaPublisher(brokers, cfg.KafkaTierTopic)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, kp.Close)
		publisher = kp
		log.Info("Publishing tier changes to Kafka", "brokers", brokers, "topic", cfg.KafkaTierTopic)
	}

	deps := services.Dependencies{
		Repos:     a.Repos,
		Config:    a.ScoringConfig,
		Lock:      runLock,
		Publisher: publisher,
		Metrics:   a.Metrics,
		Logger:    log,
	}
	a.wireProviders(&deps, c)

	a.Orchestrator = services.NewOrchestrator(deps, PipelineConfig(cfg))
	return a, nil
}

// wireProviders sets the filing and market data providers on deps. Without
// an FMP key only score_only runs are possible.
func (a *App) wireProviders(deps *services.Dependencies, c cache.Cache) {
	cfg := a.Config

	edgarHealth := provider.NewHealthMonitor("edgar")
	edgarClient := provider.NewClient("edgar", provider.EDGARRequestsPerSecond,
		provider.WithUserAgent(cfg.EDGARUserAgent),
		provider.WithHealthMonitor(edgarHealth),
		provider.WithMetrics(a.Metrics),
		provider.WithLogger(a.Log),
	)
	a.closers = append(a.closers, func() error { edgarClient.Close(); return nil })
	deps.Filings = provider.NewEDGARClient(provider.EDGARConfig{UserAgent: cfg.EDGARUserAgent}, edgarClient, c, a.Log)
	a.Monitors = append(a.Monitors, edgarHealth)

	if !cfg.HasFMPCredentials() {
		a.Log.Warn("FMP_API_KEY not set, only score_only runs are available")
		return
	}

	fmpHealth := provider.NewHealthMonitor("fmp")
	fmpClient := provider.NewClient("fmp", provider.FMPRequestsPerSecond,
		provider.WithHealthMonitor(fmpHealth),
		provider.WithMetrics(a.Metrics),
		provider.WithSecretParams("apikey"),
		provider.WithLogger(a.Log),
	)
	a.closers = append(a.closers, func() error { fmpClient.Close(); return nil })
	deps.Financials = provider.NewFMPClient(cfg.FMPAPIKey, cfg.FMPBaseURL, fmpClient, a.Log)
	a.Monitors = append(a.Monitors, fmpHealth)
}

// PipelineConfig maps the PIPELINE_* settings onto the orchestrator config
func PipelineConfig(cfg *config.Config) services.PipelineConfig {
	pc := services.DefaultPipelineConfig()
	if cfg.PipelineMaxConcurrent > 0 {
		pc.MaxConcurrent = cfg.PipelineMaxConcurrent
	}
	if cfg.PipelineIntervalMinutes > 0 {
		pc.IntervalMinutes = cfg.PipelineIntervalMinutes
	}
	if cfg.PipelineMaxCompanies > 0 {
		pc.MaxCompanies = cfg.PipelineMaxCompanies
	}
	return pc
}

// DefaultMode parses PIPELINE_MODE, falling back to full
func DefaultMode(cfg *config.Config) models.RunMode {
	mode, err := models.ParseRunMode(cfg.PipelineMode)
	if err != nil {
		return models.ModeFull
	}
	return mode
}

// Close releases every backend in reverse order of acquisition
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn("Error during shutdown", "error", err)
		}
	}
	a.closers = nil
}
