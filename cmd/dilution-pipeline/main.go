package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ajharbinger/dilution-monitor/internal/app"
	"github.com/ajharbinger/dilution-monitor/internal/logger"
	"github.com/ajharbinger/dilution-monitor/internal/models"
	"github.com/ajharbinger/dilution-monitor/internal/services"
	"github.com/ajharbinger/dilution-monitor/pkg/config"
)

func main() {
	envErr := godotenv.Load()
	cfg := config.New()

	mode := flag.String("mode", cfg.PipelineMode, "pipeline mode: full, quick, score_only or enrich_only")
	resume := flag.Bool("resume", false, "skip entities already screened or enriched")
	maxCompanies := flag.Int("max-companies", 0, "cap on entities screened (0 uses the mode default)")
	once := flag.Bool("once", false, "run a single pass and exit instead of scheduling")
	reclassify := flag.Bool("reclassify", false, "overwrite stored filing classifications")
	flag.Parse()

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		log = logger.NewFromEnv()
		log.Warn("Invalid log configuration, using defaults", "error", err)
	}
	log = log.With("component", "dilution-pipeline")
	if envErr != nil {
		log.Debug("No .env file found")
	}

	runMode, err := models.ParseRunMode(*mode)
	if err != nil {
		log.Fatal("Invalid --mode", err)
	}
	opts := services.RunOptions{
		Mode:         runMode,
		Resume:       *resume,
		MaxCompanies: *maxCompanies,
		Reclassify:   *reclassify,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, app.Options{Migrate: true})
	if err != nil {
		log.Fatal("Failed to initialize application", err)
	}
	defer a.Close()

	if *once {
		log.Info("Running one pipeline pass", "mode", opts.Mode, "resume", opts.Resume, "max_companies", opts.MaxCompanies)
		stats, err := a.Orchestrator.RunOnce(ctx, opts)
		if err != nil {
			log.Error("Pipeline run failed", err)
			a.Close()
			os.Exit(1)
		}
		log.Info("Pipeline run completed", "run_id", stats.RunID, "summary", stats.Summary())
		return
	}

	if err := a.Orchestrator.Start(opts); err != nil {
		log.Fatal("Failed to start pipeline scheduler", err)
	}
	log.Info("Pipeline scheduler running", "interval_minutes", app.PipelineConfig(cfg).IntervalMinutes)

	<-ctx.Done()
	log.Info("Shutdown signal received, stopping pipeline")
	if err := a.Orchestrator.Stop(); err != nil {
		log.Error("Error stopping pipeline", err)
		return
	}
	log.Info("Pipeline stopped")
}
