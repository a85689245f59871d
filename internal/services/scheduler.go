package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/ajharbinger/dilution-monitor/internal/errors"
	"github.com/ajharbinger/dilution-monitor/internal/models"
)

// PipelineStats counts what one run did per phase
type PipelineStats struct {
	RunID     uuid.UUID      `json:"run_id"`
	Mode      models.RunMode `json:"mode"`
	Resume    bool           `json:"resume"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
	Duration  time.Duration  `json:"duration"`

	UniverseSize    int `json:"universe_size"`
	Screened        int `json:"screened"`
	ScreenSkipped   int `json:"screen_skipped"`
	SkippedExcluded int `json:"skipped_excluded"`
	Candidates      int `json:"candidates"`
	Enriched        int `json:"enriched"`
	EnrichSkipped   int `json:"enrich_skipped"`
	Scored          int `json:"scored"`
	Unscored        int `json:"unscored"`
	EntitiesFailed  int `json:"entities_failed"`
	TierChanges     int `json:"tier_changes"`

	TierCounts map[models.Tier]int `json:"tier_counts"`
}

// Summary formats the stats for a log line
func (s *PipelineStats) Summary() string {
	return fmt.Sprintf("screened=%d, candidates=%d, enriched=%d, scored=%d, unscored=%d, failed=%d, tier_changes=%d, duration=%v",
		s.Screened, s.Candidates, s.Enriched, s.Scored, s.Unscored, s.EntitiesFailed, s.TierChanges, s.Duration.Round(time.Second))
}

// RunSummary converts the stats to the persisted run summary
func (s *PipelineStats) RunSummary() models.RunSummary {
	return models.RunSummary{
		UniverseSize:   s.UniverseSize,
		Screened:       s.Screened,
		SkippedSPAC:    s.SkippedExcluded,
		Candidates:     s.Candidates,
		Enriched:       s.Enriched,
		EnrichSkipped:  s.EnrichSkipped,
		Scored:         s.Scored,
		Unscored:       s.Unscored,
		EntitiesFailed: s.EntitiesFailed,
		TierCounts:     s.TierCounts,
	}
}

// PipelineStatus reports the scheduler and any run in progress
type PipelineStatus struct {
	IsRunning     bool           `json:"is_running"`
	RunInProgress bool           `json:"run_in_progress"`
	CurrentRun    *PipelineStats `json:"current_run,omitempty"`
	LastRun       *PipelineStats `json:"last_run,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Start begins running the pipeline every IntervalMinutes, starting immediately
func (o *Orchestrator) Start(opts RunOptions) error {
	if _, err := models.ParseRunMode(string(opts.Mode)); err != nil {
		return apperrors.InvalidInput("invalid pipeline mode", err).WithOperation("Orchestrator.Start")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.isRunning {
		return apperrors.Conflict("pipeline scheduler is already running", nil).WithOperation("Orchestrator.Start")
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.isRunning = true

	o.wg.Add(1)
	go o.runLoop(ctx, opts)

	o.log.Info("Pipeline scheduler started", "mode", opts.Mode, "interval_minutes", o.cfg.IntervalMinutes, "max_concurrent", o.cfg.MaxConcurrent)
	return nil
}

// Stop cancels the scheduler and any triggered run, and waits for them to wind down
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	cancelled := o.cancelTriggered()
	if !o.isRunning {
		if cancelled {
			o.log.Info("Triggered pipeline run cancelled")
			return nil
		}
		return apperrors.Conflict("pipeline is not running", nil).WithOperation("Orchestrator.Stop")
	}

	o.cancel()
	o.wg.Wait()
	o.isRunning = false

	o.log.Info("Pipeline scheduler stopped")
	return nil
}

// IsRunning returns whether the scheduler loop is active
func (o *Orchestrator) IsRunning() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.isRunning
}

// RunOnce executes a single run in the caller's goroutine
func (o *Orchestrator) RunOnce(ctx context.Context, opts RunOptions) (*PipelineStats, error) {
	return o.Run(ctx, opts)
}

// Status returns the scheduler state and copies of the current and last run stats
func (o *Orchestrator) Status() PipelineStatus {
	status := PipelineStatus{
		IsRunning: o.IsRunning(),
		Timestamp: o.now(),
	}

	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	if o.active != nil {
		cp := *o.active
		status.RunInProgress = true
		status.CurrentRun = &cp
	}
	if o.last != nil {
		cp := *o.last
		status.LastRun = &cp
	}
	return status
}

// runLoop is the main scheduler loop
func (o *Orchestrator) runLoop(ctx context.Context, opts RunOptions) {
	defer o.wg.Done()

	interval := time.Duration(o.cfg.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	o.runScheduled(ctx, opts)
	for {
		select {
		case <-ctx.Done():
			o.log.Info("Pipeline stop signal received")
			return
		case <-ticker.C:
			o.runScheduled(ctx, opts)
		}
	}
}

func (o *Orchestrator) runScheduled(ctx context.Context, opts RunOptions) {
	stats, err := o.Run(ctx, opts)
	switch {
	case apperrors.Is(err, apperrors.ErrCodePipelineBusy):
		o.log.Info("Skipping scheduled run, another run is in progress")
	case err != nil:
		o.log.Error("Scheduled pipeline run failed", err)
	default:
		o.log.Info("Scheduled pipeline run completed", "summary", stats.Summary())
	}
}
