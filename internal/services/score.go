package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	apperrors "github.com/ajharbinger/dilution-monitor/internal/errors"
	"github.com/ajharbinger/dilution-monitor/internal/events"
	"github.com/ajharbinger/dilution-monitor/internal/logger"
	"github.com/ajharbinger/dilution-monitor/internal/metrics"
	"github.com/ajharbinger/dilution-monitor/internal/models"
	"github.com/ajharbinger/dilution-monitor/internal/repository"
	"github.com/ajharbinger/dilution-monitor/internal/scoring"
	"github.com/ajharbinger/dilution-monitor/internal/tiering"
)

// ScoreSummary is the outcome of one scoring and tiering pass
type ScoreSummary struct {
	Population int
	Scored     int
	Unscored   int
	Failed     int
	Changes    []tiering.Change
	TierCounts map[models.Tier]int
}

// scoredEntity carries one entity through the tiering barrier
type scoredEntity struct {
	entity   models.Entity
	snapshot *models.ScoreSnapshot
	failed   bool
}

// ScorePopulation scores every entity with stored enrichment from stored data, then
// tiers the whole promoted population at once. With fetchPrices unset no provider
// is called and the twelve-month price change is carried from the last snapshot.
func (o *Orchestrator) ScorePopulation(ctx context.Context, runID uuid.UUID, cfg scoring.Config, fetchPrices bool) (*ScoreSummary, error) {
	log := o.log.With("run_id", runID, "phase", metrics.PhaseScore)

	population, err := o.repos.Entities.List(repository.EntityFilters{
		States: []models.PipelineState{models.StateCandidate, models.StateEnriched, models.StateTiered},
	})
	if err != nil {
		return nil, apperrors.DatabaseError("failed to list scoring population", err).WithOperation("Orchestrator.ScorePopulation")
	}
	log.Info("Scoring population", "count", len(population))

	var mu sync.Mutex
	results := make(map[int64]*scoredEntity, len(population))
	err = o.forEach(ctx, population, func(e models.Entity) {
		r := &scoredEntity{entity: e}
		if hasEnrichment(e) && !excluded(e) {
			snap, err := o.scoreEntity(ctx, e, runID, cfg, fetchPrices)
			if err != nil {
				log.Error("Failed to score entity", err, "ticker", e.Ticker)
				o.metrics.EntityProcessed(metrics.PhaseScore, metrics.OutcomeFailed)
				r.failed = true
			} else {
				r.snapshot = snap
				o.metrics.EntityProcessed(metrics.PhaseScore, metrics.OutcomeSuccess)
			}
		}
		mu.Lock()
		results[e.ID] = r
		mu.Unlock()
	})
	if err != nil {
		return nil, err
	}

	// barrier: every composite is known before any tier is assigned
	summary := &ScoreSummary{Population: len(population)}
	previous := make(map[int64]models.Tier, len(population))
	var scores []tiering.EntityScore
	for _, e := range population {
		r := results[e.ID]
		if r.failed {
			// keeps its previous tier
			summary.Failed++
			continue
		}
		s := tiering.EntityScore{
			EntityID: e.ID,
			Ticker:   e.Ticker,
			Promoted: true,
			Excluded: excluded(e),
		}
		if r.snapshot != nil && r.snapshot.Composite != nil {
			s.Composite = r.snapshot.Composite
			summary.Scored++
		} else {
			summary.Unscored++
		}
		scores = append(scores, s)
		previous[e.ID] = e.Tier
	}

	tiers := tiering.AssignTiers(scores, cfg.Percentiles())
	summary.Changes = tiering.Diff(scores, previous, tiers)
	summary.TierCounts = tiering.Counts(tiers)

	for _, s := range scores {
		r := results[s.EntityID]
		if err := o.storeTier(r, tiers[s.EntityID]); err != nil {
			log.Error("Failed to store tier", err, "ticker", s.Ticker)
			summary.Failed++
		}
	}

	o.publishChanges(ctx, log, runID, summary.Changes)

	gauge := make(map[string]int, len(summary.TierCounts))
	for t, n := range summary.TierCounts {
		gauge[string(t)] = n
	}
	o.metrics.TierCounts(gauge)

	log.Info("Tiering complete",
		"scored", summary.Scored,
		"unscored", summary.Unscored,
		"critical", summary.TierCounts[models.TierCritical],
		"watchlist", summary.TierCounts[models.TierWatchlist],
		"monitoring", summary.TierCounts[models.TierMonitoring],
		"changes", len(summary.Changes))
	return summary, nil
}

// scoreEntity builds an untiered snapshot for one entity from stored data
func (o *Orchestrator) scoreEntity(ctx context.Context, e models.Entity, runID uuid.UUID, cfg scoring.Config, fetchPrices bool) (*models.ScoreSnapshot, error) {
	quarters, err := o.repos.Financials.ListByEntity(e.ID, cfg.FinancialQuarters)
	if err != nil {
		return nil, fmt.Errorf("stored fundamentals: %w", err)
	}
	filings, err := o.repos.Filings.ListByEntity(e.ID)
	if err != nil {
		return nil, fmt.Errorf("stored filings: %w", err)
	}

	now := o.now()
	res := scoring.ScoreEntity(scoring.EntityInput{Entity: e, Quarters: quarters, Filings: filings}, cfg, now)
	for _, removal := range res.Outliers {
		o.log.Warn("Excluded outliers from series",
			"ticker", e.Ticker, "series", removal.Series, "removed", removal.Removed,
			"lower", removal.Fence.Lower, "upper", removal.Fence.Upper)
		o.metrics.OutliersRemoved(removal.Series, len(removal.Removed))
	}

	snap := res.Snapshot(e, runID, now)

	if fetchPrices && o.financials != nil && res.Scored() {
		change, err := o.financials.GetPriceChange12M(ctx, e.Ticker, now)
		if err != nil {
			o.log.Warn("Price change fetch failed, carrying forward", "ticker", e.Ticker, "error", err)
		}
		snap.PriceChange12M = change
	}
	if snap.PriceChange12M == nil {
		prev, err := o.repos.Snapshots.LatestForEntity(e.ID)
		switch {
		case err == nil:
			snap.PriceChange12M = prev.PriceChange12M
		case !errors.Is(err, repository.ErrNotFound):
			return nil, fmt.Errorf("previous snapshot: %w", err)
		}
	}
	return &snap, nil
}

// storeTier persists the snapshot and the new tier in one transaction
func (o *Orchestrator) storeTier(r *scoredEntity, tier models.Tier) error {
	state := r.entity.State
	switch {
	case excluded(r.entity):
		state = models.StateInactive
	case r.snapshot != nil:
		state = models.StateTiered
	}

	return o.repos.Tx.WithTransaction(func(repos *repository.Repositories) error {
		if r.snapshot != nil {
			r.snapshot.Tier = tier
			if err := repos.Snapshots.Insert(r.snapshot); err != nil {
				return err
			}
		}
		return repos.Entities.UpdateTier(r.entity.ID, tier, state)
	})
}

func (o *Orchestrator) publishChanges(ctx context.Context, log logger.Logger, runID uuid.UUID, changes []tiering.Change) {
	if len(changes) == 0 {
		return
	}
	at := o.now()
	out := make([]events.TierChanged, len(changes))
	for i, c := range changes {
		out[i] = events.TierChanged{
			Ticker:       c.Ticker,
			PreviousTier: c.Previous,
			Tier:         c.Current,
			Composite:    c.Composite,
			RunID:        runID,
			At:           at,
		}
	}
	if err := o.publisher.PublishTierChanges(ctx, out); err != nil {
		log.Warn("Failed to publish tier changes", "count", len(out), "error", err)
	}
}

// hasEnrichment reports whether stored data exists to score. A re-screened
// entity is a candidate again but keeps the history of its last enrichment.
func hasEnrichment(e models.Entity) bool {
	return e.State != models.StateCandidate || e.EnrichedAt != nil
}

func excluded(e models.Entity) bool {
	return e.IsSPAC || models.Excluded(e.Ticker, e.Name)
}
