package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ajharbinger/dilution-monitor/internal/classifier"
	apperrors "github.com/ajharbinger/dilution-monitor/internal/errors"
	"github.com/ajharbinger/dilution-monitor/internal/events"
	"github.com/ajharbinger/dilution-monitor/internal/lock"
	"github.com/ajharbinger/dilution-monitor/internal/logger"
	"github.com/ajharbinger/dilution-monitor/internal/metrics"
	"github.com/ajharbinger/dilution-monitor/internal/models"
	"github.com/ajharbinger/dilution-monitor/internal/outlier"
	"github.com/ajharbinger/dilution-monitor/internal/provider"
	"github.com/ajharbinger/dilution-monitor/internal/repository"
	"github.com/ajharbinger/dilution-monitor/internal/scoring"
)

const (
	// QuickModeLimit caps the screened universe in quick mode
	QuickModeLimit = 500
	// DefaultMaxCompanies caps the screened universe in full mode
	DefaultMaxCompanies = 3000
)

// PipelineConfig contains configuration for the pipeline runner
type PipelineConfig struct {
	MaxConcurrent   int      `json:"max_concurrent"`
	IntervalMinutes int      `json:"interval_minutes"`
	MaxCompanies    int      `json:"max_companies"`
	FilingLimit     int      `json:"filing_limit"`
	FormTypes       []string `json:"form_types"`
}

// DefaultPipelineConfig returns sensible defaults
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MaxConcurrent:   4,
		IntervalMinutes: 1440,
		MaxCompanies:    DefaultMaxCompanies,
		FilingLimit:     20,
		FormTypes:       provider.DefaultFormTypes,
	}
}

// RunOptions selects what one pipeline run does
type RunOptions struct {
	Mode         models.RunMode `json:"mode"`
	Resume       bool           `json:"resume"`
	MaxCompanies int            `json:"max_companies"`
	// Reclassify overwrites stored filing classifications
	Reclassify bool `json:"reclassify"`
}

// Dependencies are the collaborators of the Orchestrator.
// Classifier, Lock, Publisher and Logger fall back to in-process defaults when nil.
type Dependencies struct {
	Repos      *repository.Repositories
	Financials FinancialsProvider
	Filings    FilingsProvider
	Classifier classifier.Classifier
	Config     *scoring.ConfigStore
	Lock       lock.RunLock
	Publisher  events.Publisher
	Metrics    *metrics.Recorder
	Logger     logger.Logger
}

// Orchestrator drives entities through screen, enrich, score and tier
type Orchestrator struct {
	repos      *repository.Repositories
	financials FinancialsProvider
	filings    FilingsProvider
	classifier classifier.Classifier
	config     *scoring.ConfigStore
	runLock    lock.RunLock
	publisher  events.Publisher
	metrics    *metrics.Recorder
	log        logger.Logger
	cfg        PipelineConfig
	now        func() time.Time

	// scheduler loop
	isRunning bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.RWMutex

	// runs started by Trigger; cancelled by Stop
	triggerMu     sync.Mutex
	triggerCtx    context.Context
	triggerCancel context.CancelFunc
	triggered     sync.WaitGroup
	inFlight      int

	// guards active and last
	statsMu sync.Mutex
	active  *PipelineStats
	last    *PipelineStats
}

// NewOrchestrator creates a new pipeline orchestrator
func NewOrchestrator(deps Dependencies, cfg PipelineConfig) *Orchestrator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.FilingLimit <= 0 {
		cfg.FilingLimit = 20
	}
	if len(cfg.FormTypes) == 0 {
		cfg.FormTypes = provider.DefaultFormTypes
	}
	if cfg.MaxCompanies <= 0 {
		cfg.MaxCompanies = DefaultMaxCompanies
	}

	o := &Orchestrator{
		repos:      deps.Repos,
		financials: deps.Financials,
		filings:    deps.Filings,
		classifier: deps.Classifier,
		config:     deps.Config,
		runLock:    deps.Lock,
		publisher:  deps.Publisher,
		metrics:    deps.Metrics,
		log:        deps.Logger,
		cfg:        cfg,
		now:        time.Now,
	}
	if o.classifier == nil {
		o.classifier = classifier.NewKeywordClassifier()
	}
	if o.runLock == nil {
		o.runLock = lock.NewLocalLock()
	}
	if o.publisher == nil {
		o.publisher = events.NopPublisher{}
	}
	if o.log == nil {
		o.log = logger.NewNop()
	}
	if o.config == nil {
		o.config = scoring.NewConfigStore(scoring.DefaultConfig())
	}
	o.log = o.log.With("component", "orchestrator")
	return o
}

// Run executes one pipeline run and blocks until it finishes.
// Returns a PIPELINE_BUSY error when another run holds the lock.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*PipelineStats, error) {
	release, err := o.acquire(ctx, opts)
	if err != nil {
		return nil, err
	}
	return o.execute(ctx, uuid.New(), opts, release)
}

// Trigger starts a run in the background and returns its ID once the lock is held
func (o *Orchestrator) Trigger(ctx context.Context, opts RunOptions) (uuid.UUID, error) {
	release, err := o.acquire(ctx, opts)
	if err != nil {
		return uuid.Nil, err
	}

	runID := uuid.New()
	runCtx := o.beginTriggered()
	go func() {
		defer o.endTriggered()
		if _, err := o.execute(runCtx, runID, opts, release); err != nil {
			o.log.Error("Triggered pipeline run failed", err, "run_id", runID)
		}
	}()
	return runID, nil
}

// beginTriggered returns the shared context of triggered runs. It outlives
// the request that started the run and is cancelled only by Stop.
func (o *Orchestrator) beginTriggered() context.Context {
	o.triggerMu.Lock()
	defer o.triggerMu.Unlock()
	if o.triggerCtx == nil {
		o.triggerCtx, o.triggerCancel = context.WithCancel(context.Background())
	}
	o.inFlight++
	o.triggered.Add(1)
	return o.triggerCtx
}

func (o *Orchestrator) endTriggered() {
	o.triggerMu.Lock()
	o.inFlight--
	o.triggerMu.Unlock()
	o.triggered.Done()
}

// cancelTriggered cancels triggered runs and waits for them to finish.
// Reports whether any was in flight.
func (o *Orchestrator) cancelTriggered() bool {
	o.triggerMu.Lock()
	active := o.inFlight > 0
	if o.triggerCancel != nil {
		o.triggerCancel()
		o.triggerCtx, o.triggerCancel = nil, nil
	}
	o.triggerMu.Unlock()

	o.triggered.Wait()
	return active
}

func (o *Orchestrator) acquire(ctx context.Context, opts RunOptions) (lock.Release, error) {
	if _, err := models.ParseRunMode(string(opts.Mode)); err != nil {
		return nil, apperrors.InvalidInput("invalid pipeline mode", err).WithOperation("Orchestrator.Run")
	}
	if opts.Mode != models.ModeScoreOnly && (o.financials == nil || o.filings == nil) {
		return nil, apperrors.InvalidInput("provider credentials are required for this mode", nil).
			WithOperation("Orchestrator.Run").WithDetails(string(opts.Mode))
	}

	release, err := o.runLock.Acquire(ctx)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return nil, apperrors.PipelineBusy("a pipeline run is already in progress", err).WithOperation("Orchestrator.Run")
		}
		return nil, apperrors.ServiceError("failed to acquire pipeline lock", err).WithOperation("Orchestrator.Run")
	}
	return release, nil
}

// execute runs the phases for a mode while holding the run lock
func (o *Orchestrator) execute(ctx context.Context, runID uuid.UUID, opts RunOptions, release lock.Release) (*PipelineStats, error) {
	defer func() {
		if err := release(context.Background()); err != nil {
			o.log.Warn("Failed to release pipeline lock", "run_id", runID, "error", err)
		}
	}()

	// one explicit config value for the whole run
	cfg := o.config.Get()
	stats := &PipelineStats{
		RunID:     runID,
		Mode:      opts.Mode,
		Resume:    opts.Resume,
		StartTime: o.now(),
	}
	o.setActive(stats)
	defer o.setActive(nil)

	log := o.log.With("run_id", runID, "mode", opts.Mode)
	log.Info("Starting pipeline run", "resume", opts.Resume, "max_concurrent", o.cfg.MaxConcurrent)

	run := &models.PipelineRun{
		ID:        runID,
		Mode:      opts.Mode,
		Resume:    opts.Resume,
		Status:    models.RunRunning,
		StartedAt: stats.StartTime,
	}
	if err := o.repos.Runs.Create(run); err != nil {
		return stats, apperrors.DatabaseError("failed to record pipeline run", err).WithOperation("Orchestrator.Run")
	}

	runErr := o.runPhases(ctx, log, opts, cfg, stats)

	o.update(func(s *PipelineStats) {
		s.EndTime = o.now()
		s.Duration = s.EndTime.Sub(s.StartTime)
	})
	o.metrics.RunFinished(string(opts.Mode), stats.Duration.Seconds())

	finished := stats.EndTime
	run.CompletedAt = &finished
	run.Summary = stats.RunSummary()
	run.Status = models.RunCompleted
	if runErr != nil {
		run.Status = models.RunFailed
		run.ErrorMessage = runErr.Error()
	}
	if err := o.repos.Runs.Finish(run); err != nil {
		log.Warn("Failed to record pipeline run result", "error", err)
	}
	o.setLast(stats)

	if runErr != nil {
		log.Error("Pipeline run failed", runErr, "summary", stats.Summary())
		return stats, runErr
	}
	log.Info("Pipeline run completed", "summary", stats.Summary())
	return stats, nil
}

func (o *Orchestrator) runPhases(ctx context.Context, log logger.Logger, opts RunOptions, cfg scoring.Config, stats *PipelineStats) error {
	switch opts.Mode {
	case models.ModeFull, models.ModeQuick:
		if err := o.syncUniverse(ctx, log, stats); err != nil {
			return err
		}
		if err := o.screenPhase(ctx, log, opts, cfg); err != nil {
			return err
		}
		if err := o.enrichPhase(ctx, log, opts, cfg, repository.EntityFilters{
			States:      []models.PipelineState{models.StateCandidate},
			ExcludeSPAC: true,
			Unenriched:  opts.Resume,
		}); err != nil {
			return err
		}
	case models.ModeEnrichOnly:
		if err := o.enrichPhase(ctx, log, opts, cfg,
			repository.EntityFilters{
				States:      []models.PipelineState{models.StateCandidate, models.StateEnriched, models.StateTiered},
				ExcludeSPAC: true,
				Unenriched:  opts.Resume,
			},
			repository.EntityFilters{
				States:          []models.PipelineState{models.StateInactive},
				HasFundamentals: true,
				ExcludeSPAC:     true,
				Unenriched:      opts.Resume,
			},
		); err != nil {
			return err
		}
	}

	summary, err := o.ScorePopulation(ctx, stats.RunID, cfg, opts.Mode != models.ModeScoreOnly)
	if summary != nil {
		o.update(func(s *PipelineStats) {
			s.Scored = summary.Scored
			s.Unscored = summary.Unscored
			s.EntitiesFailed += summary.Failed
			s.TierChanges = len(summary.Changes)
			s.TierCounts = summary.TierCounts
		})
	}
	return err
}

// syncUniverse upserts the provider's equity universe by ticker
func (o *Orchestrator) syncUniverse(ctx context.Context, log logger.Logger, stats *PipelineStats) error {
	universe, err := o.financials.ListUniverse(ctx)
	if err != nil {
		return apperrors.ProviderError("failed to load equity universe", err).WithOperation("Orchestrator.syncUniverse")
	}

	failed := 0
	for _, entry := range universe {
		if entry.MarketCap <= 0 {
			continue
		}
		if _, err := o.repos.Entities.Upsert(entry, models.IsSPACName(entry.Name)); err != nil {
			failed++
			log.Warn("Failed to upsert universe entry", "ticker", entry.Ticker, "error", err)
		}
	}
	o.update(func(s *PipelineStats) {
		s.UniverseSize = len(universe)
		s.EntitiesFailed += failed
	})
	log.Info("Universe synced", "entries", len(universe), "failed", failed)
	return nil
}

func (o *Orchestrator) screenPhase(ctx context.Context, log logger.Logger, opts RunOptions, cfg scoring.Config) error {
	limit := opts.MaxCompanies
	if limit <= 0 {
		limit = o.cfg.MaxCompanies
	}
	if opts.Mode == models.ModeQuick && limit > QuickModeLimit {
		limit = QuickModeLimit
	}

	entities, err := o.repos.Entities.List(repository.EntityFilters{OrderByMarketCap: true, Limit: limit})
	if err != nil {
		return apperrors.DatabaseError("failed to list entities for screening", err).WithOperation("Orchestrator.screenPhase")
	}
	log.Info("Screening entities", "count", len(entities))

	return o.forEach(ctx, entities, func(e models.Entity) {
		if excluded(e) {
			o.update(func(s *PipelineStats) { s.SkippedExcluded++ })
			o.metrics.EntityProcessed(metrics.PhaseScreen, metrics.OutcomeSkipped)
			return
		}
		if opts.Resume && e.ScreenedAt != nil {
			o.update(func(s *PipelineStats) {
				s.ScreenSkipped++
				if e.State != models.StateInactive {
					s.Candidates++
				}
			})
			o.metrics.EntityProcessed(metrics.PhaseScreen, metrics.OutcomeSkipped)
			return
		}

		res, err := o.ScreenEntity(ctx, e, cfg)
		if err != nil {
			log.Warn("Failed to screen entity", "ticker", e.Ticker, "error", err)
			o.update(func(s *PipelineStats) { s.EntitiesFailed++ })
			o.metrics.EntityProcessed(metrics.PhaseScreen, metrics.OutcomeFailed)
			return
		}

		o.update(func(s *PipelineStats) {
			s.Screened++
			if res.Candidate {
				s.Candidates++
			}
		})
		if res.Candidate {
			o.metrics.EntityProcessed(metrics.PhaseScreen, metrics.OutcomePassed)
		} else {
			o.metrics.EntityProcessed(metrics.PhaseScreen, metrics.OutcomeSuccess)
		}
	})
}

// ScreenEntity runs the quick screen on the short window and records the outcome.
// A failing screen never demotes an entity that was promoted earlier.
func (o *Orchestrator) ScreenEntity(ctx context.Context, e models.Entity, cfg scoring.Config) (scoring.ScreenResult, error) {
	quarters, err := o.financials.GetFundamentals(ctx, e.Ticker, cfg.ScreenQuarters)
	if err != nil {
		return scoring.ScreenResult{}, fmt.Errorf("screen fundamentals for %s: %w", e.Ticker, err)
	}

	res := scoring.Screen(quarters, cfg)
	state := e.State
	if res.Candidate {
		state = models.StateCandidate
	}
	if err := o.repos.Entities.MarkScreened(e.ID, state, o.now()); err != nil {
		return res, fmt.Errorf("record screen for %s: %w", e.Ticker, err)
	}
	return res, nil
}

func (o *Orchestrator) enrichPhase(ctx context.Context, log logger.Logger, opts RunOptions, cfg scoring.Config, filters ...repository.EntityFilters) error {
	seen := make(map[int64]bool)
	var candidates []models.Entity
	for _, f := range filters {
		entities, err := o.repos.Entities.List(f)
		if err != nil {
			return apperrors.DatabaseError("failed to list entities for enrichment", err).WithOperation("Orchestrator.enrichPhase")
		}
		for _, e := range entities {
			if !seen[e.ID] {
				seen[e.ID] = true
				candidates = append(candidates, e)
			}
		}
	}
	log.Info("Enriching candidates", "count", len(candidates))

	return o.forEach(ctx, candidates, func(e models.Entity) {
		if excluded(e) {
			o.update(func(s *PipelineStats) { s.EnrichSkipped++ })
			o.metrics.EntityProcessed(metrics.PhaseEnrich, metrics.OutcomeSkipped)
			return
		}

		res, err := o.EnrichEntity(ctx, e, cfg, opts.Reclassify)
		if err != nil {
			log.Error("Failed to enrich entity", err, "ticker", e.Ticker)
			o.update(func(s *PipelineStats) { s.EntitiesFailed++ })
			o.metrics.EntityProcessed(metrics.PhaseEnrich, metrics.OutcomeFailed)
			return
		}

		log.Debug("Enriched entity", "ticker", e.Ticker, "quarters", res.Quarters, "new_filings", res.NewFilings)
		o.update(func(s *PipelineStats) { s.Enriched++ })
		o.metrics.EntityProcessed(metrics.PhaseEnrich, metrics.OutcomeSuccess)
	})
}

// EnrichResult describes what one enrichment stored
type EnrichResult struct {
	CIK        string
	Quarters   int
	Filings    int
	NewFilings int
	Discarded  int
}

// EnrichEntity pulls the full financial window and filing history for one entity
// and commits them in a single transaction. Re-running it never duplicates rows.
func (o *Orchestrator) EnrichEntity(ctx context.Context, e models.Entity, cfg scoring.Config, reclassify bool) (*EnrichResult, error) {
	log := o.log.With("ticker", e.Ticker)

	quarters, err := o.financials.GetFundamentals(ctx, e.Ticker, cfg.FinancialQuarters)
	if err != nil {
		return nil, fmt.Errorf("fundamentals: %w", err)
	}

	cik := ""
	if e.CIK != nil {
		cik = *e.CIK
	}
	if cik == "" {
		found, err := o.filings.LookupCIK(ctx, e.Ticker)
		switch {
		case err == nil:
			cik = found
		case errors.Is(err, provider.ErrCIKNotFound):
			log.Debug("No CIK registered, skipping filings")
		default:
			return nil, fmt.Errorf("cik lookup: %w", err)
		}
	}

	var filings []models.FilingEvent
	if cik != "" {
		metas, err := o.filings.RecentFilings(ctx, cik, o.cfg.FormTypes, o.cfg.FilingLimit)
		if err != nil {
			return nil, fmt.Errorf("recent filings: %w", err)
		}
		filings, err = o.classifyFilings(ctx, log, e.ID, metas, reclassify)
		if err != nil {
			return nil, err
		}
	}

	history, err := o.repos.Financials.ListByEntity(e.ID, 0)
	if err != nil {
		return nil, fmt.Errorf("stored fundamentals: %w", err)
	}

	res := &EnrichResult{CIK: cik, Quarters: len(quarters), Filings: len(filings)}
	now := o.now()
	err = o.repos.Tx.WithTransaction(func(repos *repository.Repositories) error {
		for _, q := range quarters {
			q.EntityID = e.ID
			clean, dropped := outlier.ScrubIncoming(q, history, e.MarketCap)
			for _, d := range dropped {
				log.Warn("Discarding suspect incoming value",
					"fiscal_period", q.FiscalPeriod, "field", d.Field, "value", d.Value, "reason", d.Reason)
				o.metrics.OutliersRemoved(d.Field, 1)
			}
			res.Discarded += len(dropped)

			if err := repos.Financials.Upsert(clean); err != nil {
				return err
			}
			history = append(history, clean)
		}

		for _, f := range filings {
			written, err := repos.Filings.Upsert(f, reclassify)
			if err != nil {
				return err
			}
			if written {
				res.NewFilings++
			}
		}

		var cikPtr *string
		if cik != "" {
			cikPtr = &cik
		}
		return repos.Entities.MarkEnriched(e.ID, cikPtr, now)
	})
	if err != nil {
		return nil, fmt.Errorf("store enrichment: %w", err)
	}
	return res, nil
}

// classifyFilings classifies filings not yet stored, fetching document text
// only for form types whose classification depends on it
func (o *Orchestrator) classifyFilings(ctx context.Context, log logger.Logger, entityID int64, metas []models.FilingMetadata, reclassify bool) ([]models.FilingEvent, error) {
	known := map[string]bool{}
	if !reclassify {
		ids := make([]string, len(metas))
		for i, m := range metas {
			ids[i] = m.AccessionID
		}
		var err error
		if known, err = o.repos.Filings.Known(ids); err != nil {
			return nil, fmt.Errorf("known filings: %w", err)
		}
	}

	now := o.now()
	var out []models.FilingEvent
	for _, meta := range metas {
		if known[meta.AccessionID] {
			continue
		}

		text := ""
		if classifier.NeedsText(meta.FilingType) && meta.DocumentURL != "" {
			t, err := o.filings.DocumentText(ctx, meta.DocumentURL)
			if err != nil {
				log.Warn("Failed to fetch filing text, classifying by form type", "accession_id", meta.AccessionID, "error", err)
			} else {
				text = t
			}
		}

		res := o.classifier.Classify(classifier.Input{
			FilingType: meta.FilingType,
			FiledDate:  meta.FiledDate,
			Text:       text,
		})
		out = append(out, classifier.ToEvent(entityID, meta, res, now))
	}
	return out, nil
}

// forEach runs fn over entities on a bounded pool of MaxConcurrent workers
func (o *Orchestrator) forEach(ctx context.Context, entities []models.Entity, fn func(e models.Entity)) error {
	semaphore := make(chan struct{}, o.cfg.MaxConcurrent)
	var wg sync.WaitGroup

	for _, e := range entities {
		if ctx.Err() != nil {
			break
		}
		semaphore <- struct{}{}
		wg.Add(1)
		go func(e models.Entity) {
			defer wg.Done()
			defer func() { <-semaphore }()
			fn(e)
		}(e)
	}

	wg.Wait()
	return ctx.Err()
}

func (o *Orchestrator) update(fn func(s *PipelineStats)) {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	if o.active != nil {
		fn(o.active)
	}
}

func (o *Orchestrator) setActive(s *PipelineStats) {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	o.active = s
}

func (o *Orchestrator) setLast(s *PipelineStats) {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	cp := *s
	o.last = &cp
}
