package services

import (
	"context"
	"strings"
	"testing"
	"time"

	apperrors "github.com/ajharbinger/dilution-monitor/internal/errors"
	"github.com/ajharbinger/dilution-monitor/internal/lock"
	"github.com/ajharbinger/dilution-monitor/internal/models"
	"github.com/ajharbinger/dilution-monitor/internal/scoring"
)

var testNow = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

const (
	diluCIK  = "0000000001"
	atmDoc   = "https://example.test/dilu/424b5.htm"
	shelfDoc = "https://example.test/dilu/s3.htm"
)

func newTestOrchestrator(store *memStore, fin FinancialsProvider, fil FilingsProvider, pub *fakePublisher) *Orchestrator {
	deps := Dependencies{
		Repos:      store.repositories(),
		Financials: fin,
		Filings:    fil,
	}
	if pub != nil {
		deps.Publisher = pub
	}
	o := NewOrchestrator(deps, PipelineConfig{MaxConcurrent: 2})
	o.now = func() time.Time { return testNow }
	return o
}

// scenario builds a four-entity universe: a diluter with an active ATM
// program, a cash burner without a registry CIK, a healthy company and a SPAC
func scenario() (*fakeFinancials, *fakeFilings) {
	fin := newFakeFinancials()
	fin.universe = []models.UniverseEntry{
		{Ticker: "DILU", Name: "Dilu Therapeutics Inc", MarketCap: 80e6},
		{Ticker: "BURN", Name: "Burn Labs Inc", MarketCap: 80e6},
		{Ticker: "SAFE", Name: "Safe Holdings Inc", MarketCap: 200e6},
		{Ticker: "ALPA", Name: "Alpha Acquisition Corp", MarketCap: 60e6},
		{Ticker: "ZERO", Name: "Zero Cap Inc", MarketCap: 0},
	}
	fin.quarters["DILU"] = quarterSeries(8, func(i int, r *models.QuarterlyRecord) {
		r.SharesOutstanding = models.FloatPtr(100e6 + float64(i)*50e6/7)
		r.FreeCashFlow = models.FloatPtr(-2e6)
		r.Cash = models.FloatPtr(10e6)
		r.Revenue = models.FloatPtr(1e6)
		r.StockBasedComp = models.FloatPtr(0.5e6)
	})
	fin.quarters["BURN"] = quarterSeries(8, func(i int, r *models.QuarterlyRecord) {
		r.SharesOutstanding = models.FloatPtr(50e6)
		r.FreeCashFlow = models.FloatPtr(-5e6)
		r.Cash = models.FloatPtr(20e6)
	})
	fin.quarters["SAFE"] = quarterSeries(8, func(i int, r *models.QuarterlyRecord) {
		r.SharesOutstanding = models.FloatPtr(30e6)
		r.FreeCashFlow = models.FloatPtr(1e6)
		r.Cash = models.FloatPtr(40e6)
	})
	fin.quarters["ALPA"] = quarterSeries(8, func(i int, r *models.QuarterlyRecord) {
		r.SharesOutstanding = models.FloatPtr(10e6 * float64(i+1))
	})
	fin.prices["DILU"] = -0.42

	fil := newFakeFilings()
	fil.ciks["DILU"] = diluCIK
	fil.filings[diluCIK] = []models.FilingMetadata{
		{AccessionID: "0000000001-24-000010", FilingType: "S-3", FiledDate: date("2024-10-15"), DocumentURL: shelfDoc},
		{AccessionID: "0000000001-24-000020", FilingType: "424B5", FiledDate: date("2024-12-01"), DocumentURL: atmDoc},
	}
	fil.texts[atmDoc] = "The Company has entered into an at-the-market offering of $45.2 million of common stock with its sales agent."
	return fin, fil
}

func TestOrchestrator_FullRun(t *testing.T) {
	store := newMemStore()
	fin, fil := scenario()
	pub := &fakePublisher{}
	o := newTestOrchestrator(store, fin, fil, pub)

	stats, err := o.Run(context.Background(), RunOptions{Mode: models.ModeFull})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	counts := map[string][2]int{
		"universe_size":    {stats.UniverseSize, 5},
		"screened":         {stats.Screened, 3},
		"skipped_excluded": {stats.SkippedExcluded, 1},
		"candidates":       {stats.Candidates, 2},
		"enriched":         {stats.Enriched, 2},
		"scored":           {stats.Scored, 2},
		"unscored":         {stats.Unscored, 0},
		"failed":           {stats.EntitiesFailed, 0},
		"tier_changes":     {stats.TierChanges, 2},
	}
	for name, c := range counts {
		if c[0] != c[1] {
			t.Errorf("%s: expected %d, got %d", name, c[1], c[0])
		}
	}

	if _, err := store.repositories().Entities.GetByTicker("ZERO"); err == nil {
		t.Error("zero market cap entries should not be stored")
	}

	tests := []struct {
		ticker string
		tier   models.Tier
		state  models.PipelineState
	}{
		{"DILU", models.TierWatchlist, models.StateTiered},
		{"BURN", models.TierMonitoring, models.StateTiered},
		{"SAFE", models.TierInactive, models.StateInactive},
		{"ALPA", models.TierInactive, models.StateInactive},
	}
	for _, tt := range tests {
		e := store.entity(tt.ticker)
		if e.Tier != tt.tier || e.State != tt.state {
			t.Errorf("%s: expected %s/%s, got %s/%s", tt.ticker, tt.tier, tt.state, e.Tier, e.State)
		}
	}

	dilu := store.entity("DILU")
	if dilu.CIK == nil || *dilu.CIK != diluCIK {
		t.Errorf("expected CIK to be stored, got %v", dilu.CIK)
	}
	if e := store.entity("ALPA"); !e.IsSPAC || e.ScreenedAt != nil {
		t.Error("SPAC should be flagged and never screened")
	}

	filings, _ := store.repositories().Filings.ListByEntity(dilu.ID)
	if len(filings) != 2 {
		t.Fatalf("expected 2 filings, got %d", len(filings))
	}
	atm := filings[1]
	if !atm.IsDilutionEvent || atm.DilutionType == nil || *atm.DilutionType != models.DilutionATM {
		t.Errorf("expected 424B5 classified as ATM, got %+v", atm)
	}
	if atm.OfferingAmount == nil || atm.OfferingAmount.String() != "45200000" {
		t.Errorf("expected offering amount 45200000, got %v", atm.OfferingAmount)
	}

	snaps := store.snapshotsFor(dilu.ID)
	if len(snaps) != 1 {
		t.Fatalf("expected one DILU snapshot, got %d", len(snaps))
	}
	snap := snaps[0]
	if snap.Tier != models.TierWatchlist || snap.Composite == nil {
		t.Errorf("expected scored watchlist snapshot, got tier=%s composite=%v", snap.Tier, snap.Composite)
	}
	if !snap.ATMProgramActive || !snap.ATMRisk.Available || snap.ATMRisk.Score != 100 {
		t.Errorf("expected fresh shelf without selling to score 100, got %+v", snap.ATMRisk)
	}
	if snap.OfferingCount3Y == nil || *snap.OfferingCount3Y != 2 {
		t.Errorf("expected two offerings, got %v", snap.OfferingCount3Y)
	}
	if snap.PriceChange12M == nil || *snap.PriceChange12M != -0.42 {
		t.Errorf("expected fetched price change, got %v", snap.PriceChange12M)
	}

	burn := store.snapshotsFor(store.entity("BURN").ID)
	if len(burn) != 1 {
		t.Fatalf("expected one BURN snapshot, got %d", len(burn))
	}
	if burn[0].CompIntensity.Available {
		t.Error("BURN reports no revenue or comp, comp intensity should be unavailable")
	}
	if burn[0].PriceChange12M != nil {
		t.Error("failed price fetch with no prior snapshot should leave the change empty")
	}
	if *burn[0].Composite >= *snap.Composite {
		t.Errorf("expected DILU to outrank BURN, got %.2f vs %.2f", *snap.Composite, *burn[0].Composite)
	}

	events := pub.published()
	if len(events) != 2 {
		t.Fatalf("expected 2 tier change events, got %d", len(events))
	}
	for _, ev := range events {
		if ev.PreviousTier != models.TierInactive || ev.RunID != stats.RunID {
			t.Errorf("unexpected event %+v", ev)
		}
	}

	run, err := store.repositories().Runs.GetByID(stats.RunID)
	if err != nil {
		t.Fatalf("expected run record: %v", err)
	}
	if run.Status != models.RunCompleted || run.CompletedAt == nil {
		t.Errorf("expected completed run, got %s", run.Status)
	}
	if run.Summary.Scored != 2 || run.Summary.SkippedSPAC != 1 {
		t.Errorf("unexpected run summary %+v", run.Summary)
	}
}

func TestOrchestrator_RerunIsIdempotent(t *testing.T) {
	store := newMemStore()
	fin, fil := scenario()
	pub := &fakePublisher{}
	o := newTestOrchestrator(store, fin, fil, pub)

	if _, err := o.Run(context.Background(), RunOptions{Mode: models.ModeFull}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	stats, err := o.Run(context.Background(), RunOptions{Mode: models.ModeFull})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if stats.TierChanges != 0 {
		t.Errorf("unchanged data should not move tiers, got %d changes", stats.TierChanges)
	}
	if len(pub.published()) != 2 {
		t.Errorf("expected no new events, got %d total", len(pub.published()))
	}
	if n := fil.textCalls[atmDoc]; n != 1 {
		t.Errorf("stored filings should not be re-fetched, got %d text fetches", n)
	}

	dilu := store.entity("DILU")
	records, _ := store.repositories().Financials.ListByEntity(dilu.ID, 0)
	if len(records) != 8 {
		t.Errorf("expected 8 quarters after two runs, got %d", len(records))
	}
	if len(store.snapshotsFor(dilu.ID)) != 2 {
		t.Error("snapshots are append-only, expected one per run")
	}
}

func TestOrchestrator_ScoreOnlyUsesStoredData(t *testing.T) {
	store := newMemStore()
	marketCap := 80e6
	id := store.addEntity(models.Entity{
		Ticker:    "DILU",
		Name:      "Dilu Therapeutics Inc",
		MarketCap: &marketCap,
		Tier:      models.TierMonitoring,
		State:     models.StateTiered,
	})
	repos := store.repositories()
	for _, q := range quarterSeries(8, func(i int, r *models.QuarterlyRecord) {
		r.SharesOutstanding = models.FloatPtr(100e6 + float64(i)*10e6)
		r.FreeCashFlow = models.FloatPtr(-3e6)
		r.Cash = models.FloatPtr(12e6)
	}) {
		q.EntityID = id
		if err := repos.Financials.Upsert(q); err != nil {
			t.Fatal(err)
		}
	}
	prevChange := 0.3
	prevComposite := 10.0
	if err := repos.Snapshots.Insert(&models.ScoreSnapshot{
		EntityID:       id,
		ScoredAt:       testNow.AddDate(0, -1, 0),
		Composite:      &prevComposite,
		Tier:           models.TierMonitoring,
		PriceChange12M: &prevChange,
	}); err != nil {
		t.Fatal(err)
	}

	o := newTestOrchestrator(store, failingFinancials{t}, failingFilings{t}, nil)
	stats, err := o.Run(context.Background(), RunOptions{Mode: models.ModeScoreOnly})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Scored != 1 || stats.Screened != 0 || stats.Enriched != 0 {
		t.Errorf("expected only scoring, got %s", stats.Summary())
	}

	snaps := store.snapshotsFor(id)
	if len(snaps) != 2 {
		t.Fatalf("expected a new snapshot, got %d", len(snaps))
	}
	latest := snaps[1]
	if latest.PriceChange12M == nil || *latest.PriceChange12M != prevChange {
		t.Errorf("expected price change carried forward, got %v", latest.PriceChange12M)
	}
	// a single ranked entity lands in watchlist: round(1*0.5) - round(1*0.1) = 1
	if e := store.entity("DILU"); e.Tier != models.TierWatchlist {
		t.Errorf("expected watchlist, got %s", e.Tier)
	}
}

func TestOrchestrator_ScoreOnlyWithoutProviders(t *testing.T) {
	store := newMemStore()
	o := newTestOrchestrator(store, nil, nil, nil)

	if _, err := o.Run(context.Background(), RunOptions{Mode: models.ModeScoreOnly}); err != nil {
		t.Fatalf("score_only must not need providers: %v", err)
	}
	_, err := o.Run(context.Background(), RunOptions{Mode: models.ModeFull})
	if !apperrors.Is(err, apperrors.ErrCodeInvalidInput) {
		t.Errorf("expected invalid input without providers, got %v", err)
	}
	_, err = o.Run(context.Background(), RunOptions{Mode: "everything"})
	if !apperrors.Is(err, apperrors.ErrCodeInvalidInput) {
		t.Errorf("expected invalid input for unknown mode, got %v", err)
	}
}

func TestOrchestrator_FailureIsolation(t *testing.T) {
	store := newMemStore()
	fin, fil := scenario()
	fin.failTickers["BURN"] = true
	o := newTestOrchestrator(store, fin, fil, nil)

	stats, err := o.Run(context.Background(), RunOptions{Mode: models.ModeFull})
	if err != nil {
		t.Fatalf("a single entity failure must not fail the run: %v", err)
	}
	if stats.EntitiesFailed != 1 {
		t.Errorf("expected 1 failed entity, got %d", stats.EntitiesFailed)
	}
	if stats.Scored != 1 {
		t.Errorf("expected DILU still scored, got %d", stats.Scored)
	}
	if e := store.entity("BURN"); e.ScreenedAt != nil || e.State != models.StateInactive {
		t.Errorf("failed screen should leave BURN untouched, got %+v", e)
	}
}

func TestOrchestrator_ReenrichFailureKeepsTier(t *testing.T) {
	store := newMemStore()
	fin, fil := scenario()
	o := newTestOrchestrator(store, fin, fil, nil)

	if _, err := o.Run(context.Background(), RunOptions{Mode: models.ModeFull}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if e := store.entity("DILU"); e.Tier != models.TierWatchlist {
		t.Fatalf("expected DILU on the watchlist after the first run, got %s", e.Tier)
	}

	fil.mu.Lock()
	fil.failCIKs[diluCIK] = true
	fil.mu.Unlock()

	stats, err := o.Run(context.Background(), RunOptions{Mode: models.ModeFull})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if stats.EntitiesFailed != 1 {
		t.Errorf("expected the failed enrichment to be counted, got %d", stats.EntitiesFailed)
	}
	if stats.Scored != 2 || stats.Unscored != 0 {
		t.Errorf("expected both promoted entities scored from stored data, got scored=%d unscored=%d", stats.Scored, stats.Unscored)
	}
	if stats.TierChanges != 0 {
		t.Errorf("expected no tier changes, got %d", stats.TierChanges)
	}

	dilu := store.entity("DILU")
	if dilu.Tier != models.TierWatchlist || dilu.State != models.StateTiered {
		t.Errorf("expected DILU to stay watchlist/tiered, got %s/%s", dilu.Tier, dilu.State)
	}
	snaps := store.snapshotsFor(dilu.ID)
	if len(snaps) != 2 || snaps[1].Composite == nil {
		t.Errorf("expected a scored snapshot for the second run, got %d snapshots", len(snaps))
	}
}

func TestOrchestrator_Busy(t *testing.T) {
	store := newMemStore()
	lk := lock.NewLocalLock()
	release, err := lk.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	o := NewOrchestrator(Dependencies{Repos: store.repositories(), Lock: lk}, PipelineConfig{})
	_, err = o.Run(context.Background(), RunOptions{Mode: models.ModeScoreOnly})
	if !apperrors.Is(err, apperrors.ErrCodePipelineBusy) {
		t.Fatalf("expected busy error, got %v", err)
	}
	if _, err := o.Trigger(context.Background(), RunOptions{Mode: models.ModeScoreOnly}); !apperrors.Is(err, apperrors.ErrCodePipelineBusy) {
		t.Errorf("expected trigger to report busy, got %v", err)
	}

	if err := release(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := o.Run(context.Background(), RunOptions{Mode: models.ModeScoreOnly}); err != nil {
		t.Errorf("expected run after release, got %v", err)
	}
}

func TestOrchestrator_Resume(t *testing.T) {
	store := newMemStore()
	fin, fil := scenario()
	fin.universe = fin.universe[:2]

	screened := testNow.AddDate(0, 0, -1)
	marketCap := 80e6
	// DILU was screened but the run died before enrichment
	store.addEntity(models.Entity{
		Ticker: "DILU", Name: "Dilu Therapeutics Inc", MarketCap: &marketCap,
		State: models.StateCandidate, ScreenedAt: &screened,
	})
	// BURN finished both phases
	burnID := store.addEntity(models.Entity{
		Ticker: "BURN", Name: "Burn Labs Inc", MarketCap: &marketCap,
		State: models.StateEnriched, ScreenedAt: &screened, EnrichedAt: &screened,
	})
	for _, q := range fin.quarters["BURN"] {
		q.EntityID = burnID
		store.repositories().Financials.Upsert(q)
	}

	o := newTestOrchestrator(store, fin, fil, nil)
	stats, err := o.Run(context.Background(), RunOptions{Mode: models.ModeFull, Resume: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.ScreenSkipped != 2 || stats.Screened != 0 {
		t.Errorf("expected both screens skipped, got %s", stats.Summary())
	}
	if stats.Candidates != 2 {
		t.Errorf("skipped promoted entities still count as candidates, got %d", stats.Candidates)
	}
	if n := fin.callCount("fundamentals:DILU"); n != 1 {
		t.Errorf("expected DILU fetched once for enrichment, got %d", n)
	}
	if n := fin.callCount("fundamentals:BURN"); n != 0 {
		t.Errorf("expected no fetch for completed BURN, got %d", n)
	}
	if stats.Scored != 2 {
		t.Errorf("expected both scored, got %d", stats.Scored)
	}
}

func TestOrchestrator_EnrichEntityIsIdempotent(t *testing.T) {
	store := newMemStore()
	fin, fil := scenario()
	o := newTestOrchestrator(store, fin, fil, nil)

	marketCap := 80e6
	id := store.addEntity(models.Entity{Ticker: "DILU", Name: "Dilu Therapeutics Inc", MarketCap: &marketCap, State: models.StateCandidate})
	e := store.entity("DILU")
	cfg := scoring.DefaultConfig()

	first, err := o.EnrichEntity(context.Background(), e, cfg, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Quarters != 8 || first.NewFilings != 2 || first.CIK != diluCIK {
		t.Errorf("unexpected first result %+v", first)
	}

	second, err := o.EnrichEntity(context.Background(), store.entity("DILU"), cfg, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.NewFilings != 0 || second.Filings != 0 {
		t.Errorf("known filings should be skipped, got %+v", second)
	}
	if n := fil.textCalls[atmDoc]; n != 1 {
		t.Errorf("expected one document fetch, got %d", n)
	}
	if n := fil.textCalls[shelfDoc]; n != 0 {
		t.Errorf("shelf forms are classified without text, got %d fetches", n)
	}

	records, _ := store.repositories().Financials.ListByEntity(id, 0)
	if len(records) != 8 {
		t.Errorf("expected 8 stored quarters, got %d", len(records))
	}
	if st := store.entity("DILU").State; st != models.StateEnriched {
		t.Errorf("expected enriched state, got %s", st)
	}

	third, err := o.EnrichEntity(context.Background(), store.entity("DILU"), cfg, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if third.NewFilings != 2 {
		t.Errorf("reclassify should rewrite both filings, got %d", third.NewFilings)
	}
}

func TestOrchestrator_EnrichDiscardsSuspectValues(t *testing.T) {
	store := newMemStore()
	fin := newFakeFinancials()
	fil := newFakeFilings()
	o := newTestOrchestrator(store, fin, fil, nil)

	marketCap := 50e6
	id := store.addEntity(models.Entity{Ticker: "SPKE", Name: "Spike Corp", MarketCap: &marketCap, State: models.StateCandidate})

	series := quarterSeries(5, func(i int, r *models.QuarterlyRecord) {
		r.SharesOutstanding = models.FloatPtr(20e6)
		r.Cash = models.FloatPtr(10e6)
	})
	for _, q := range series[:4] {
		q.EntityID = id
		store.repositories().Financials.Upsert(q)
	}
	// the newest quarter reports cash in the wrong unit
	series[4].Cash = models.FloatPtr(10e9)
	fin.quarters["SPKE"] = series

	res, err := o.EnrichEntity(context.Background(), store.entity("SPKE"), scoring.DefaultConfig(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Discarded != 1 {
		t.Errorf("expected one discarded value, got %d", res.Discarded)
	}

	records, _ := store.repositories().Financials.ListByEntity(id, 0)
	newest := records[len(records)-1]
	if newest.FiscalPeriod != series[4].FiscalPeriod {
		t.Fatalf("unexpected newest period %s", newest.FiscalPeriod)
	}
	if newest.Cash != nil {
		t.Errorf("suspect cash should be stored as null, got %v", *newest.Cash)
	}
	if newest.SharesOutstanding == nil {
		t.Error("plausible fields of the same quarter must be kept")
	}
}

func TestPipelineStats_Summary(t *testing.T) {
	s := &PipelineStats{
		Screened:       3,
		Candidates:     2,
		Enriched:       2,
		Scored:         1,
		Unscored:       1,
		EntitiesFailed: 1,
		TierChanges:    2,
		Duration:       90 * time.Second,
	}
	summary := s.Summary()
	for _, want := range []string{"screened=3", "candidates=2", "failed=1", "tier_changes=2", "duration=1m30s"} {
		if !strings.Contains(summary, want) {
			t.Errorf("expected %q in %q", want, summary)
		}
	}
}
