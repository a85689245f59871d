package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ajharbinger/dilution-monitor/internal/events"
	"github.com/ajharbinger/dilution-monitor/internal/models"
	"github.com/ajharbinger/dilution-monitor/internal/outlier"
	"github.com/ajharbinger/dilution-monitor/internal/provider"
	"github.com/ajharbinger/dilution-monitor/internal/repository"
	"github.com/ajharbinger/dilution-monitor/internal/scoring"
)

// memStore backs every in-memory repository used by the service tests
type memStore struct {
	mu        sync.Mutex
	nextID    int64
	entities  map[int64]*models.Entity
	quarters  map[int64]map[string]models.QuarterlyRecord
	filings   map[string]models.FilingEvent
	snapshots []models.ScoreSnapshot
	config    *scoring.Config
	runs      map[uuid.UUID]models.PipelineRun
	nulled    []string
}

func newMemStore() *memStore {
	return &memStore{
		entities: make(map[int64]*models.Entity),
		quarters: make(map[int64]map[string]models.QuarterlyRecord),
		filings:  make(map[string]models.FilingEvent),
		runs:     make(map[uuid.UUID]models.PipelineRun),
	}
}

func (s *memStore) repositories() *repository.Repositories {
	repos := &repository.Repositories{
		Entities:   &memEntities{s},
		Financials: &memFinancials{s},
		Filings:    &memFilings{s},
		Snapshots:  &memSnapshots{s},
		Config:     &memConfig{s},
		Runs:       &memRuns{s},
	}
	repos.Tx = &memTx{repos: repos}
	return repos
}

// addEntity seeds an entity directly and returns its ID
func (s *memStore) addEntity(e models.Entity) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.ID = s.nextID
	if e.Tier == "" {
		e.Tier = models.TierInactive
	}
	if e.State == "" {
		e.State = models.StateInactive
	}
	s.entities[e.ID] = &e
	return e.ID
}

func (s *memStore) entity(ticker string) models.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entities {
		if e.Ticker == ticker {
			return *e
		}
	}
	return models.Entity{}
}

func (s *memStore) snapshotsFor(entityID int64) []models.ScoreSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ScoreSnapshot
	for _, snap := range s.snapshots {
		if snap.EntityID == entityID {
			out = append(out, snap)
		}
	}
	return out
}

type memTx struct {
	repos *repository.Repositories
}

func (t *memTx) WithTransaction(fn func(repos *repository.Repositories) error) error {
	return fn(t.repos)
}

type memEntities struct{ s *memStore }

func (r *memEntities) GetByID(id int64) (*models.Entity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.entities[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *memEntities) GetByTicker(ticker string) (*models.Entity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.entities {
		if e.Ticker == ticker {
			cp := *e
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memEntities) Upsert(entry models.UniverseEntry, isSPAC bool) (*models.Entity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	mc := entry.MarketCap
	for _, e := range r.s.entities {
		if e.Ticker == entry.Ticker {
			e.Name = entry.Name
			e.MarketCap = &mc
			e.IsSPAC = isSPAC
			cp := *e
			return &cp, nil
		}
	}
	r.s.nextID++
	e := &models.Entity{
		ID:        r.s.nextID,
		Ticker:    entry.Ticker,
		Name:      entry.Name,
		MarketCap: &mc,
		IsSPAC:    isSPAC,
		Tier:      models.TierInactive,
		State:     models.StateInactive,
	}
	r.s.entities[e.ID] = e
	cp := *e
	return &cp, nil
}

func (r *memEntities) List(f repository.EntityFilters) ([]models.Entity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []models.Entity
	for _, e := range r.s.entities {
		if len(f.States) > 0 && !containsState(f.States, e.State) {
			continue
		}
		if len(f.Tiers) > 0 && !containsTier(f.Tiers, e.Tier) {
			continue
		}
		if f.ExcludeSPAC && e.IsSPAC {
			continue
		}
		if f.Unscreened && e.ScreenedAt != nil {
			continue
		}
		if f.Unenriched && e.EnrichedAt != nil {
			continue
		}
		if f.HasFundamentals && len(r.s.quarters[e.ID]) == 0 {
			continue
		}
		out = append(out, *e)
	}

	sort.Slice(out, func(i, j int) bool {
		if f.OrderByMarketCap {
			return models.Float(out[i].MarketCap) < models.Float(out[j].MarketCap)
		}
		return out[i].Ticker < out[j].Ticker
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *memEntities) MarkScreened(id int64, state models.PipelineState, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.entities[id]
	if !ok {
		return repository.ErrNotFound
	}
	e.State = state
	e.ScreenedAt = &at
	return nil
}

func (r *memEntities) MarkEnriched(id int64, cik *string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.entities[id]
	if !ok {
		return repository.ErrNotFound
	}
	e.State = models.StateEnriched
	e.EnrichedAt = &at
	if cik != nil {
		e.CIK = cik
	}
	return nil
}

func (r *memEntities) UpdateTier(id int64, tier models.Tier, state models.PipelineState) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.entities[id]
	if !ok {
		return repository.ErrNotFound
	}
	e.Tier = tier
	e.State = state
	return nil
}

func (r *memEntities) TierCounts() (map[models.Tier]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	counts := map[models.Tier]int{}
	for _, e := range r.s.entities {
		counts[e.Tier]++
	}
	return counts, nil
}

type memFinancials struct{ s *memStore }

func (r *memFinancials) Upsert(rec models.QuarterlyRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	byPeriod, ok := r.s.quarters[rec.EntityID]
	if !ok {
		byPeriod = make(map[string]models.QuarterlyRecord)
		r.s.quarters[rec.EntityID] = byPeriod
	}
	if prev, ok := byPeriod[rec.FiscalPeriod]; ok {
		for _, field := range outlier.Fields {
			if *outlier.FieldValue(&rec, field) == nil {
				*outlier.FieldValue(&rec, field) = *outlier.FieldValue(&prev, field)
			}
		}
	}
	byPeriod[rec.FiscalPeriod] = rec
	return nil
}

func (r *memFinancials) ListByEntity(entityID int64, limit int) ([]models.QuarterlyRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.QuarterlyRecord
	for _, rec := range r.s.quarters[entityID] {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiscalPeriod < out[j].FiscalPeriod })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (r *memFinancials) EntityIDs() ([]int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []int64
	for id := range r.s.quarters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *memFinancials) NullField(entityID int64, fiscalPeriod, field string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.quarters[entityID][fiscalPeriod]
	if !ok {
		return repository.ErrNotFound
	}
	ptr := outlier.FieldValue(&rec, field)
	if ptr == nil {
		return errors.New("unknown field " + field)
	}
	*ptr = nil
	r.s.quarters[entityID][fiscalPeriod] = rec
	r.s.nulled = append(r.s.nulled, fiscalPeriod+"/"+field)
	return nil
}

type memFilings struct{ s *memStore }

func (r *memFilings) Upsert(event models.FilingEvent, reclassify bool) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.filings[event.AccessionID]; ok && !reclassify {
		return false, nil
	}
	r.s.filings[event.AccessionID] = event
	return true, nil
}

func (r *memFilings) ListByEntity(entityID int64) ([]models.FilingEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.FilingEvent
	for _, f := range r.s.filings {
		if f.EntityID == entityID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccessionID < out[j].AccessionID })
	return out, nil
}

func (r *memFilings) Known(ids []string) (map[string]bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	known := make(map[string]bool)
	for _, id := range ids {
		if _, ok := r.s.filings[id]; ok {
			known[id] = true
		}
	}
	return known, nil
}

type memSnapshots struct{ s *memStore }

func (r *memSnapshots) Insert(snap *models.ScoreSnapshot) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.snapshots = append(r.s.snapshots, *snap)
	return nil
}

func (r *memSnapshots) Latest(f repository.SnapshotFilters) ([]models.ScoreSnapshot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	latest := make(map[int64]models.ScoreSnapshot)
	for _, snap := range r.s.snapshots {
		if prev, ok := latest[snap.EntityID]; !ok || !snap.ScoredAt.Before(prev.ScoredAt) {
			latest[snap.EntityID] = snap
		}
	}
	var out []models.ScoreSnapshot
	for id, e := range r.s.entities {
		snap, ok := latest[id]
		if !ok && e.State == models.StateInactive {
			continue
		}
		if !ok {
			snap = models.ScoreSnapshot{EntityID: id, Ticker: e.Ticker}
		}
		snap.Tier = e.Tier
		if len(f.Tiers) > 0 && !containsTier(f.Tiers, snap.Tier) {
			continue
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Composite, out[j].Composite
		if a == nil || b == nil {
			return a != nil
		}
		return *a > *b
	})
	return out, nil
}

func (r *memSnapshots) LatestForEntity(entityID int64) (*models.ScoreSnapshot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var found *models.ScoreSnapshot
	for i := range r.s.snapshots {
		snap := r.s.snapshots[i]
		if snap.EntityID == entityID && (found == nil || !snap.ScoredAt.Before(found.ScoredAt)) {
			found = &snap
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	return found, nil
}

func (r *memSnapshots) History(entityID int64, limit int) ([]models.ScoreSnapshot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.ScoreSnapshot
	for i := len(r.s.snapshots) - 1; i >= 0; i-- {
		if r.s.snapshots[i].EntityID == entityID {
			out = append(out, r.s.snapshots[i])
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memConfig struct{ s *memStore }

func (r *memConfig) Get() (scoring.Config, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.config == nil {
		return scoring.Config{}, repository.ErrNotFound
	}
	return *r.s.config, nil
}

func (r *memConfig) Save(cfg scoring.Config) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.config = &cfg
	return nil
}

type memRuns struct{ s *memStore }

func (r *memRuns) Create(run *models.PipelineRun) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.runs[run.ID] = *run
	return nil
}

func (r *memRuns) Finish(run *models.PipelineRun) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.runs[run.ID] = *run
	return nil
}

func (r *memRuns) GetByID(id uuid.UUID) (*models.PipelineRun, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	run, ok := r.s.runs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &run, nil
}

func (r *memRuns) Latest() (*models.PipelineRun, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest *models.PipelineRun
	for _, run := range r.s.runs {
		run := run
		if latest == nil || run.StartedAt.After(latest.StartedAt) {
			latest = &run
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	return latest, nil
}

func containsState(states []models.PipelineState, s models.PipelineState) bool {
	for _, v := range states {
		if v == s {
			return true
		}
	}
	return false
}

func containsTier(tiers []models.Tier, t models.Tier) bool {
	for _, v := range tiers {
		if v == t {
			return true
		}
	}
	return false
}

// fakeFinancials serves fixed fundamentals per ticker
type fakeFinancials struct {
	mu          sync.Mutex
	universe    []models.UniverseEntry
	quarters    map[string][]models.QuarterlyRecord
	prices      map[string]float64
	failTickers map[string]bool
	calls       map[string]int
}

func newFakeFinancials() *fakeFinancials {
	return &fakeFinancials{
		quarters:    make(map[string][]models.QuarterlyRecord),
		prices:      make(map[string]float64),
		failTickers: make(map[string]bool),
		calls:       make(map[string]int),
	}
}

func (f *fakeFinancials) ListUniverse(ctx context.Context) ([]models.UniverseEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["universe"]++
	return f.universe, nil
}

func (f *fakeFinancials) GetFundamentals(ctx context.Context, ticker string, quarters int) ([]models.QuarterlyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["fundamentals:"+ticker]++
	if f.failTickers[ticker] {
		return nil, errors.New("provider unavailable")
	}
	all := f.quarters[ticker]
	if quarters > 0 && len(all) > quarters {
		all = all[len(all)-quarters:]
	}
	out := make([]models.QuarterlyRecord, len(all))
	copy(out, all)
	return out, nil
}

func (f *fakeFinancials) GetPriceChange12M(ctx context.Context, ticker string, now time.Time) (*float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["price:"+ticker]++
	v, ok := f.prices[ticker]
	if !ok {
		return nil, errors.New("no price history")
	}
	return &v, nil
}

func (f *fakeFinancials) callCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

// fakeFilings serves fixed registry data per ticker
type fakeFilings struct {
	mu        sync.Mutex
	ciks      map[string]string
	filings   map[string][]models.FilingMetadata
	texts     map[string]string
	textCalls map[string]int
	failCIKs  map[string]bool
}

func newFakeFilings() *fakeFilings {
	return &fakeFilings{
		ciks:      make(map[string]string),
		filings:   make(map[string][]models.FilingMetadata),
		texts:     make(map[string]string),
		textCalls: make(map[string]int),
		failCIKs:  make(map[string]bool),
	}
}

func (f *fakeFilings) LookupCIK(ctx context.Context, ticker string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cik, ok := f.ciks[ticker]
	if !ok {
		return "", provider.ErrCIKNotFound
	}
	return cik, nil
}

func (f *fakeFilings) RecentFilings(ctx context.Context, cik string, formTypes []string, limit int) ([]models.FilingMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCIKs[cik] {
		return nil, errors.New("registry unavailable")
	}
	return f.filings[cik], nil
}

func (f *fakeFilings) DocumentText(ctx context.Context, documentURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.textCalls[documentURL]++
	text, ok := f.texts[documentURL]
	if !ok {
		return "", errors.New("document not found")
	}
	return text, nil
}

// failingFinancials and failingFilings fail the test on any call
type failingFinancials struct{ t *testing.T }

func (f failingFinancials) ListUniverse(context.Context) ([]models.UniverseEntry, error) {
	f.t.Error("unexpected ListUniverse call")
	return nil, errors.New("unexpected call")
}

func (f failingFinancials) GetFundamentals(_ context.Context, ticker string, _ int) ([]models.QuarterlyRecord, error) {
	f.t.Errorf("unexpected GetFundamentals call for %s", ticker)
	return nil, errors.New("unexpected call")
}

func (f failingFinancials) GetPriceChange12M(_ context.Context, ticker string, _ time.Time) (*float64, error) {
	f.t.Errorf("unexpected GetPriceChange12M call for %s", ticker)
	return nil, errors.New("unexpected call")
}

type failingFilings struct{ t *testing.T }

func (f failingFilings) LookupCIK(_ context.Context, ticker string) (string, error) {
	f.t.Errorf("unexpected LookupCIK call for %s", ticker)
	return "", errors.New("unexpected call")
}

func (f failingFilings) RecentFilings(context.Context, string, []string, int) ([]models.FilingMetadata, error) {
	f.t.Error("unexpected RecentFilings call")
	return nil, errors.New("unexpected call")
}

func (f failingFilings) DocumentText(context.Context, string) (string, error) {
	f.t.Error("unexpected DocumentText call")
	return "", errors.New("unexpected call")
}

// fakePublisher records published tier changes
type fakePublisher struct {
	mu     sync.Mutex
	events []events.TierChanged
}

func (p *fakePublisher) PublishTierChanges(_ context.Context, evs []events.TierChanged) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evs...)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) published() []events.TierChanged {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.TierChanged, len(p.events))
	copy(out, p.events)
	return out
}

// quarterSeries builds consecutive quarters ending at 2024-Q4
func quarterSeries(n int, fn func(i int, r *models.QuarterlyRecord)) []models.QuarterlyRecord {
	out := make([]models.QuarterlyRecord, n)
	start := 2024*4 + 3 - (n - 1)
	for i := range out {
		idx := start + i
		year, q := idx/4, idx%4+1
		out[i] = models.QuarterlyRecord{
			FiscalYear:   year,
			Quarter:      q,
			FiscalPeriod: models.FiscalPeriodFromDate(time.Date(year, time.Month(q*3), 1, 0, 0, 0, 0, time.UTC)),
		}
		fn(i, &out[i])
	}
	return out
}

func date(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}
