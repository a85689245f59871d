package repository

import (
	"errors"
	"time"

	"github.com/ajharbinger/dilution-monitor/internal/models"
	"github.com/ajharbinger/dilution-monitor/internal/scoring"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned on unique constraint violations
	ErrConflict = errors.New("record already exists")
)

// EntityRepository defines the interface for tracked entity data access
type EntityRepository interface {
	GetByID(id int64) (*models.Entity, error)
	GetByTicker(ticker string) (*models.Entity, error)

	// Upsert inserts or refreshes an entity from the universe feed, keyed by ticker.
	// Tier and pipeline state of an existing row are left untouched.
	Upsert(entry models.UniverseEntry, isSPAC bool) (*models.Entity, error)

	List(filters EntityFilters) ([]models.Entity, error)
	MarkScreened(id int64, state models.PipelineState, at time.Time) error
	MarkEnriched(id int64, cik *string, at time.Time) error
	UpdateTier(id int64, tier models.Tier, state models.PipelineState) error
	TierCounts() (map[models.Tier]int, error)
}

// FinancialsRepository defines the interface for quarterly fundamentals
type FinancialsRepository interface {
	// Upsert is keyed by (entity_id, fiscal_period)
	Upsert(rec models.QuarterlyRecord) error
	// ListByEntity returns the most recent limit quarters, oldest first. limit <= 0 returns all.
	ListByEntity(entityID int64, limit int) ([]models.QuarterlyRecord, error)
	EntityIDs() ([]int64, error)
	NullField(entityID int64, fiscalPeriod, field string) error
}

// FilingRepository defines the interface for classified filings
type FilingRepository interface {
	// Upsert inserts a filing keyed by accession id. Existing rows are only
	// overwritten when reclassify is set. Reports whether a row was written.
	Upsert(event models.FilingEvent, reclassify bool) (bool, error)
	ListByEntity(entityID int64) ([]models.FilingEvent, error)
	Known(accessionIDs []string) (map[string]bool, error)
}

// SnapshotRepository defines the interface for append-only score snapshots
type SnapshotRepository interface {
	Insert(s *models.ScoreSnapshot) error
	Latest(filters SnapshotFilters) ([]models.ScoreSnapshot, error)
	LatestForEntity(entityID int64) (*models.ScoreSnapshot, error)
	History(entityID int64, limit int) ([]models.ScoreSnapshot, error)
}

// ConfigRepository persists the runtime scoring configuration
type ConfigRepository interface {
	// Get returns ErrNotFound when no configuration was ever saved
	Get() (scoring.Config, error)
	Save(cfg scoring.Config) error
}

// RunRepository records pipeline executions
type RunRepository interface {
	Create(run *models.PipelineRun) error
	Finish(run *models.PipelineRun) error
	GetByID(id uuid.UUID) (*models.PipelineRun, error)
	Latest() (*models.PipelineRun, error)
}

// TransactionManager defines the interface for database transaction management
type TransactionManager interface {
	WithTransaction(fn func(repos *Repositories) error) error
}

// Repositories groups all repository interfaces
type Repositories struct {
	Entities   EntityRepository
	Financials FinancialsRepository
	Filings    FilingRepository
	Snapshots  SnapshotRepository
	Config     ConfigRepository
	Runs       RunRepository
	Tx         TransactionManager
}

// EntityFilters defines filters for listing entities
type EntityFilters struct {
	States      []models.PipelineState
	Tiers       []models.Tier
	ExcludeSPAC bool
	// Unscreened keeps entities with no screened_at
	Unscreened bool
	// Unenriched keeps entities with no enriched_at
	Unenriched bool
	// HasFundamentals keeps entities with at least one stored quarter
	HasFundamentals bool
	// OrderByMarketCap sorts ascending by market cap instead of by ticker
	OrderByMarketCap bool
	Limit            int
}

// Snapshot sort keys
const (
	SortComposite = "composite"
	SortTicker    = "ticker"
	SortScoredAt  = "scored_at"
)

// SnapshotFilters defines filters for the latest snapshot per entity
type SnapshotFilters struct {
	Tiers     []models.Tier
	MinScore  *float64
	MaxScore  *float64
	Sector    string
	ATMActive *bool
	Sort      string
	Limit     int
	Offset    int
}
