package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Tier is the tracking tier assigned to an entity after scoring
type Tier string

const (
	TierInactive   Tier = "inactive"
	TierMonitoring Tier = "monitoring"
	TierWatchlist  Tier = "watchlist"
	TierCritical   Tier = "critical"
)

// Valid reports whether t is a known tier
func (t Tier) Valid() bool {
	switch t {
	case TierInactive, TierMonitoring, TierWatchlist, TierCritical:
		return true
	}
	return false
}

// Promoted reports whether the entity has passed screening at some point
func (t Tier) Promoted() bool {
	return t == TierMonitoring || t == TierWatchlist || t == TierCritical
}

// PipelineState tracks where an entity is in the screening/enrichment flow
type PipelineState string

const (
	StateInactive  PipelineState = "inactive"
	StateCandidate PipelineState = "candidate"
	StateEnriched  PipelineState = "enriched"
	StateTiered    PipelineState = "tiered"
)

// Entity represents a tracked company
type Entity struct {
	ID         int64         `json:"id" db:"id"`
	Ticker     string        `json:"ticker" db:"ticker"`
	CIK        *string       `json:"cik,omitempty" db:"cik"`
	Name       string        `json:"name" db:"name"`
	Sector     *string       `json:"sector,omitempty" db:"sector"`
	Exchange   *string       `json:"exchange,omitempty" db:"exchange"`
	MarketCap  *float64      `json:"market_cap,omitempty" db:"market_cap"`
	IsSPAC     bool          `json:"is_spac" db:"is_spac"`
	Tier       Tier          `json:"tier" db:"tier"`
	State      PipelineState `json:"state" db:"state"`
	ScreenedAt *time.Time    `json:"screened_at,omitempty" db:"screened_at"`
	EnrichedAt *time.Time    `json:"enriched_at,omitempty" db:"enriched_at"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at" db:"updated_at"`
}

// UniverseEntry is one row of the equity universe as returned by the provider
type UniverseEntry struct {
	Ticker    string  `json:"ticker"`
	Name      string  `json:"name"`
	Sector    string  `json:"sector"`
	Exchange  string  `json:"exchange"`
	MarketCap float64 `json:"market_cap"`
}

// RunMode selects which pipeline phases run
type RunMode string

const (
	ModeFull       RunMode = "full"
	ModeQuick      RunMode = "quick"
	ModeScoreOnly  RunMode = "score_only"
	ModeEnrichOnly RunMode = "enrich_only"
)

// ParseRunMode validates a mode string
func ParseRunMode(s string) (RunMode, error) {
	switch RunMode(s) {
	case ModeFull, ModeQuick, ModeScoreOnly, ModeEnrichOnly:
		return RunMode(s), nil
	}
	return "", fmt.Errorf("unknown pipeline mode %q", s)
}

// RunStatus represents pipeline run status values
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// PipelineRun records one orchestrator execution
type PipelineRun struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	Mode         RunMode    `json:"mode" db:"mode"`
	Resume       bool       `json:"resume" db:"resume"`
	Status       RunStatus  `json:"status" db:"status"`
	Summary      RunSummary `json:"summary" db:"summary"`
	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	ErrorMessage string     `json:"error_message,omitempty" db:"error_message"`
}

// RunSummary holds the per-phase counts of a run
type RunSummary struct {
	UniverseSize   int          `json:"universe_size"`
	Screened       int          `json:"screened"`
	SkippedSPAC    int          `json:"skipped_spac"`
	Candidates     int          `json:"candidates"`
	Enriched       int          `json:"enriched"`
	EnrichSkipped  int          `json:"enrich_skipped"`
	Scored         int          `json:"scored"`
	Unscored       int          `json:"unscored"`
	EntitiesFailed int          `json:"entities_failed"`
	TierCounts     map[Tier]int `json:"tier_counts"`
}

// Value implements driver.Valuer for RunSummary
func (s RunSummary) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner for RunSummary
func (s *RunSummary) Scan(value interface{}) error {
	if value == nil {
		*s = RunSummary{}
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into RunSummary", value)
	}

	return json.Unmarshal(bytes, s)
}
