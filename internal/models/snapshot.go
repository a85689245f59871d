package models

import (
	"time"

	"github.com/google/uuid"
)

// SubScore is a 0-100 score that may be unavailable.
// An unavailable sub-score is excluded from composite weighting, which is not the same as 0.
type SubScore struct {
	Score     float64 `json:"score"`
	Available bool    `json:"available"`
}

// Ptr returns the score or nil when unavailable, for nullable columns and JSON
func (s SubScore) Ptr() *float64 {
	if !s.Available {
		return nil
	}
	v := s.Score
	return &v
}

// SubScoreFrom builds a SubScore from a nullable value
func SubScoreFrom(v *float64) SubScore {
	if v == nil {
		return SubScore{}
	}
	return SubScore{Score: *v, Available: true}
}

// ScoreSnapshot is one append-only scoring result for an entity
type ScoreSnapshot struct {
	ID       uuid.UUID `json:"id" db:"id"`
	EntityID int64     `json:"entity_id" db:"entity_id"`
	Ticker   string    `json:"ticker" db:"-"`
	RunID    uuid.UUID `json:"run_id" db:"run_id"`
	ScoredAt time.Time `json:"scored_at" db:"scored_at"`

	ShareGrowth   SubScore `json:"share_growth"`
	CashBurn      SubScore `json:"cash_burn"`
	CompIntensity SubScore `json:"comp_intensity"`
	OfferingFreq  SubScore `json:"offering_freq"`
	CashRunway    SubScore `json:"cash_runway"`
	ATMRisk       SubScore `json:"atm_risk"`

	ShareCAGR        *float64 `json:"share_cagr" db:"share_cagr"`
	FCFBurnRate      *float64 `json:"fcf_burn_rate" db:"fcf_burn_rate"`
	SBCRevenuePct    *float64 `json:"sbc_revenue_pct" db:"sbc_revenue_pct"`
	OfferingCount3Y  *int     `json:"offering_count_3y" db:"offering_count_3y"`
	CashRunwayMonths *float64 `json:"cash_runway_months" db:"cash_runway_months"`
	ATMProgramActive bool     `json:"atm_program_active" db:"atm_program_active"`

	// Composite is nil when every sub-score is unavailable; such entities are unranked.
	Composite      *float64 `json:"composite" db:"composite"`
	Tier           Tier     `json:"tier" db:"tier"`
	PriceChange12M *float64 `json:"price_change_12m" db:"price_change_12m"`
}

// Ranked reports whether the snapshot takes part in percentile tiering
func (s *ScoreSnapshot) Ranked() bool {
	return s.Composite != nil
}
