package scoring

import (
	"time"

	"github.com/ajharbinger/dilution-monitor/internal/models"
	"github.com/google/uuid"
)

// Sub-score names used in weights, logs and metrics
const (
	ShareGrowth   = "share_growth"
	CashBurn      = "cash_burn"
	CompIntensity = "comp_intensity"
	OfferingFreq  = "offering_freq"
	CashRunway    = "cash_runway"
	ATMRisk       = "atm_risk"
)

// EntityInput is everything needed to score one entity
type EntityInput struct {
	Entity   models.Entity
	Quarters []models.QuarterlyRecord
	Filings  []models.FilingEvent
}

// Result holds the six sub-scores, their raw metrics and the composite
type Result struct {
	ShareGrowth   models.SubScore
	CashBurn      models.SubScore
	CompIntensity models.SubScore
	OfferingFreq  models.SubScore
	CashRunway    models.SubScore
	ATMRisk       models.SubScore

	ShareCAGR        *float64
	FCFBurnRate      *float64
	SBCRevenuePct    *float64
	OfferingCount    int
	CashRunwayMonths *float64
	ATMProgramActive bool

	Composite *float64

	// Outliers lists values excluded from burn averages, for logging by the caller
	Outliers []OutlierRemoval
}

// Scored reports whether the composite is defined
func (r Result) Scored() bool {
	return r.Composite != nil
}

// Parts returns the sub-scores paired with their configured weights
func (r Result) Parts(cfg Config) []WeightedScore {
	return []WeightedScore{
		{Name: ShareGrowth, Score: r.ShareGrowth, Weight: cfg.WeightShareCAGR},
		{Name: CashBurn, Score: r.CashBurn, Weight: cfg.WeightFCFBurn},
		{Name: CompIntensity, Score: r.CompIntensity, Weight: cfg.WeightSBCRevenue},
		{Name: OfferingFreq, Score: r.OfferingFreq, Weight: cfg.WeightOfferingFreq},
		{Name: CashRunway, Score: r.CashRunway, Weight: cfg.WeightCashRunway},
		{Name: ATMRisk, Score: r.ATMRisk, Weight: cfg.WeightATMActive},
	}
}

// ScoreEntity computes every sub-score and the composite. It is pure: the
// same inputs, config and clock always give the same result.
func ScoreEntity(in EntityInput, cfg Config, now time.Time) Result {
	window := sortedWindow(in.Quarters, cfg.FinancialQuarters)
	trailing := window
	if len(trailing) > cfg.TrailingQuarters {
		trailing = trailing[len(trailing)-cfg.TrailingQuarters:]
	}

	var res Result

	share := ShareGrowthScore(window, cfg)
	res.ShareGrowth, res.ShareCAGR = share.Score, share.Value

	burn, removal := CashBurnScore(trailing, in.Entity.MarketCap, cfg)
	res.CashBurn, res.FCFBurnRate = burn.Score, burn.Value
	if removal != nil {
		res.Outliers = append(res.Outliers, *removal)
	}

	comp := CompIntensityScore(trailing, cfg)
	res.CompIntensity, res.SBCRevenuePct = comp.Score, comp.Value

	offering, count := OfferingFreqScore(in.Filings, cfg, now)
	res.OfferingFreq, res.OfferingCount = offering.Score, count

	// the runway average uses the same filtered series, so its removal is already recorded
	runway, _ := CashRunwayScore(window, trailing, cfg)
	res.CashRunway, res.CashRunwayMonths = runway.Score, runway.Value

	atm := ATMRiskScore(in.Filings, cfg, now)
	res.ATMRisk, res.ATMProgramActive = atm.Score, atm.ProgramActive

	if composite, ok := Composite(res.Parts(cfg)); ok {
		res.Composite = &composite
	}
	return res
}

// Snapshot builds the persisted snapshot; the tier is filled in after population tiering
func (r Result) Snapshot(e models.Entity, runID uuid.UUID, at time.Time) models.ScoreSnapshot {
	count := r.OfferingCount
	return models.ScoreSnapshot{
		ID:               uuid.New(),
		EntityID:         e.ID,
		Ticker:           e.Ticker,
		RunID:            runID,
		ScoredAt:         at,
		ShareGrowth:      r.ShareGrowth,
		CashBurn:         r.CashBurn,
		CompIntensity:    r.CompIntensity,
		OfferingFreq:     r.OfferingFreq,
		CashRunway:       r.CashRunway,
		ATMRisk:          r.ATMRisk,
		ShareCAGR:        r.ShareCAGR,
		FCFBurnRate:      r.FCFBurnRate,
		SBCRevenuePct:    r.SBCRevenuePct,
		OfferingCount3Y:  &count,
		CashRunwayMonths: r.CashRunwayMonths,
		ATMProgramActive: r.ATMProgramActive,
		Composite:        r.Composite,
		Tier:             e.Tier,
	}
}

// ScreenResult is the outcome of the quick screen
type ScreenResult struct {
	Candidate           bool
	ShareCAGR           *float64
	NegativeFCFQuarters int
}

// Screen applies the quick screen on the short window: share growth above the
// minimum, or enough negative-FCF quarters, makes the entity a candidate.
func Screen(quarters []models.QuarterlyRecord, cfg Config) ScreenResult {
	window := sortedWindow(quarters, cfg.ScreenQuarters)

	var res ScreenResult
	if cagr, ok := ShareCAGR(window); ok {
		res.ShareCAGR = &cagr
		if cagr > cfg.ShareCAGRMin {
			res.Candidate = true
		}
	}
	neg, _ := negativeFCF(window)
	res.NegativeFCFQuarters = len(neg)
	if res.NegativeFCFQuarters >= cfg.FCFNegativeQuarters {
		res.Candidate = true
	}
	return res
}
