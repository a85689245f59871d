package repository

import (
	"fmt"
	"strings"
	"time"

	"github.com/ajharbinger/dilution-monitor/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// snapshotColumns lists the selected columns for a snapshot table alias joined to entities as e
func snapshotColumns(alias string) string {
	return fmt.Sprintf(`%[1]s.id, %[1]s.entity_id, e.ticker, %[1]s.run_id, %[1]s.scored_at,
	%[1]s.share_growth, %[1]s.cash_burn, %[1]s.comp_intensity, %[1]s.offering_freq, %[1]s.cash_runway, %[1]s.atm_risk,
	%[1]s.share_cagr, %[1]s.fcf_burn_rate, %[1]s.sbc_revenue_pct, %[1]s.offering_count_3y, %[1]s.cash_runway_months,
	%[1]s.atm_program_active, %[1]s.composite, %[1]s.tier, %[1]s.price_change_12m`, alias)
}

// snapshotRepository implements SnapshotRepository
type snapshotRepository struct {
	db dbExecutor
}

// NewSnapshotRepository creates a new score snapshot repository
func NewSnapshotRepository(db dbExecutor) SnapshotRepository {
	return &snapshotRepository{db: db}
}

func scanSnapshot(row rowScanner) (*models.ScoreSnapshot, error) {
	s := &models.ScoreSnapshot{}
	var shareGrowth, cashBurn, compIntensity, offeringFreq, cashRunway, atmRisk *float64
	err := row.Scan(
		&s.ID, &s.EntityID, &s.Ticker, &s.RunID, &s.ScoredAt,
		&shareGrowth, &cashBurn, &compIntensity, &offeringFreq, &cashRunway, &atmRisk,
		&s.ShareCAGR, &s.FCFBurnRate, &s.SBCRevenuePct, &s.OfferingCount3Y, &s.CashRunwayMonths,
		&s.ATMProgramActive, &s.Composite, &s.Tier, &s.PriceChange12M,
	)
	if err != nil {
		return nil, err
	}
	s.ShareGrowth = models.SubScoreFrom(shareGrowth)
	s.CashBurn = models.SubScoreFrom(cashBurn)
	s.CompIntensity = models.SubScoreFrom(compIntensity)
	s.OfferingFreq = models.SubScoreFrom(offeringFreq)
	s.CashRunway = models.SubScoreFrom(cashRunway)
	s.ATMRisk = models.SubScoreFrom(atmRisk)
	return s, nil
}

// Insert appends a snapshot; snapshots are never updated
func (r *snapshotRepository) Insert(s *models.ScoreSnapshot) error {
	query := `
		INSERT INTO score_snapshots (
			id, entity_id, run_id, scored_at,
			share_growth, cash_burn, comp_intensity, offering_freq, cash_runway, atm_risk,
			share_cagr, fcf_burn_rate, sbc_revenue_pct, offering_count_3y, cash_runway_months,
			atm_program_active, composite, tier, price_change_12m
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	_, err := r.db.Exec(query,
		s.ID, s.EntityID, s.RunID, s.ScoredAt,
		s.ShareGrowth.Ptr(), s.CashBurn.Ptr(), s.CompIntensity.Ptr(),
		s.OfferingFreq.Ptr(), s.CashRunway.Ptr(), s.ATMRisk.Ptr(),
		s.ShareCAGR, s.FCFBurnRate, s.SBCRevenuePct, s.OfferingCount3Y, s.CashRunwayMonths,
		s.ATMProgramActive, s.Composite, string(s.Tier), s.PriceChange12M,
	)
	return mapError(err, "insert score snapshot")
}

// listColumns selects the latest snapshot per entity, left joined so promoted
// entities without one still list. Tier always comes from the entity.
const listColumns = `e.id, e.ticker, latest.id, latest.run_id, latest.scored_at,
	latest.share_growth, latest.cash_burn, latest.comp_intensity, latest.offering_freq, latest.cash_runway, latest.atm_risk,
	latest.share_cagr, latest.fcf_burn_rate, latest.sbc_revenue_pct, latest.offering_count_3y, latest.cash_runway_months,
	COALESCE(latest.atm_program_active, FALSE), latest.composite, e.tier, latest.price_change_12m`

func scanListRow(row rowScanner) (*models.ScoreSnapshot, error) {
	s := &models.ScoreSnapshot{}
	var (
		id, runID                                                           uuid.NullUUID
		scoredAt                                                            *time.Time
		shareGrowth, cashBurn, compIntensity, offeringFreq, cashRunway, atm *float64
	)
	err := row.Scan(
		&s.EntityID, &s.Ticker, &id, &runID, &scoredAt,
		&shareGrowth, &cashBurn, &compIntensity, &offeringFreq, &cashRunway, &atm,
		&s.ShareCAGR, &s.FCFBurnRate, &s.SBCRevenuePct, &s.OfferingCount3Y, &s.CashRunwayMonths,
		&s.ATMProgramActive, &s.Composite, &s.Tier, &s.PriceChange12M,
	)
	if err != nil {
		return nil, err
	}
	s.ID = id.UUID
	s.RunID = runID.UUID
	if scoredAt != nil {
		s.ScoredAt = *scoredAt
	}
	s.ShareGrowth = models.SubScoreFrom(shareGrowth)
	s.CashBurn = models.SubScoreFrom(cashBurn)
	s.CompIntensity = models.SubScoreFrom(compIntensity)
	s.OfferingFreq = models.SubScoreFrom(offeringFreq)
	s.CashRunway = models.SubScoreFrom(cashRunway)
	s.ATMRisk = models.SubScoreFrom(atm)
	return s, nil
}

// Latest lists every scored or promoted entity with its most recent snapshot.
// Unscored entities carry the entity tier and null score fields.
func (r *snapshotRepository) Latest(filters SnapshotFilters) ([]models.ScoreSnapshot, error) {
	whereClauses := []string{"(latest.entity_id IS NOT NULL OR e.state <> 'inactive')"}
	var args []interface{}
	argIndex := 1

	if len(filters.Tiers) > 0 {
		whereClauses = append(whereClauses, fmt.Sprintf("e.tier = ANY($%d)", argIndex))
		args = append(args, pq.Array(tierStrings(filters.Tiers)))
		argIndex++
	}
	if filters.MinScore != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("latest.composite >= $%d", argIndex))
		args = append(args, *filters.MinScore)
		argIndex++
	}
	if filters.MaxScore != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("latest.composite <= $%d", argIndex))
		args = append(args, *filters.MaxScore)
		argIndex++
	}
	if filters.Sector != "" {
		whereClauses = append(whereClauses, fmt.Sprintf("e.sector ILIKE $%d", argIndex))
		args = append(args, filters.Sector)
		argIndex++
	}
	if filters.ATMActive != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("COALESCE(latest.atm_program_active, FALSE) = $%d", argIndex))
		args = append(args, *filters.ATMActive)
		argIndex++
	}

	query := `
		WITH latest AS (
			SELECT DISTINCT ON (entity_id) *
			FROM score_snapshots
			ORDER BY entity_id, scored_at DESC
		)
		SELECT ` + listColumns + `
		FROM entities e
		LEFT JOIN latest ON latest.entity_id = e.id
		WHERE ` + strings.Join(whereClauses, " AND ") + `
		ORDER BY ` + snapshotOrder(filters.Sort)

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filters.Limit)
		argIndex++
	}
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, filters.Offset)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list latest snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []models.ScoreSnapshot
	for rows.Next() {
		s, err := scanListRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan latest snapshot: %w", err)
		}
		snapshots = append(snapshots, *s)
	}
	return snapshots, rows.Err()
}

// LatestForEntity returns the newest snapshot of one entity
func (r *snapshotRepository) LatestForEntity(entityID int64) (*models.ScoreSnapshot, error) {
	query := `SELECT ` + snapshotColumns("s") + `
		FROM score_snapshots s
		JOIN entities e ON e.id = s.entity_id
		WHERE s.entity_id = $1
		ORDER BY s.scored_at DESC
		LIMIT 1`

	s, err := scanSnapshot(r.db.QueryRow(query, entityID))
	if err != nil {
		return nil, mapError(err, "get latest snapshot")
	}
	return s, nil
}

// History returns an entity's snapshots, newest first
func (r *snapshotRepository) History(entityID int64, limit int) ([]models.ScoreSnapshot, error) {
	query := `SELECT ` + snapshotColumns("s") + `
		FROM score_snapshots s
		JOIN entities e ON e.id = s.entity_id
		WHERE s.entity_id = $1
		ORDER BY s.scored_at DESC`
	args := []interface{}{entityID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	return r.query(query, args...)
}

func (r *snapshotRepository) query(query string, args ...interface{}) ([]models.ScoreSnapshot, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query score snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []models.ScoreSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan score snapshot: %w", err)
		}
		snapshots = append(snapshots, *s)
	}
	return snapshots, rows.Err()
}

// snapshotOrder whitelists sort keys; unscored entities always sort last
func snapshotOrder(sort string) string {
	switch sort {
	case SortTicker:
		return "e.ticker ASC"
	case SortScoredAt:
		return "latest.scored_at DESC NULLS LAST, e.ticker ASC"
	default:
		return "latest.composite DESC NULLS LAST, e.ticker ASC"
	}
}
