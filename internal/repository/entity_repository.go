package repository

import (
	"fmt"
	"strings"
	"time"

	"github.com/ajharbinger/dilution-monitor/internal/models"
	"github.com/lib/pq"
)

const entityColumns = `id, ticker, cik, name, sector, exchange, market_cap, is_spac,
	tier, state, screened_at, enriched_at, created_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// entityRepository implements EntityRepository
type entityRepository struct {
	db dbExecutor
}

// NewEntityRepository creates a new entity repository
func NewEntityRepository(db dbExecutor) EntityRepository {
	return &entityRepository{db: db}
}

func scanEntity(row rowScanner) (*models.Entity, error) {
	e := &models.Entity{}
	err := row.Scan(
		&e.ID, &e.Ticker, &e.CIK, &e.Name, &e.Sector, &e.Exchange, &e.MarketCap,
		&e.IsSPAC, &e.Tier, &e.State, &e.ScreenedAt, &e.EnrichedAt,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetByID retrieves an entity by ID
func (r *entityRepository) GetByID(id int64) (*models.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE id = $1`
	e, err := scanEntity(r.db.QueryRow(query, id))
	if err != nil {
		return nil, mapError(err, "get entity")
	}
	return e, nil
}

// GetByTicker retrieves an entity by ticker symbol
func (r *entityRepository) GetByTicker(ticker string) (*models.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE ticker = $1`
	e, err := scanEntity(r.db.QueryRow(query, strings.ToUpper(ticker)))
	if err != nil {
		return nil, mapError(err, "get entity by ticker")
	}
	return e, nil
}

// Upsert inserts a new entity or refreshes its descriptive fields
func (r *entityRepository) Upsert(entry models.UniverseEntry, isSPAC bool) (*models.Entity, error) {
	query := `
		INSERT INTO entities (ticker, name, sector, exchange, market_cap, is_spac, tier, state)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, 'inactive', 'inactive')
		ON CONFLICT (ticker) DO UPDATE SET
			name = EXCLUDED.name,
			sector = COALESCE(EXCLUDED.sector, entities.sector),
			exchange = COALESCE(EXCLUDED.exchange, entities.exchange),
			market_cap = EXCLUDED.market_cap,
			is_spac = EXCLUDED.is_spac,
			updated_at = NOW()
		RETURNING ` + entityColumns

	e, err := scanEntity(r.db.QueryRow(query,
		strings.ToUpper(entry.Ticker), entry.Name, entry.Sector, entry.Exchange, entry.MarketCap, isSPAC,
	))
	if err != nil {
		return nil, mapError(err, "upsert entity")
	}
	return e, nil
}

// List retrieves entities matching the filters
func (r *entityRepository) List(filters EntityFilters) ([]models.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities e`

	var whereClauses []string
	var args []interface{}
	argIndex := 1

	if len(filters.States) > 0 {
		states := make([]string, len(filters.States))
		for i, s := range filters.States {
			states[i] = string(s)
		}
		whereClauses = append(whereClauses, fmt.Sprintf("state = ANY($%d)", argIndex))
		args = append(args, pq.Array(states))
		argIndex++
	}

	if len(filters.Tiers) > 0 {
		whereClauses = append(whereClauses, fmt.Sprintf("tier = ANY($%d)", argIndex))
		args = append(args, pq.Array(tierStrings(filters.Tiers)))
		argIndex++
	}

	if filters.ExcludeSPAC {
		whereClauses = append(whereClauses, "NOT is_spac")
	}
	if filters.Unscreened {
		whereClauses = append(whereClauses, "screened_at IS NULL")
	}
	if filters.Unenriched {
		whereClauses = append(whereClauses, "enriched_at IS NULL")
	}
	if filters.HasFundamentals {
		whereClauses = append(whereClauses, "EXISTS (SELECT 1 FROM quarterly_records q WHERE q.entity_id = e.id)")
	}

	if len(whereClauses) > 0 {
		query += " WHERE " + strings.Join(whereClauses, " AND ")
	}

	if filters.OrderByMarketCap {
		query += " ORDER BY market_cap ASC NULLS LAST, ticker ASC"
	} else {
		query += " ORDER BY ticker ASC"
	}

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filters.Limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	var entities []models.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, *e)
	}
	return entities, rows.Err()
}

// MarkScreened records the quick screen outcome; tiers only change in a tiering pass
func (r *entityRepository) MarkScreened(id int64, state models.PipelineState, at time.Time) error {
	query := `UPDATE entities SET state = $2, screened_at = $3, updated_at = NOW() WHERE id = $1`
	return r.execOne(query, "mark entity screened", id, state, at)
}

// MarkEnriched records a completed enrichment and the resolved CIK
func (r *entityRepository) MarkEnriched(id int64, cik *string, at time.Time) error {
	query := `
		UPDATE entities
		SET state = 'enriched', cik = COALESCE($2, cik), enriched_at = $3, updated_at = NOW()
		WHERE id = $1`
	return r.execOne(query, "mark entity enriched", id, cik, at)
}

// UpdateTier sets the tier and pipeline state after a tiering pass
func (r *entityRepository) UpdateTier(id int64, tier models.Tier, state models.PipelineState) error {
	query := `UPDATE entities SET tier = $2, state = $3, updated_at = NOW() WHERE id = $1`
	return r.execOne(query, "update entity tier", id, tier, state)
}

// TierCounts returns the number of entities in each tier
func (r *entityRepository) TierCounts() (map[models.Tier]int, error) {
	rows, err := r.db.Query(`SELECT tier, COUNT(*) FROM entities GROUP BY tier`)
	if err != nil {
		return nil, fmt.Errorf("failed to count tiers: %w", err)
	}
	defer rows.Close()

	counts := map[models.Tier]int{
		models.TierCritical:   0,
		models.TierWatchlist:  0,
		models.TierMonitoring: 0,
		models.TierInactive:   0,
	}
	for rows.Next() {
		var tier models.Tier
		var n int
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, fmt.Errorf("failed to scan tier count: %w", err)
		}
		counts[tier] = n
	}
	return counts, rows.Err()
}

func (r *entityRepository) execOne(query, op string, args ...interface{}) error {
	result, err := r.db.Exec(query, args...)
	if err != nil {
		return mapError(err, op)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func tierStrings(tiers []models.Tier) []string {
	out := make([]string, len(tiers))
	for i, t := range tiers {
		out[i] = string(t)
	}
	return out
}
