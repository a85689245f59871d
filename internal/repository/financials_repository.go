package repository

import (
	"fmt"

	"github.com/ajharbinger/dilution-monitor/internal/models"
)

// financialFields maps record fields to their nullable columns
var financialFields = map[string]string{
	"shares_outstanding": "shares_outstanding",
	"free_cash_flow":     "free_cash_flow",
	"stock_based_comp":   "stock_based_comp",
	"revenue":            "revenue",
	"cash":               "cash",
}

// financialsRepository implements FinancialsRepository
type financialsRepository struct {
	db dbExecutor
}

// NewFinancialsRepository creates a new quarterly fundamentals repository
func NewFinancialsRepository(db dbExecutor) FinancialsRepository {
	return &financialsRepository{db: db}
}

// Upsert stores one quarter; a re-run overwrites the period instead of duplicating it.
// Values the provider did not report do not erase previously stored ones.
func (r *financialsRepository) Upsert(rec models.QuarterlyRecord) error {
	year, quarter := rec.FiscalYear, rec.Quarter
	if year == 0 || quarter == 0 {
		var err error
		year, quarter, err = models.ParseFiscalPeriod(rec.FiscalPeriod)
		if err != nil {
			return fmt.Errorf("failed to upsert quarterly record: %w", err)
		}
	}

	query := `
		INSERT INTO quarterly_records (
			entity_id, fiscal_period, fiscal_year, quarter, period_end,
			shares_outstanding, free_cash_flow, stock_based_comp, revenue, cash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (entity_id, fiscal_period) DO UPDATE SET
			period_end = COALESCE(EXCLUDED.period_end, quarterly_records.period_end),
			shares_outstanding = COALESCE(EXCLUDED.shares_outstanding, quarterly_records.shares_outstanding),
			free_cash_flow = COALESCE(EXCLUDED.free_cash_flow, quarterly_records.free_cash_flow),
			stock_based_comp = COALESCE(EXCLUDED.stock_based_comp, quarterly_records.stock_based_comp),
			revenue = COALESCE(EXCLUDED.revenue, quarterly_records.revenue),
			cash = COALESCE(EXCLUDED.cash, quarterly_records.cash),
			updated_at = NOW()`

	_, err := r.db.Exec(query,
		rec.EntityID, rec.FiscalPeriod, year, quarter, rec.PeriodEnd,
		rec.SharesOutstanding, rec.FreeCashFlow, rec.StockBasedComp, rec.Revenue, rec.Cash,
	)
	return mapError(err, "upsert quarterly record")
}

// ListByEntity returns the most recent quarters for an entity, oldest first
func (r *financialsRepository) ListByEntity(entityID int64, limit int) ([]models.QuarterlyRecord, error) {
	query := `
		SELECT * FROM (
			SELECT entity_id, fiscal_period, fiscal_year, quarter, period_end,
				   shares_outstanding, free_cash_flow, stock_based_comp, revenue, cash, updated_at
			FROM quarterly_records
			WHERE entity_id = $1
			ORDER BY fiscal_year DESC, quarter DESC
			LIMIT $2
		) recent
		ORDER BY fiscal_year ASC, quarter ASC`

	var limitArg interface{}
	if limit > 0 {
		limitArg = limit
	}

	rows, err := r.db.Query(query, entityID, limitArg)
	if err != nil {
		return nil, fmt.Errorf("failed to query quarterly records: %w", err)
	}
	defer rows.Close()

	var records []models.QuarterlyRecord
	for rows.Next() {
		var rec models.QuarterlyRecord
		if err := rows.Scan(
			&rec.EntityID, &rec.FiscalPeriod, &rec.FiscalYear, &rec.Quarter, &rec.PeriodEnd,
			&rec.SharesOutstanding, &rec.FreeCashFlow, &rec.StockBasedComp, &rec.Revenue, &rec.Cash,
			&rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan quarterly record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// EntityIDs lists every entity with stored fundamentals
func (r *financialsRepository) EntityIDs() ([]int64, error) {
	rows, err := r.db.Query(`SELECT DISTINCT entity_id FROM quarterly_records ORDER BY entity_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query entity ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan entity id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// NullField clears one value flagged as corrupt
func (r *financialsRepository) NullField(entityID int64, fiscalPeriod, field string) error {
	column, ok := financialFields[field]
	if !ok {
		return fmt.Errorf("unknown financial field %q", field)
	}
	query := fmt.Sprintf(
		`UPDATE quarterly_records SET %s = NULL, updated_at = NOW() WHERE entity_id = $1 AND fiscal_period = $2`,
		column,
	)
	result, err := r.db.Exec(query, entityID, fiscalPeriod)
	if err != nil {
		return mapError(err, "null financial field")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
