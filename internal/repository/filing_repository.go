package repository

import (
	"fmt"

	"github.com/ajharbinger/dilution-monitor/internal/models"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// filingRepository implements FilingRepository
type filingRepository struct {
	db dbExecutor
}

// NewFilingRepository creates a new filing event repository
func NewFilingRepository(db dbExecutor) FilingRepository {
	return &filingRepository{db: db}
}

// Upsert stores a classified filing keyed by accession id
func (r *filingRepository) Upsert(event models.FilingEvent, reclassify bool) (bool, error) {
	conflict := `ON CONFLICT (accession_id) DO NOTHING`
	if reclassify {
		conflict = `ON CONFLICT (accession_id) DO UPDATE SET
			is_dilution_event = EXCLUDED.is_dilution_event,
			dilution_type = EXCLUDED.dilution_type,
			offering_amount = EXCLUDED.offering_amount,
			confidence = EXCLUDED.confidence,
			classified_at = EXCLUDED.classified_at`
	}

	query := `
		INSERT INTO filing_events (
			entity_id, accession_id, filing_type, filed_date, document_url,
			is_dilution_event, dilution_type, offering_amount, confidence, classified_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) ` + conflict

	var amount decimal.NullDecimal
	if event.OfferingAmount != nil {
		amount = decimal.NullDecimal{Decimal: *event.OfferingAmount, Valid: true}
	}
	var dilutionType *string
	if event.DilutionType != nil {
		s := string(*event.DilutionType)
		dilutionType = &s
	}

	result, err := r.db.Exec(query,
		event.EntityID, event.AccessionID, event.FilingType, event.FiledDate, event.DocumentURL,
		event.IsDilutionEvent, dilutionType, amount, event.Confidence, event.ClassifiedAt,
	)
	if err != nil {
		return false, mapError(err, "upsert filing event")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to upsert filing event: %w", err)
	}
	return n > 0, nil
}

// ListByEntity returns an entity's filings, newest first
func (r *filingRepository) ListByEntity(entityID int64) ([]models.FilingEvent, error) {
	query := `
		SELECT entity_id, accession_id, filing_type, filed_date, document_url,
			   is_dilution_event, dilution_type, offering_amount, confidence, classified_at
		FROM filing_events
		WHERE entity_id = $1
		ORDER BY filed_date DESC NULLS LAST, accession_id`

	rows, err := r.db.Query(query, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query filing events: %w", err)
	}
	defer rows.Close()

	var events []models.FilingEvent
	for rows.Next() {
		var (
			e            models.FilingEvent
			dilutionType *string
			amount       decimal.NullDecimal
		)
		if err := rows.Scan(
			&e.EntityID, &e.AccessionID, &e.FilingType, &e.FiledDate, &e.DocumentURL,
			&e.IsDilutionEvent, &dilutionType, &amount, &e.Confidence, &e.ClassifiedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan filing event: %w", err)
		}
		if dilutionType != nil {
			t := models.DilutionType(*dilutionType)
			e.DilutionType = &t
		}
		if amount.Valid {
			d := amount.Decimal
			e.OfferingAmount = &d
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Known reports which of the accession ids are already stored
func (r *filingRepository) Known(accessionIDs []string) (map[string]bool, error) {
	known := make(map[string]bool, len(accessionIDs))
	if len(accessionIDs) == 0 {
		return known, nil
	}

	rows, err := r.db.Query(`SELECT accession_id FROM filing_events WHERE accession_id = ANY($1)`, pq.Array(accessionIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query known filings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan accession id: %w", err)
		}
		known[id] = true
	}
	return known, rows.Err()
}
