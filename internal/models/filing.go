package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DilutionType classifies a dilutive filing
type DilutionType string

const (
	DilutionATMShelf         DilutionType = "atm_shelf"
	DilutionATM              DilutionType = "atm"
	DilutionRegisteredDirect DilutionType = "registered_direct"
	DilutionFollowOn         DilutionType = "follow_on"
	DilutionConvertible      DilutionType = "convertible"
	DilutionPIPE             DilutionType = "pipe"
)

// Shelf registration form types
const (
	FormS3  = "S-3"
	FormS3A = "S-3/A"
)

// IsShelfForm reports whether a filing type is a shelf registration or its amendment
func IsShelfForm(filingType string) bool {
	return filingType == FormS3 || filingType == FormS3A
}

// FilingMetadata is a filing as listed by the registry, before classification
type FilingMetadata struct {
	AccessionID string     `json:"accession_id"`
	FilingType  string     `json:"filing_type"`
	FiledDate   *time.Time `json:"filed_date,omitempty"`
	DocumentURL string     `json:"document_url"`
}

// FilingEvent is a classified filing belonging to an entity
type FilingEvent struct {
	EntityID        int64            `json:"entity_id" db:"entity_id"`
	AccessionID     string           `json:"accession_id" db:"accession_id"`
	FilingType      string           `json:"filing_type" db:"filing_type"`
	FiledDate       *time.Time       `json:"filed_date,omitempty" db:"filed_date"`
	DocumentURL     string           `json:"document_url" db:"document_url"`
	IsDilutionEvent bool             `json:"is_dilution_event" db:"is_dilution_event"`
	DilutionType    *DilutionType    `json:"dilution_type" db:"dilution_type"`
	OfferingAmount  *decimal.Decimal `json:"offering_amount" db:"offering_amount"`
	Confidence      float64          `json:"confidence" db:"confidence"`
	ClassifiedAt    time.Time        `json:"classified_at" db:"classified_at"`
}
