package services

import (
	"sort"

	apperrors "github.com/ajharbinger/dilution-monitor/internal/errors"
	"github.com/ajharbinger/dilution-monitor/internal/logger"
	"github.com/ajharbinger/dilution-monitor/internal/outlier"
	"github.com/ajharbinger/dilution-monitor/internal/repository"
)

// EntityOutliers lists the stored values of one entity outside their series fence
type EntityOutliers struct {
	EntityID int64                  `json:"entity_id"`
	Ticker   string                 `json:"ticker"`
	Outliers []outlier.FieldOutlier `json:"outliers"`
}

// ValidationReport is the result of scanning all stored fundamentals
type ValidationReport struct {
	EntitiesScanned int              `json:"entities_scanned"`
	FieldCounts     map[string]int   `json:"field_counts"`
	Entities        []EntityOutliers `json:"entities"`
	Fixed           int              `json:"fixed"`
}

// Total returns the number of flagged values
func (r *ValidationReport) Total() int {
	n := 0
	for _, e := range r.Entities {
		n += len(e.Outliers)
	}
	return n
}

// DataValidator scans stored fundamentals for values outside the IQR fence
type DataValidator struct {
	repos *repository.Repositories
	fence float64
	log   logger.Logger
}

// NewDataValidator creates a validator using fence as the IQR multiplier
func NewDataValidator(repos *repository.Repositories, fence float64, log logger.Logger) *DataValidator {
	if fence <= 0 {
		fence = outlier.DefaultFence
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &DataValidator{repos: repos, fence: fence, log: log.With("component", "validator")}
}

// Scan builds the outlier report. With fix set, every flagged value is set to null.
func (v *DataValidator) Scan(fix bool) (*ValidationReport, error) {
	ids, err := v.repos.Financials.EntityIDs()
	if err != nil {
		return nil, apperrors.DatabaseError("failed to list entities with fundamentals", err).WithOperation("DataValidator.Scan")
	}

	report := &ValidationReport{FieldCounts: make(map[string]int)}
	for _, id := range ids {
		records, err := v.repos.Financials.ListByEntity(id, 0)
		if err != nil {
			return nil, apperrors.DatabaseError("failed to load fundamentals", err).WithOperation("DataValidator.Scan")
		}
		report.EntitiesScanned++

		found := outlier.DetectFieldOutliers(records, v.fence)
		if len(found) == 0 {
			continue
		}

		ticker := ""
		if e, err := v.repos.Entities.GetByID(id); err == nil {
			ticker = e.Ticker
		}
		report.Entities = append(report.Entities, EntityOutliers{EntityID: id, Ticker: ticker, Outliers: found})
		for _, o := range found {
			report.FieldCounts[o.Field]++
		}

		if !fix {
			continue
		}
		for _, o := range found {
			if err := v.repos.Financials.NullField(id, o.FiscalPeriod, o.Field); err != nil {
				v.log.Error("Failed to null outlier", err, "ticker", ticker, "fiscal_period", o.FiscalPeriod, "field", o.Field)
				continue
			}
			v.log.Warn("Nulled outlier value",
				"ticker", ticker, "fiscal_period", o.FiscalPeriod, "field", o.Field,
				"value", o.Value, "lower", o.Fence.Lower, "upper", o.Fence.Upper)
			report.Fixed++
		}
	}

	sort.Slice(report.Entities, func(i, j int) bool {
		return len(report.Entities[i].Outliers) > len(report.Entities[j].Outliers)
	})
	return report, nil
}
