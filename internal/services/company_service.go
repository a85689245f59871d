package services

import (
	"errors"

	apperrors "github.com/ajharbinger/dilution-monitor/internal/errors"
	"github.com/ajharbinger/dilution-monitor/internal/models"
	"github.com/ajharbinger/dilution-monitor/internal/repository"
)

// CompanyDetail is an entity with its newest snapshot.
// LatestScore is nil for entities that were never scored.
type CompanyDetail struct {
	Entity      models.Entity         `json:"entity"`
	LatestScore *models.ScoreSnapshot `json:"latest_score"`
}

// Stats summarizes the tracked population
type Stats struct {
	TierCounts map[models.Tier]int `json:"tier_counts"`
	LastRun    *models.PipelineRun `json:"last_run"`
}

// CompanyService answers read queries over entities and their scores
type CompanyService struct {
	repos *repository.Repositories
}

// NewCompanyService creates a new company service
func NewCompanyService(repos *repository.Repositories) *CompanyService {
	return &CompanyService{repos: repos}
}

// List returns the latest snapshot of every entity matching the filters
func (s *CompanyService) List(filters repository.SnapshotFilters) ([]models.ScoreSnapshot, error) {
	snapshots, err := s.repos.Snapshots.Latest(filters)
	if err != nil {
		return nil, apperrors.DatabaseError("failed to list companies", err).WithOperation("CompanyService.List")
	}
	if snapshots == nil {
		snapshots = []models.ScoreSnapshot{}
	}
	return snapshots, nil
}

// Get returns an entity and its latest score
func (s *CompanyService) Get(ticker string) (*CompanyDetail, error) {
	entity, err := s.entity(ticker, "CompanyService.Get")
	if err != nil {
		return nil, err
	}

	detail := &CompanyDetail{Entity: *entity}
	latest, err := s.repos.Snapshots.LatestForEntity(entity.ID)
	switch {
	case err == nil:
		detail.LatestScore = latest
	case !errors.Is(err, repository.ErrNotFound):
		return nil, apperrors.DatabaseError("failed to load latest score", err).WithOperation("CompanyService.Get")
	}
	return detail, nil
}

// History returns an entity's snapshots, newest first
func (s *CompanyService) History(ticker string, limit int) ([]models.ScoreSnapshot, error) {
	entity, err := s.entity(ticker, "CompanyService.History")
	if err != nil {
		return nil, err
	}
	history, err := s.repos.Snapshots.History(entity.ID, limit)
	if err != nil {
		return nil, apperrors.DatabaseError("failed to load score history", err).WithOperation("CompanyService.History")
	}
	if history == nil {
		history = []models.ScoreSnapshot{}
	}
	return history, nil
}

// Filings returns an entity's classified filings
func (s *CompanyService) Filings(ticker string) ([]models.FilingEvent, error) {
	entity, err := s.entity(ticker, "CompanyService.Filings")
	if err != nil {
		return nil, err
	}
	filings, err := s.repos.Filings.ListByEntity(entity.ID)
	if err != nil {
		return nil, apperrors.DatabaseError("failed to load filings", err).WithOperation("CompanyService.Filings")
	}
	if filings == nil {
		filings = []models.FilingEvent{}
	}
	return filings, nil
}

// Fundamentals returns an entity's stored quarters, oldest first
func (s *CompanyService) Fundamentals(ticker string) ([]models.QuarterlyRecord, error) {
	entity, err := s.entity(ticker, "CompanyService.Fundamentals")
	if err != nil {
		return nil, err
	}
	records, err := s.repos.Financials.ListByEntity(entity.ID, 0)
	if err != nil {
		return nil, apperrors.DatabaseError("failed to load fundamentals", err).WithOperation("CompanyService.Fundamentals")
	}
	if records == nil {
		records = []models.QuarterlyRecord{}
	}
	return records, nil
}

// Stats returns tier counts and the last pipeline run
func (s *CompanyService) Stats() (*Stats, error) {
	counts, err := s.repos.Entities.TierCounts()
	if err != nil {
		return nil, apperrors.DatabaseError("failed to count tiers", err).WithOperation("CompanyService.Stats")
	}

	stats := &Stats{TierCounts: counts}
	run, err := s.repos.Runs.Latest()
	switch {
	case err == nil:
		stats.LastRun = run
	case !errors.Is(err, repository.ErrNotFound):
		return nil, apperrors.DatabaseError("failed to load last run", err).WithOperation("CompanyService.Stats")
	}
	return stats, nil
}

func (s *CompanyService) entity(ticker, op string) (*models.Entity, error) {
	entity, err := s.repos.Entities.GetByTicker(ticker)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("company not found", err).WithOperation(op).WithDetails(ticker)
		}
		return nil, apperrors.DatabaseError("failed to load company", err).WithOperation(op)
	}
	return entity, nil
}
