package services

import (
	"errors"

	apperrors "github.com/ajharbinger/dilution-monitor/internal/errors"
	"github.com/ajharbinger/dilution-monitor/internal/logger"
	"github.com/ajharbinger/dilution-monitor/internal/repository"
	"github.com/ajharbinger/dilution-monitor/internal/scoring"
)

// ConfigService reads and updates the runtime scoring configuration
type ConfigService struct {
	store *scoring.ConfigStore
	repo  repository.ConfigRepository
}

// NewConfigService creates a new config service
func NewConfigService(store *scoring.ConfigStore, repo repository.ConfigRepository) *ConfigService {
	return &ConfigService{store: store, repo: repo}
}

// Get returns the active configuration
func (s *ConfigService) Get() scoring.Config {
	return s.store.Get()
}

// Update validates, persists and activates a new configuration
func (s *ConfigService) Update(cfg scoring.Config) error {
	if err := cfg.Validate(); err != nil {
		return apperrors.ValidationError("invalid scoring configuration", err).WithOperation("ConfigService.Update")
	}
	if err := s.repo.Save(cfg); err != nil {
		return apperrors.DatabaseError("failed to save scoring configuration", err).WithOperation("ConfigService.Update")
	}
	if err := s.store.Set(cfg); err != nil {
		return apperrors.ValidationError("invalid scoring configuration", err).WithOperation("ConfigService.Update")
	}
	return nil
}

// LoadScoringConfig prefers the persisted configuration over the file/env fallback
func LoadScoringConfig(repo repository.ConfigRepository, fallback scoring.Config, log logger.Logger) scoring.Config {
	cfg, err := repo.Get()
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			log.Warn("Failed to load stored scoring config, using defaults", "error", err)
		}
		return fallback
	}
	if err := cfg.Validate(); err != nil {
		log.Warn("Stored scoring config is invalid, using defaults", "error", err)
		return fallback
	}
	return cfg
}
