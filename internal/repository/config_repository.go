package repository

import (
	"encoding/json"
	"fmt"

	"github.com/ajharbinger/dilution-monitor/internal/scoring"
)

// configRepository implements ConfigRepository on the single-row scoring_config table
type configRepository struct {
	db dbExecutor
}

// NewConfigRepository creates a new scoring config repository
func NewConfigRepository(db dbExecutor) ConfigRepository {
	return &configRepository{db: db}
}

// Get loads the saved scoring configuration
func (r *configRepository) Get() (scoring.Config, error) {
	var raw []byte
	if err := r.db.QueryRow(`SELECT config FROM scoring_config WHERE id = 1`).Scan(&raw); err != nil {
		return scoring.Config{}, mapError(err, "get scoring config")
	}

	// start from defaults so keys added after the row was saved keep sane values
	cfg := scoring.DefaultConfig()
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return scoring.Config{}, fmt.Errorf("failed to decode scoring config: %w", err)
	}
	return cfg, nil
}

// Save replaces the stored scoring configuration
func (r *configRepository) Save(cfg scoring.Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode scoring config: %w", err)
	}

	query := `
		INSERT INTO scoring_config (id, config, updated_at) VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET config = EXCLUDED.config, updated_at = NOW()`
	_, err = r.db.Exec(query, raw)
	return mapError(err, "save scoring config")
}
