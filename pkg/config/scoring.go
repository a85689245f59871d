package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/ajharbinger/dilution-monitor/internal/scoring"
)

// ScoringEnvPrefix prefixes environment overrides, e.g. DILUTION_WEIGHT_SHARE_CAGR=0.3
const ScoringEnvPrefix = "DILUTION_"

// LoadScoring builds the scoring config by layering, lowest precedence first:
//  1. struct default tags
//  2. the YAML file at path, if path is non-empty
//  3. DILUTION_* environment variables
//
// The result is validated before it is returned.
func LoadScoring(path string) (scoring.Config, error) {
	cfg := scoring.DefaultConfig()
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return cfg, fmt.Errorf("load scoring config %s: %w", path, err)
		}
	}

	envProvider := env.Provider(ScoringEnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, ScoringEnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return cfg, fmt.Errorf("load scoring env: %w", err)
	}

	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return cfg, fmt.Errorf("decode scoring config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid scoring config: %w", err)
	}
	return cfg, nil
}
