package scoring

import (
	"fmt"
	"math"
	"sync"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

// Config holds every threshold, ceiling, weight and window used by screening,
// scoring and tiering. It is passed by value into each scoring call.
type Config struct {
	// Quick screen
	ShareCAGRMin        float64 `json:"share_cagr_min" koanf:"share_cagr_min" default:"0.05" validate:"gte=0"`
	FCFNegativeQuarters int     `json:"fcf_negative_quarters" koanf:"fcf_negative_quarters" default:"4" validate:"gte=1"`
	ScreenQuarters      int     `json:"screen_quarters" koanf:"screen_quarters" default:"8" validate:"gte=2"`

	// Ceilings
	ShareCAGRCeiling    float64 `json:"share_cagr_ceiling" koanf:"share_cagr_ceiling" default:"0.5" validate:"gt=0"`
	FCFBurnCeiling      float64 `json:"fcf_burn_ceiling" koanf:"fcf_burn_ceiling" default:"0.7" validate:"gt=0"`
	SBCRevenueCeiling   float64 `json:"sbc_revenue_ceiling" koanf:"sbc_revenue_ceiling" default:"0.6" validate:"gt=0"`
	OfferingFreqCeiling float64 `json:"offering_freq_ceiling" koanf:"offering_freq_ceiling" default:"7" validate:"gt=0"`
	RunwayMaxMonths     float64 `json:"cash_runway_max_months" koanf:"cash_runway_max_months" default:"24" validate:"gt=0"`

	// Composite weights
	WeightShareCAGR     float64 `json:"weight_share_cagr" koanf:"weight_share_cagr" default:"0.25" validate:"gte=0"`
	WeightFCFBurn       float64 `json:"weight_fcf_burn" koanf:"weight_fcf_burn" default:"0.20" validate:"gte=0"`
	WeightSBCRevenue    float64 `json:"weight_sbc_revenue" koanf:"weight_sbc_revenue" default:"0.15" validate:"gte=0"`
	WeightOfferingFreq  float64 `json:"weight_offering_freq" koanf:"weight_offering_freq" default:"0.20" validate:"gte=0"`
	WeightCashRunway    float64 `json:"weight_cash_runway" koanf:"weight_cash_runway" default:"0.10" validate:"gte=0"`
	WeightATMActive     float64 `json:"weight_atm_active" koanf:"weight_atm_active" default:"0.10" validate:"gte=0"`

	// Tier percentiles
	CriticalPercentile  float64 `json:"critical_percentile" koanf:"critical_percentile" default:"0.10" validate:"gte=0,lte=1"`
	WatchlistPercentile float64 `json:"watchlist_percentile" koanf:"watchlist_percentile" default:"0.40" validate:"gte=0,lte=1"`

	// Windows
	FinancialQuarters   int     `json:"financial_quarters" koanf:"financial_quarters" default:"12" validate:"gte=2"`
	TrailingQuarters    int     `json:"trailing_quarters" koanf:"trailing_quarters" default:"4" validate:"gte=1"`
	OfferingWindowYears int     `json:"offering_window_years" koanf:"offering_window_years" default:"3" validate:"gte=1"`
	ATMWindowYears      int     `json:"atm_window_years" koanf:"atm_window_years" default:"2" validate:"gte=1"`
	OutlierFence        float64 `json:"outlier_fence" koanf:"outlier_fence" default:"3.0" validate:"gt=0"`
}

var validate = validator.New()

// DefaultConfig returns the config populated from struct default tags
func DefaultConfig() Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("scoring: bad default tags: %v", err))
	}
	return c
}

// Validate checks field ranges and the cross-field rules
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.CriticalPercentile+c.WatchlistPercentile > 1+1e-9 {
		return fmt.Errorf("critical_percentile + watchlist_percentile must not exceed 1 (got %.2f)",
			c.CriticalPercentile+c.WatchlistPercentile)
	}
	if c.WeightSum() <= 0 {
		return fmt.Errorf("at least one composite weight must be positive")
	}
	if c.ScreenQuarters > c.FinancialQuarters {
		return fmt.Errorf("screen_quarters (%d) cannot exceed financial_quarters (%d)", c.ScreenQuarters, c.FinancialQuarters)
	}
	return nil
}

// WeightSum is the raw sum of the six composite weights
func (c Config) WeightSum() float64 {
	return c.WeightShareCAGR + c.WeightFCFBurn + c.WeightSBCRevenue +
		c.WeightOfferingFreq + c.WeightCashRunway + c.WeightATMActive
}

// WeightsNormalized reports whether the weights sum to 1 within rounding
func (c Config) WeightsNormalized() bool {
	return math.Abs(c.WeightSum()-1) < 1e-6
}

// Percentiles extracts the tiering bands
func (c Config) Percentiles() Percentiles {
	return Percentiles{Critical: c.CriticalPercentile, Watchlist: c.WatchlistPercentile}
}

// Percentiles are the fractions of the ranked population placed in each promoted tier
type Percentiles struct {
	Critical  float64 `json:"critical"`
	Watchlist float64 `json:"watchlist"`
}

// ConfigStore holds the live scoring config shared by the API and the pipeline
type ConfigStore struct {
	mu  sync.RWMutex
	cfg Config
}

// NewConfigStore creates a store seeded with cfg
func NewConfigStore(cfg Config) *ConfigStore {
	return &ConfigStore{cfg: cfg}
}

// Get returns a copy of the current config
func (s *ConfigStore) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Set validates and replaces the current config
func (s *ConfigStore) Set(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}
