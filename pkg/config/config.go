package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds application configuration
type Config struct {
	DatabaseURL string
	JWTSecret   string
	Port        string
	Environment string
	LogLevel    string
	LogFormat   string

	// Providers
	FMPAPIKey      string
	FMPBaseURL     string
	EDGARUserAgent string

	// Infrastructure
	RedisURL       string
	KafkaBrokers   string
	KafkaTierTopic string

	// Path to a YAML file layered over scoring defaults
	ScoringConfigPath string

	// Pipeline runner
	PipelineMaxConcurrent   int
	PipelineIntervalMinutes int
	PipelineMaxCompanies    int
	PipelineMode            string

	// Security configuration
	AllowedOrigins  string
	TrustedProxies  string
	EnableRateLimit bool
	MaxRequestSize  int64
}

// New creates a new configuration instance from environment variables
func New() *Config {
	return &Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),

		FMPAPIKey:      getEnv("FMP_API_KEY", ""),
		FMPBaseURL:     getEnv("FMP_BASE_URL", "https://financialmodelingprep.com/stable"),
		EDGARUserAgent: getEnv("EDGAR_USER_AGENT", "dilution-monitor admin@example.com"),

		RedisURL:       getEnv("REDIS_URL", ""),
		KafkaBrokers:   getEnv("KAFKA_BROKERS", ""),
		KafkaTierTopic: getEnv("KAFKA_TIER_TOPIC", "dilution.tier-changes"),

		ScoringConfigPath: getEnv("SCORING_CONFIG", ""),

		PipelineMaxConcurrent:   getEnvAsInt("PIPELINE_MAX_CONCURRENT", 4),
		PipelineIntervalMinutes: getEnvAsInt("PIPELINE_INTERVAL_MINUTES", 24*60),
		PipelineMaxCompanies:    getEnvAsInt("PIPELINE_MAX_COMPANIES", 0),
		PipelineMode:            getEnv("PIPELINE_MODE", "full"),

		// Security configuration
		AllowedOrigins:  getEnv("ALLOWED_ORIGINS", ""),
		TrustedProxies:  getEnv("TRUSTED_PROXIES", ""),
		EnableRateLimit: getEnv("ENABLE_RATE_LIMIT", "true") == "true",
		MaxRequestSize:  getEnvAsInt64("MAX_REQUEST_SIZE", 10*1024*1024), // 10MB default
	}
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// HasFMPCredentials returns true if the market data API key is configured
func (c *Config) HasFMPCredentials() bool {
	return c.FMPAPIKey != ""
}

// GetKafkaBrokers returns the configured brokers, or nil when events are disabled
func (c *Config) GetKafkaBrokers() []string {
	return splitList(c.KafkaBrokers)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// GetAllowedOrigins returns a slice of allowed CORS origins
func (c *Config) GetAllowedOrigins() []string {
	if c.AllowedOrigins == "" {
		if c.IsDevelopment() {
			return []string{"http://localhost:3000", "http://localhost:5173"}
		}
		return []string{}
	}
	return splitList(c.AllowedOrigins)
}

// GetTrustedProxies returns a slice of trusted proxy IPs
func (c *Config) GetTrustedProxies() []string {
	return splitList(c.TrustedProxies)
}

// IsSecurityEnabled returns true if security features should be enabled
func (c *Config) IsSecurityEnabled() bool {
	return c.IsProduction() || getEnv("ENABLE_SECURITY", "false") == "true"
}
