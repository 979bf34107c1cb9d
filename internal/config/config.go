package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the engine
type Config struct {
	// Redis configuration
	RedisURL string

	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Fee configuration, all rates in basis points
	PerformanceFeeBps        int64
	ProtocolFeeBps           int64
	MarketplaceCommissionBps int64
	ReferralCommissionBps    int64
	TreasuryAddress          string
	ProtocolAddress          string

	// Scheduler configuration
	SchedulerTick    time.Duration
	ExecutionTimeout time.Duration

	// OpenAI decision provider configuration
	OpenAIKey   string
	OpenAIModel string

	// HTTP surfaces
	APIListenAddr  string
	FeedListenAddr string

	// Logging configuration
	LogLevel string

	// Metrics configuration
	MetricsPort string
}

// Load reads configuration from environment variables and validates it
func Load() (Config, error) {
	cfg := Config{
		RedisURL:        getEnv("REDIS_URL", "redis://localhost:6379"),
		DBHost:          getEnv("DB_HOST", ""),
		DBPort:          getEnv("DB_PORT", "5432"),
		DBUser:          getEnv("DB_USER", ""),
		DBPassword:      getEnv("DB_PASSWORD", ""),
		DBName:          getEnv("DB_NAME", ""),
		TreasuryAddress: getEnv("TREASURY_ADDRESS", ""),
		ProtocolAddress: getEnv("PROTOCOL_ADDRESS", ""),
		OpenAIKey:       getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:     getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		APIListenAddr:   getEnv("API_LISTEN_ADDR", ":8080"),
		FeedListenAddr:  getEnv("FEED_LISTEN_ADDR", ":8081"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		MetricsPort:     getEnv("METRICS_PORT", "9100"),
	}

	var err error
	cfg.PerformanceFeeBps, err = parseInt64Env("PERFORMANCE_FEE_BPS", 2000)
	if err != nil {
		return cfg, fmt.Errorf("invalid PERFORMANCE_FEE_BPS: %w", err)
	}
	cfg.ProtocolFeeBps, err = parseInt64Env("PROTOCOL_FEE_BPS", 50)
	if err != nil {
		return cfg, fmt.Errorf("invalid PROTOCOL_FEE_BPS: %w", err)
	}
	cfg.MarketplaceCommissionBps, err = parseInt64Env("MARKETPLACE_COMMISSION_BPS", 250)
	if err != nil {
		return cfg, fmt.Errorf("invalid MARKETPLACE_COMMISSION_BPS: %w", err)
	}
	cfg.ReferralCommissionBps, err = parseInt64Env("REFERRAL_COMMISSION_BPS", 1000)
	if err != nil {
		return cfg, fmt.Errorf("invalid REFERRAL_COMMISSION_BPS: %w", err)
	}

	cfg.SchedulerTick, err = parseDurationEnv("SCHEDULER_TICK", 15*time.Second)
	if err != nil {
		return cfg, fmt.Errorf("invalid SCHEDULER_TICK: %w", err)
	}
	cfg.ExecutionTimeout, err = parseDurationEnv("EXECUTION_TIMEOUT", 2*time.Minute)
	if err != nil {
		return cfg, fmt.Errorf("invalid EXECUTION_TIMEOUT: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks that the configuration is valid
func (c Config) validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.TreasuryAddress == "" {
		return fmt.Errorf("TREASURY_ADDRESS is required")
	}

	if c.ProtocolAddress == "" {
		return fmt.Errorf("PROTOCOL_ADDRESS is required")
	}

	for name, bps := range map[string]int64{
		"PERFORMANCE_FEE_BPS":        c.PerformanceFeeBps,
		"PROTOCOL_FEE_BPS":           c.ProtocolFeeBps,
		"MARKETPLACE_COMMISSION_BPS": c.MarketplaceCommissionBps,
		"REFERRAL_COMMISSION_BPS":    c.ReferralCommissionBps,
	} {
		if bps < 0 || bps > 10000 {
			return fmt.Errorf("%s must be between 0 and 10000", name)
		}
	}

	if c.SchedulerTick < time.Second {
		return fmt.Errorf("SCHEDULER_TICK must be at least 1s")
	}

	validLogLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
		"panic": true,
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid LOG_LEVEL: %s (must be one of: trace, debug, info, warn, error, fatal, panic)", c.LogLevel)
	}

	return nil
}

// HasDatabase reports whether PostgreSQL persistence is configured. Without
// it the engine runs on the in-memory stores.
func (c Config) HasDatabase() bool {
	return c.DBHost != "" && c.DBUser != "" && c.DBName != ""
}

// getEnv retrieves an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseInt64Env parses an integer environment variable with a default value
func parseInt64Env(key string, defaultValue int64) (int64, error) {
	str := os.Getenv(key)
	if str == "" {
		return defaultValue, nil
	}
	return strconv.ParseInt(str, 10, 64)
}

// parseDurationEnv parses a duration environment variable with a default value
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	str := os.Getenv(key)
	if str == "" {
		return defaultValue, nil
	}
	return time.ParseDuration(str)
}
