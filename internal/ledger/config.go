package ledger

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds configuration for the run ledger
type Config struct {
	// GracePeriod is the number of consecutive runs a listing may be absent
	// from its (attempted) source page before it is marked delisted
	// Higher values = fewer false delistings after a flaky extraction
	// Lower values = faster reaction to listings that really sold
	// Default: 2
	GracePeriod int `yaml:"grace_period"`
}

// DefaultConfig returns the default ledger configuration
func DefaultConfig() Config {
	return Config{GracePeriod: 2}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.GracePeriod < 1 {
		return fmt.Errorf("grace_period must be at least 1 (got %d)", c.GracePeriod)
	}
	if c.GracePeriod > 100 {
		return fmt.Errorf("grace_period must be at most 100 (got %d)", c.GracePeriod)
	}
	return nil
}

// String returns a human-readable representation of the config
func (c Config) String() string {
	return fmt.Sprintf("Config{GracePeriod: %d}", c.GracePeriod)
}

// ConfigFromEnv creates a Config from environment variables, falling back to defaults
//
// Environment variables:
//   - MCF_LEDGER_GRACE_RUNS: Missed runs before delisting (default: 2)
func ConfigFromEnv() (Config, error) {
	return ApplyEnv(DefaultConfig())
}

// ApplyEnv overrides cfg with MCF_LEDGER_* variables that are set.
func ApplyEnv(cfg Config) (Config, error) {
	if err := parseEnvInt("MCF_LEDGER_GRACE_RUNS", &cfg.GracePeriod); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration from environment: %w", err)
	}
	return cfg, nil
}

// parseEnvInt parses an int environment variable
func parseEnvInt(key string, dest *int) error {
	if val := os.Getenv(key); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dest = i
	}
	return nil
}
