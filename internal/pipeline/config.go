package pipeline

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds configuration for a run
type Config struct {
	// Concurrency is how many URLs are fetched and extracted at once
	// Higher values = faster runs, more load on brokers and the model API
	// Default: 4
	Concurrency int `yaml:"concurrency"`

	// URLTimeout bounds fetch plus extraction of one URL
	// Default: 5m
	URLTimeout time.Duration `yaml:"url_timeout"`

	// TestURLCount is how many URLs a --test run processes
	// Default: 3
	TestURLCount int `yaml:"test_url_count"`
}

// DefaultConfig returns the default run configuration
func DefaultConfig() Config {
	return Config{
		Concurrency:  4,
		URLTimeout:   5 * time.Minute,
		TestURLCount: 3,
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.Concurrency < 1 || c.Concurrency > 64 {
		return fmt.Errorf("concurrency must be between 1 and 64 (got %d)", c.Concurrency)
	}
	if c.URLTimeout <= 0 {
		return fmt.Errorf("url_timeout must be positive (got %v)", c.URLTimeout)
	}
	if c.TestURLCount < 1 {
		return fmt.Errorf("test_url_count must be at least 1 (got %d)", c.TestURLCount)
	}
	return nil
}

// ApplyEnv overrides cfg from environment variables:
//   - MCF_CONCURRENCY: URLs processed at once
func ApplyEnv(cfg Config) (Config, error) {
	if val := os.Getenv("MCF_CONCURRENCY"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return cfg, fmt.Errorf("invalid MCF_CONCURRENCY: %w", err)
		}
		cfg.Concurrency = n
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration from environment: %w", err)
	}
	return cfg, nil
}
