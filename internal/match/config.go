package match

import (
	"fmt"
	"os"
	"strconv"
)

// Weights are the per-component weights of the similarity score.
type Weights struct {
	Address  float64 `yaml:"address"`
	Price    float64 `yaml:"price"`
	Bedrooms float64 `yaml:"bedrooms"`
	Lake     float64 `yaml:"lake"`
}

// Sum returns the total weight.
func (w Weights) Sum() float64 {
	return w.Address + w.Price + w.Bedrooms + w.Lake
}

// Config holds configuration for the match resolver
type Config struct {
	// Threshold is the minimum weighted score (0.0-1.0) for a candidate to match
	// Higher values = more duplicate listings after a broker edits a record
	// Lower values = more distinct cottages merged into one listing
	// Default: 0.80
	Threshold float64 `yaml:"threshold"`

	// AmbiguityMargin flags a match as low confidence when the runner-up
	// eligible candidate scores within this distance of the winner
	// Default: 0.02
	AmbiguityMargin float64 `yaml:"ambiguity_margin"`

	// MinCoverage is the share of the total weight (0.0-1.0) that must be
	// comparable on both sides before a candidate can match. With the default
	// weights this takes the address, or price, bedrooms and lake together.
	// A record carrying only a lake or a bedroom count never matches.
	// Default: 0.50
	MinCoverage float64 `yaml:"min_coverage"`

	// Weights of the address, price, bedrooms and lake components
	// Default: 0.5 / 0.2 / 0.15 / 0.15
	Weights Weights `yaml:"weights"`
}

// DefaultConfig returns the default resolver configuration
func DefaultConfig() Config {
	return Config{
		Threshold:       0.80,
		AmbiguityMargin: 0.02,
		MinCoverage:     0.50,
		Weights: Weights{
			Address:  0.5,
			Price:    0.2,
			Bedrooms: 0.15,
			Lake:     0.15,
		},
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.Threshold <= 0.0 || c.Threshold > 1.0 {
		return fmt.Errorf("threshold must be in (0.0, 1.0] (got %.2f)", c.Threshold)
	}
	if c.AmbiguityMargin < 0.0 || c.AmbiguityMargin > 0.5 {
		return fmt.Errorf("ambiguity_margin must be between 0.0 and 0.5 (got %.2f)", c.AmbiguityMargin)
	}
	if c.MinCoverage <= 0.0 || c.MinCoverage > 1.0 {
		return fmt.Errorf("min_coverage must be in (0.0, 1.0] (got %.2f)", c.MinCoverage)
	}
	weights := []struct {
		name string
		w    float64
	}{
		{"address", c.Weights.Address},
		{"price", c.Weights.Price},
		{"bedrooms", c.Weights.Bedrooms},
		{"lake", c.Weights.Lake},
	}
	for _, cw := range weights {
		if cw.w < 0 {
			return fmt.Errorf("%s weight cannot be negative (got %.2f)", cw.name, cw.w)
		}
	}
	if c.Weights.Sum() <= 0 {
		return fmt.Errorf("weights must sum to a positive value")
	}
	return nil
}

// String returns a human-readable representation of the config
func (c Config) String() string {
	return fmt.Sprintf(
		"Config{Threshold: %.2f, Margin: %.2f, MinCoverage: %.2f, Weights: address=%.2f price=%.2f bedrooms=%.2f lake=%.2f}",
		c.Threshold, c.AmbiguityMargin, c.MinCoverage,
		c.Weights.Address, c.Weights.Price, c.Weights.Bedrooms, c.Weights.Lake,
	)
}

// ConfigFromEnv creates a Config from environment variables, falling back to defaults
//
// Environment variables:
//   - MCF_MATCH_THRESHOLD: Minimum score (0.0-1.0) to match (default: 0.80)
//   - MCF_MATCH_AMBIGUITY_MARGIN: Runner-up distance flagged as low confidence (default: 0.02)
//   - MCF_MATCH_MIN_COVERAGE: Share of weight that must be comparable (default: 0.50)
//   - MCF_MATCH_WEIGHT_ADDRESS, MCF_MATCH_WEIGHT_PRICE,
//     MCF_MATCH_WEIGHT_BEDROOMS, MCF_MATCH_WEIGHT_LAKE: component weights
//
// Returns an error if any environment variable has an invalid value.
func ConfigFromEnv() (Config, error) {
	return ApplyEnv(DefaultConfig())
}

// ApplyEnv overrides cfg with any MCF_MATCH_* variables that are set.
func ApplyEnv(cfg Config) (Config, error) {
	vars := []struct {
		key string
		dst *float64
	}{
		{"MCF_MATCH_THRESHOLD", &cfg.Threshold},
		{"MCF_MATCH_AMBIGUITY_MARGIN", &cfg.AmbiguityMargin},
		{"MCF_MATCH_MIN_COVERAGE", &cfg.MinCoverage},
		{"MCF_MATCH_WEIGHT_ADDRESS", &cfg.Weights.Address},
		{"MCF_MATCH_WEIGHT_PRICE", &cfg.Weights.Price},
		{"MCF_MATCH_WEIGHT_BEDROOMS", &cfg.Weights.Bedrooms},
		{"MCF_MATCH_WEIGHT_LAKE", &cfg.Weights.Lake},
	}
	for _, v := range vars {
		if err := parseEnvFloat(v.key, v.dst); err != nil {
			return cfg, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration from environment: %w", err)
	}
	return cfg, nil
}

// parseEnvFloat parses a float64 environment variable
func parseEnvFloat(key string, dest *float64) error {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dest = f
	}
	return nil
}
