package cost

import (
	"fmt"
)

// Config holds the extraction cost budget of one run
type Config struct {
	// Enabled controls whether the budget is enforced
	// Default: true
	Enabled bool `yaml:"enabled"`

	// MaxTokensPerRun caps input + output tokens sent to the model in one run
	// 0 = unlimited
	// Default: 0 (the cost cap applies)
	MaxTokensPerRun int64 `yaml:"max_tokens_per_run"`

	// MaxCostPerRun caps the model spend of one run in USD
	// 0.0 = unlimited
	// Default: 5.00 (about 150 broker pages on Haiku)
	MaxCostPerRun float64 `yaml:"max_cost_per_run"`

	// AlertThreshold is the share of the budget that logs a warning
	// Default: 0.80 (80%)
	AlertThreshold float64 `yaml:"alert_threshold"`

	// InputTokenCost is the cost per 1M input tokens (in USD)
	// Default: $0.80 for Claude 3.5 Haiku
	InputTokenCost float64 `yaml:"input_token_cost"`

	// OutputTokenCost is the cost per 1M output tokens (in USD)
	// Default: $4.00 for Claude 3.5 Haiku
	OutputTokenCost float64 `yaml:"output_token_cost"`
}

// DefaultConfig returns the default extraction budget
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		MaxCostPerRun:   5.00,
		AlertThreshold:  0.80,
		InputTokenCost:  0.80,
		OutputTokenCost: 4.00,
	}
}

// Validate checks that the configuration has safe and reasonable values
func (c Config) Validate() error {
	if c.MaxTokensPerRun < 0 {
		return fmt.Errorf("max_tokens_per_run must be non-negative, got %d", c.MaxTokensPerRun)
	}
	if c.MaxCostPerRun < 0 {
		return fmt.Errorf("max_cost_per_run must be non-negative, got %.2f", c.MaxCostPerRun)
	}
	if c.AlertThreshold <= 0 || c.AlertThreshold > 1.0 {
		return fmt.Errorf("alert_threshold must be between 0 and 1, got %.2f", c.AlertThreshold)
	}
	if c.InputTokenCost < 0 {
		return fmt.Errorf("input_token_cost must be non-negative, got %.2f", c.InputTokenCost)
	}
	if c.OutputTokenCost < 0 {
		return fmt.Errorf("output_token_cost must be non-negative, got %.2f", c.OutputTokenCost)
	}
	return nil
}
