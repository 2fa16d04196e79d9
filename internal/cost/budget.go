// Package cost tracks model token spend during a run and stops new model
// calls once the run's budget is used up.
package cost

import (
	"errors"
	"fmt"
	"log"
	"sync"
)

// ErrBudgetExceeded is returned by Allow once the run's budget is spent.
var ErrBudgetExceeded = errors.New("extraction budget exceeded")

// BudgetStatus represents the current budget state
type BudgetStatus int

const (
	// BudgetHealthy indicates normal operation - under budget limits
	BudgetHealthy BudgetStatus = iota
	// BudgetWarning indicates approaching budget limits (>80% by default)
	BudgetWarning
	// BudgetExceeded indicates budget limits have been exceeded
	BudgetExceeded
)

// String returns a human-readable string representation of the budget status
func (s BudgetStatus) String() string {
	switch s {
	case BudgetHealthy:
		return "HEALTHY"
	case BudgetWarning:
		return "WARNING"
	case BudgetExceeded:
		return "EXCEEDED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Stats is a snapshot of a run's spend.
type Stats struct {
	Status       BudgetStatus `json:"status"`
	Calls        int          `json:"calls"`
	InputTokens  int64        `json:"input_tokens"`
	OutputTokens int64        `json:"output_tokens"`
	Cost         float64      `json:"cost"`
}

// Tracker accumulates the spend of one run. It is safe for concurrent use.
type Tracker struct {
	cfg Config

	mu            sync.Mutex
	stats         Stats
	warningLogged bool
	exceedLogged  bool
}

// NewTracker creates a Tracker with a fresh budget.
func NewTracker(cfg Config) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cost config: %w", err)
	}
	return &Tracker{cfg: cfg}, nil
}

// Allow returns ErrBudgetExceeded, wrapped with the limit that was hit,
// when no further model call may be made.
func (t *Tracker) Allow() error {
	if !t.cfg.Enabled {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case t.tokenLimitExceeded():
		return fmt.Errorf("%w: %d/%d tokens used", ErrBudgetExceeded,
			t.stats.InputTokens+t.stats.OutputTokens, t.cfg.MaxTokensPerRun)
	case t.costLimitExceeded():
		return fmt.Errorf("%w: $%.2f/$%.2f spent", ErrBudgetExceeded, t.stats.Cost, t.cfg.MaxCostPerRun)
	}
	return nil
}

// RecordUsage adds one model call and returns the resulting status.
func (t *Tracker) RecordUsage(inputTokens, outputTokens int64) BudgetStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.Calls++
	t.stats.InputTokens += inputTokens
	t.stats.OutputTokens += outputTokens
	t.stats.Cost += t.calculateCost(inputTokens, outputTokens)
	t.stats.Status = t.statusLocked()

	switch t.stats.Status {
	case BudgetWarning:
		if !t.warningLogged {
			log.Printf("[EXTRACT] Cost budget warning: $%.2f of $%.2f, %d tokens",
				t.stats.Cost, t.cfg.MaxCostPerRun, t.stats.InputTokens+t.stats.OutputTokens)
			t.warningLogged = true
		}
	case BudgetExceeded:
		if !t.exceedLogged {
			log.Printf("[EXTRACT] Cost budget exceeded: $%.2f of $%.2f; remaining pages use regex extraction",
				t.stats.Cost, t.cfg.MaxCostPerRun)
			t.exceedLogged = true
		}
	}
	return t.stats.Status
}

// Stats returns the spend so far.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// statusLocked must be called with mu held
func (t *Tracker) statusLocked() BudgetStatus {
	if !t.cfg.Enabled {
		return BudgetHealthy
	}
	if t.tokenLimitExceeded() || t.costLimitExceeded() {
		return BudgetExceeded
	}

	tokens := t.stats.InputTokens + t.stats.OutputTokens
	if (t.cfg.MaxTokensPerRun > 0 && float64(tokens)/float64(t.cfg.MaxTokensPerRun) >= t.cfg.AlertThreshold) ||
		(t.cfg.MaxCostPerRun > 0 && t.stats.Cost/t.cfg.MaxCostPerRun >= t.cfg.AlertThreshold) {
		return BudgetWarning
	}
	return BudgetHealthy
}

func (t *Tracker) tokenLimitExceeded() bool {
	return t.cfg.MaxTokensPerRun > 0 && t.stats.InputTokens+t.stats.OutputTokens >= t.cfg.MaxTokensPerRun
}

func (t *Tracker) costLimitExceeded() bool {
	return t.cfg.MaxCostPerRun > 0 && t.stats.Cost >= t.cfg.MaxCostPerRun
}

// calculateCost calculates the cost in USD for given token usage
func (t *Tracker) calculateCost(inputTokens, outputTokens int64) float64 {
	inputCost := float64(inputTokens) * t.cfg.InputTokenCost / 1_000_000
	outputCost := float64(outputTokens) * t.cfg.OutputTokenCost / 1_000_000
	return inputCost + outputCost
}
