package types

import (
	"fmt"
	"time"
)

// RunStatus is the terminal state of a run
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// IsValid checks if the run status value is valid
func (s RunStatus) IsValid() bool {
	switch s {
	case RunCompleted, RunFailed:
		return true
	}
	return false
}

// RunMode records how a run was invoked
type RunMode string

const (
	ModeFull RunMode = "full"
	ModeTest RunMode = "test"
)

// Run is the append-only audit record of one engine invocation.
// It is written once, when the run completes or fails.
type Run struct {
	ID                 int64     `json:"id"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
	Mode               RunMode   `json:"mode"`
	Status             RunStatus `json:"status"`
	InputURLCount      int       `json:"input_url_count"`
	FailedURLCount     int       `json:"failed_url_count"`
	NewCount           int       `json:"new_count"`
	UpdatedCount       int       `json:"updated_count"`
	UnchangedCount     int       `json:"unchanged_count"`
	DelistedCount      int       `json:"delisted_count"`
	RelistedCount      int       `json:"relisted_count"`
	ExclusiveCount     int       `json:"exclusive_count"`
	NewBlogPostCount   int       `json:"new_blog_post_count"`
	LowConfidenceCount int       `json:"low_confidence_count"`
	Error              string    `json:"error,omitempty"`
}

// Validate checks if the run has valid field values
func (r *Run) Validate() error {
	if r.ID <= 0 {
		return fmt.Errorf("run id must be positive (got %d)", r.ID)
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("invalid run status: %s", r.Status)
	}
	if r.StartedAt.IsZero() {
		return fmt.Errorf("started_at is required")
	}
	if r.FinishedAt.Before(r.StartedAt) {
		return fmt.Errorf("finished_at (%s) precedes started_at (%s)",
			r.FinishedAt.Format(time.RFC3339), r.StartedAt.Format(time.RFC3339))
	}
	if r.InputURLCount < 0 || r.FailedURLCount < 0 || r.FailedURLCount > r.InputURLCount {
		return fmt.Errorf("invalid url counts (input=%d, failed=%d)", r.InputURLCount, r.FailedURLCount)
	}
	return nil
}

// Duration returns how long the run took.
func (r *Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
