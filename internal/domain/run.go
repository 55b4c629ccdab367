package domain

import (
	"time"

	"github.com/google/uuid"
)

// DispatchRun records one batch from start to close.
type DispatchRun struct {
	ID           uuid.UUID
	Trigger      Trigger
	StartedAt    time.Time
	FinishedAt   *time.Time
	WindowTarget int

	Attempted int
	Succeeded int
	Failed    int
	Skipped   int

	Cancelled      bool
	RateLimited    bool
	QuotaExhausted bool
}

// BatchResult is what a batch reports back to its caller and observers.
type BatchResult struct {
	RunID     uuid.UUID `json:"run_id"`
	Attempted int       `json:"attempted"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`

	Cancelled      bool `json:"cancelled"`
	RateLimited    bool `json:"rate_limited"`
	QuotaExhausted bool `json:"quota_exhausted"`
}

// Close copies the result counters onto the run and stamps it finished.
func (r *DispatchRun) Close(result BatchResult, at time.Time) {
	r.Attempted = result.Attempted
	r.Succeeded = result.Succeeded
	r.Failed = result.Failed
	r.Skipped = result.Skipped
	r.Cancelled = result.Cancelled
	r.RateLimited = result.RateLimited
	r.QuotaExhausted = result.QuotaExhausted
	r.FinishedAt = &at
}
