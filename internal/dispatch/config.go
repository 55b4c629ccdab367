package dispatch

import (
	"time"

	"github.com/yoanipalmas/App-ApplyBot/internal/domain"
)

// MaxRetryBackoff caps the exponential wait before a failed job is retried.
const MaxRetryBackoff = 7 * 24 * time.Hour

type Config struct {
	// WeeklyQuota is the most attempts allowed in any QuotaWindow.
	WeeklyQuota int
	// SubmissionDelay is the pause between two submissions of a batch.
	SubmissionDelay time.Duration
	// Schedule is the automation cadence ("@every 2h" or a cron expression).
	Schedule string
	// Timezone applies to cron expressions. Empty means UTC.
	Timezone    string
	BatchSize   int
	QuotaWindow time.Duration
	// ManualCountsAgainstQuota makes manual attempts consume the same quota.
	// When false they are recorded but neither counted nor limited.
	ManualCountsAgainstQuota bool
	// MaxAttempts bounds how often a failed job is picked again.
	MaxAttempts int
	// RetryBackoff is the wait after the first failure; it doubles per attempt.
	RetryBackoff time.Duration
	// SubmissionTimeout bounds one gateway call.
	SubmissionTimeout time.Duration
	// RunOnStart fires one cycle as soon as automation starts.
	RunOnStart bool
}

func DefaultConfig() Config {
	return Config{
		WeeklyQuota:              20,
		SubmissionDelay:          2 * time.Second,
		Schedule:                 "@every 2h",
		BatchSize:                5,
		QuotaWindow:              7 * 24 * time.Hour,
		ManualCountsAgainstQuota: true,
		MaxAttempts:              3,
		RetryBackoff:             time.Hour,
		SubmissionTimeout:        30 * time.Second,
		RunOnStart:               true,
	}
}

// Validate returns the first violation as *domain.InvalidConfigError.
func (c Config) Validate() error {
	switch {
	case c.WeeklyQuota <= 0:
		return &domain.InvalidConfigError{Field: "WeeklyQuota", Message: "must be positive"}
	case c.SubmissionDelay < 0:
		return &domain.InvalidConfigError{Field: "SubmissionDelay", Message: "must not be negative"}
	case c.BatchSize <= 0:
		return &domain.InvalidConfigError{Field: "BatchSize", Message: "must be positive"}
	case c.QuotaWindow <= 0:
		return &domain.InvalidConfigError{Field: "QuotaWindow", Message: "must be positive"}
	case c.MaxAttempts <= 0:
		return &domain.InvalidConfigError{Field: "MaxAttempts", Message: "must be positive"}
	case c.RetryBackoff < 0:
		return &domain.InvalidConfigError{Field: "RetryBackoff", Message: "must not be negative"}
	case c.SubmissionTimeout <= 0:
		return &domain.InvalidConfigError{Field: "SubmissionTimeout", Message: "must be positive"}
	}
	return nil
}

// retryPolicy decides when a failed record may be selected again.
type retryPolicy struct {
	maxAttempts int
	backoff     time.Duration
}

func (c Config) retryPolicy() retryPolicy {
	return retryPolicy{maxAttempts: c.MaxAttempts, backoff: c.RetryBackoff}
}

// wait returns the backoff owed after the given number of attempts.
func (p retryPolicy) wait(attempts int) time.Duration {
	d := min(p.backoff, MaxRetryBackoff)
	if attempts <= 1 || d == 0 {
		return d
	}
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= MaxRetryBackoff {
			return MaxRetryBackoff
		}
	}
	return d
}

// eligible reports whether a job with this record may be submitted at now.
// A job without a record is always eligible.
func (p retryPolicy) eligible(rec domain.ApplicationRecord, found bool, now time.Time) bool {
	if !found {
		return true
	}
	switch rec.Status {
	case domain.StatusPending:
		return true
	case domain.StatusFailed:
		if rec.Attempts >= p.maxAttempts {
			return false
		}
		if rec.LastAttemptAt == nil {
			return true
		}
		return !now.Before(rec.LastAttemptAt.Add(p.wait(rec.Attempts)))
	default:
		return false
	}
}
