package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yoanipalmas/App-ApplyBot/internal/domain"
)

// Ledger is the full method set shared by Memory and sqlstore.Store.
// Consumers declare the narrower subsets they need.
type Ledger interface {
	Get(ctx context.Context, jobID string) (domain.ApplicationRecord, error)
	GetMany(ctx context.Context, jobIDs []string) (map[string]domain.ApplicationRecord, error)
	List(ctx context.Context, limit, offset int) ([]domain.ApplicationRecord, error)

	BeginAttempt(ctx context.Context, posting domain.JobPosting, attempt domain.AttemptRecord) (domain.ApplicationRecord, error)
	CompleteAttempt(ctx context.Context, attemptID uuid.UUID, jobID string, outcome domain.AttemptOutcome, errMsg string, at time.Time) (domain.ApplicationRecord, error)
	UpdateStatus(ctx context.Context, jobID string, to domain.ApplicationStatus, at time.Time) (domain.ApplicationRecord, error)

	CountAttemptsSince(ctx context.Context, since time.Time, includeManual bool) (int, error)
	ListAttempts(ctx context.Context, jobID string) ([]domain.AttemptRecord, error)

	ListStale(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.ApplicationRecord, error)
	RecoverStale(ctx context.Context, jobID string, at time.Time) error

	InsertRun(ctx context.Context, run domain.DispatchRun) error
	FinishRun(ctx context.Context, run domain.DispatchRun) error
	GetRun(ctx context.Context, id uuid.UUID) (domain.DispatchRun, error)

	Stats(ctx context.Context, windowStart time.Time) (domain.Stats, error)
}

var _ Ledger = (*Memory)(nil)
