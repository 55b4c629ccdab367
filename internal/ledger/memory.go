// Package ledger holds the in-memory application ledger.
//
// The ledger is the single source of truth for "has this job been applied
// to". Memory is used by tests and by LEDGER_DRIVER=memory; the durable
// implementation lives in internal/store/sqlstore and has the same method
// set.
package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yoanipalmas/App-ApplyBot/internal/domain"
)

// Memory is a concurrency-safe in-memory ledger.
type Memory struct {
	mu       sync.RWMutex
	records  map[string]domain.ApplicationRecord
	attempts []domain.AttemptRecord
	runs     map[uuid.UUID]domain.DispatchRun
}

func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]domain.ApplicationRecord),
		runs:    make(map[uuid.UUID]domain.DispatchRun),
	}
}

// Get returns domain.ErrRecordNotFound when the job was never attempted.
func (m *Memory) Get(ctx context.Context, jobID string) (domain.ApplicationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[jobID]
	if !ok {
		return domain.ApplicationRecord{}, domain.ErrRecordNotFound
	}
	return rec, nil
}

// GetMany returns the records that exist for the given ids.
func (m *Memory) GetMany(ctx context.Context, jobIDs []string) (map[string]domain.ApplicationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]domain.ApplicationRecord, len(jobIDs))
	for _, id := range jobIDs {
		if rec, ok := m.records[id]; ok {
			out[id] = rec
		}
	}
	return out, nil
}

// List returns records ordered by most recent update, paginated.
func (m *Memory) List(ctx context.Context, limit, offset int) ([]domain.ApplicationRecord, error) {
	m.mu.RLock()
	all := make([]domain.ApplicationRecord, 0, len(m.records))
	for _, rec := range m.records {
		all = append(all, rec)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		}
		return all[i].JobID < all[j].JobID
	})

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// BeginAttempt moves the job to submitting, increments its attempt count and
// appends the attempt to the history. The record is created on first use.
func (m *Memory) BeginAttempt(ctx context.Context, posting domain.JobPosting, attempt domain.AttemptRecord) (domain.ApplicationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[posting.ID]
	if !ok {
		rec = domain.ApplicationRecord{
			JobID:     posting.ID,
			Status:    domain.StatusPending,
			CreatedAt: attempt.StartedAt,
		}
	}
	if err := domain.CanTransition(domain.SourceDispatch, rec.Status, domain.StatusSubmitting); err != nil {
		return rec, err
	}

	startedAt := attempt.StartedAt
	rec.Status = domain.StatusSubmitting
	rec.Attempts++
	rec.LastAttemptAt = &startedAt
	rec.Title = posting.Title
	rec.Company = posting.Company
	rec.UpdatedAt = startedAt
	m.records[posting.ID] = rec

	attempt.JobID = posting.ID
	m.attempts = append(m.attempts, attempt)
	return rec, nil
}

// CompleteAttempt closes an attempt and moves the record to applied or failed.
func (m *Memory) CompleteAttempt(ctx context.Context, attemptID uuid.UUID, jobID string, outcome domain.AttemptOutcome, errMsg string, at time.Time) (domain.ApplicationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[jobID]
	if !ok {
		return domain.ApplicationRecord{}, domain.ErrRecordNotFound
	}

	to := TargetStatus(outcome)
	if err := domain.CanTransition(domain.SourceDispatch, rec.Status, to); err != nil {
		return rec, err
	}
	ApplyOutcome(&rec, to, errMsg, at)
	m.records[jobID] = rec

	for i := range m.attempts {
		if m.attempts[i].ID == attemptID {
			m.attempts[i].Outcome = outcome
			m.attempts[i].Error = errMsg
			m.attempts[i].FinishedAt = &at
			break
		}
	}
	return rec, nil
}

// UpdateStatus applies an out-of-band status change such as an interview
// invitation. Only the external transitions in domain.CanTransition pass.
func (m *Memory) UpdateStatus(ctx context.Context, jobID string, to domain.ApplicationStatus, at time.Time) (domain.ApplicationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[jobID]
	if !ok {
		return domain.ApplicationRecord{}, domain.ErrRecordNotFound
	}
	if err := domain.CanTransition(domain.SourceExternal, rec.Status, to); err != nil {
		return rec, err
	}
	rec.Status = to
	rec.UpdatedAt = at
	m.records[jobID] = rec
	return rec, nil
}

// CountAttemptsSince counts attempts started at or after since.
func (m *Memory) CountAttemptsSince(ctx context.Context, since time.Time, includeManual bool) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, a := range m.attempts {
		if a.StartedAt.Before(since) {
			continue
		}
		if !includeManual && a.Trigger == domain.TriggerManual {
			continue
		}
		n++
	}
	return n, nil
}

// ListAttempts returns the attempt history for one job, oldest first.
func (m *Memory) ListAttempts(ctx context.Context, jobID string) ([]domain.AttemptRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.AttemptRecord
	for _, a := range m.attempts {
		if a.JobID == jobID {
			out = append(out, a)
		}
	}
	return out, nil
}

// ListStale returns records stuck in submitting since before olderThan.
func (m *Memory) ListStale(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.ApplicationRecord, error) {
	m.mu.RLock()
	var out []domain.ApplicationRecord
	for _, rec := range m.records {
		if rec.Status == domain.StatusSubmitting && rec.LastAttemptAt != nil && rec.LastAttemptAt.Before(olderThan) {
			out = append(out, rec)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].LastAttemptAt.Before(*out[j].LastAttemptAt) })
	if maxResults > 0 && len(out) > maxResults {
		out = out[:maxResults]
	}
	return out, nil
}

// RecoverStale fails a record left in submitting and closes its open attempts
// as interrupted.
func (m *Memory) RecoverStale(ctx context.Context, jobID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[jobID]
	if !ok {
		return domain.ErrRecordNotFound
	}
	if err := domain.CanTransition(domain.SourceReconciler, rec.Status, domain.StatusFailed); err != nil {
		return err
	}
	ApplyOutcome(&rec, domain.StatusFailed, InterruptedError, at)
	m.records[jobID] = rec

	for i := range m.attempts {
		if m.attempts[i].JobID == jobID && m.attempts[i].FinishedAt == nil {
			m.attempts[i].Outcome = domain.OutcomeInterrupted
			m.attempts[i].Error = InterruptedError
			m.attempts[i].FinishedAt = &at
		}
	}
	return nil
}

func (m *Memory) InsertRun(ctx context.Context, run domain.DispatchRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	return nil
}

func (m *Memory) FinishRun(ctx context.Context, run domain.DispatchRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; !ok {
		return domain.ErrRecordNotFound
	}
	m.runs[run.ID] = run
	return nil
}

// GetRun is used by tests and the API to inspect a closed run.
func (m *Memory) GetRun(ctx context.Context, id uuid.UUID) (domain.DispatchRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return domain.DispatchRun{}, domain.ErrRecordNotFound
	}
	return run, nil
}

// Stats summarizes the ledger for the dashboard. WindowQuota is left for the
// caller to fill in.
func (m *Memory) Stats(ctx context.Context, windowStart time.Time) (domain.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var counts statusCounts
	for _, rec := range m.records {
		counts.add(rec.Status, 1)
	}
	for _, a := range m.attempts {
		if !a.StartedAt.Before(windowStart) {
			counts.window++
		}
	}
	return counts.stats(), nil
}
