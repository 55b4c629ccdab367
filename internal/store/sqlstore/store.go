// Package sqlstore is the durable application ledger on database/sql.
// PostgreSQL (lib/pq) and SQLite (modernc.org/sqlite) share one set of
// queries; the dialect only rewrites placeholders and column types.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/yoanipalmas/App-ApplyBot/internal/api"
	"github.com/yoanipalmas/App-ApplyBot/internal/dispatch"
	"github.com/yoanipalmas/App-ApplyBot/internal/domain"
	"github.com/yoanipalmas/App-ApplyBot/internal/ledger"
	"github.com/yoanipalmas/App-ApplyBot/internal/reconciler"
)

// ErrDuplicateRun is returned when a dispatch run id is inserted twice.
var ErrDuplicateRun = errors.New("sqlstore: dispatch run already exists")

// Store implements ledger.Ledger on a SQL database.
type Store struct {
	db        *sql.DB
	dialect   Dialect
	opTimeout time.Duration
}

// New creates a store on an open connection. Call Migrate before use.
func New(db *sql.DB, d Dialect) *Store {
	return &Store{db: db, dialect: d}
}

// WithOpTimeout bounds every store operation. Zero means no bound beyond
// the caller's context.
func (s *Store) WithOpTimeout(d time.Duration) *Store {
	s.opTimeout = d
	return s
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// Migrate creates the tables when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schemaStatements() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: migrate: %w", err)
		}
	}
	return nil
}

// Ping is used by the verbose health check.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.db.PingContext(ctx)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplication(row rowScanner) (domain.ApplicationRecord, error) {
	var rec domain.ApplicationRecord
	var status string
	var submittedAt, lastAttemptAt, createdAt, updatedAt timeValue

	err := row.Scan(
		&rec.JobID,
		&status,
		&submittedAt,
		&rec.Attempts,
		&rec.LastError,
		&lastAttemptAt,
		&rec.Title,
		&rec.Company,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return domain.ApplicationRecord{}, err
	}
	rec.Status = domain.ApplicationStatus(status)
	rec.SubmittedAt = submittedAt.ptr()
	rec.LastAttemptAt = lastAttemptAt.ptr()
	rec.CreatedAt = createdAt.t
	rec.UpdatedAt = updatedAt.t
	return rec, nil
}

func (s *Store) getApplication(ctx context.Context, q querier, jobID string, lock bool) (domain.ApplicationRecord, error) {
	query := queryGetApplication
	if lock {
		query += s.dialect.forUpdate()
	}
	rec, err := scanApplication(q.QueryRowContext(ctx, s.dialect.rebind(query), jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ApplicationRecord{}, domain.ErrRecordNotFound
	}
	return rec, err
}

func (s *Store) putApplication(ctx context.Context, q querier, rec domain.ApplicationRecord) error {
	d := s.dialect
	_, err := q.ExecContext(ctx, d.rebind(queryUpsertApplication),
		rec.JobID,
		string(rec.Status),
		d.nullTimeArg(rec.SubmittedAt),
		rec.Attempts,
		rec.LastError,
		d.nullTimeArg(rec.LastAttemptAt),
		rec.Title,
		rec.Company,
		d.timeArg(rec.CreatedAt),
		d.timeArg(rec.UpdatedAt),
	)
	return err
}

// Get returns domain.ErrRecordNotFound when the job was never attempted.
func (s *Store) Get(ctx context.Context, jobID string) (domain.ApplicationRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.getApplication(ctx, s.db, jobID, false)
}

// GetMany returns the records that exist for the given ids.
func (s *Store) GetMany(ctx context.Context, jobIDs []string) (map[string]domain.ApplicationRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	out := make(map[string]domain.ApplicationRecord, len(jobIDs))
	if len(jobIDs) == 0 {
		return out, nil
	}

	args := make([]any, len(jobIDs))
	for i, id := range jobIDs {
		args[i] = id
	}
	query := fmt.Sprintf(queryGetApplicationsIn, placeholders(1, len(jobIDs)))

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		out[rec.JobID] = rec
	}
	return out, rows.Err()
}

// List returns records ordered by most recent update, paginated.
func (s *Store) List(ctx context.Context, limit, offset int) ([]domain.ApplicationRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = math.MaxInt32
	}
	return s.queryApplications(ctx, queryListApplications, limit, offset)
}

// ListStale returns records stuck in submitting since before olderThan,
// oldest first.
func (s *Store) ListStale(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.ApplicationRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.queryApplications(ctx, queryListStale, s.dialect.timeArg(olderThan), maxResults)
}

func (s *Store) queryApplications(ctx context.Context, query string, args ...any) ([]domain.ApplicationRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ApplicationRecord
	for rows.Next() {
		rec, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// BeginAttempt moves the job to submitting and inserts the attempt in one
// transaction. The record row is created on first use.
func (s *Store) BeginAttempt(ctx context.Context, posting domain.JobPosting, attempt domain.AttemptRecord) (domain.ApplicationRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.ApplicationRecord{}, err
	}
	defer tx.Rollback()

	rec, err := s.getApplication(ctx, tx, posting.ID, true)
	if errors.Is(err, domain.ErrRecordNotFound) {
		rec = domain.ApplicationRecord{
			JobID:     posting.ID,
			Status:    domain.StatusPending,
			CreatedAt: attempt.StartedAt,
		}
	} else if err != nil {
		return domain.ApplicationRecord{}, err
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
	if err := s.putApplication(ctx, tx, rec); err != nil {
		return domain.ApplicationRecord{}, err
	}

	_, err = tx.ExecContext(ctx, s.dialect.rebind(queryInsertAttempt),
		attempt.ID,
		posting.ID,
		attempt.RunID,
		string(attempt.Trigger),
		s.dialect.timeArg(attempt.StartedAt),
	)
	if err != nil {
		return domain.ApplicationRecord{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.ApplicationRecord{}, err
	}
	return rec, nil
}

// CompleteAttempt closes an attempt and moves the record to applied or failed.
func (s *Store) CompleteAttempt(ctx context.Context, attemptID uuid.UUID, jobID string, outcome domain.AttemptOutcome, errMsg string, at time.Time) (domain.ApplicationRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.ApplicationRecord{}, err
	}
	defer tx.Rollback()

	rec, err := s.getApplication(ctx, tx, jobID, true)
	if err != nil {
		return domain.ApplicationRecord{}, err
	}

	to := ledger.TargetStatus(outcome)
	if err := domain.CanTransition(domain.SourceDispatch, rec.Status, to); err != nil {
		return rec, err
	}
	ledger.ApplyOutcome(&rec, to, errMsg, at)
	if err := s.putApplication(ctx, tx, rec); err != nil {
		return domain.ApplicationRecord{}, err
	}

	_, err = tx.ExecContext(ctx, s.dialect.rebind(queryCompleteAttempt),
		string(outcome), errMsg, s.dialect.timeArg(at), attemptID)
	if err != nil {
		return domain.ApplicationRecord{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.ApplicationRecord{}, err
	}
	return rec, nil
}

// UpdateStatus applies an out-of-band status change. Only the external
// transitions in domain.CanTransition pass.
func (s *Store) UpdateStatus(ctx context.Context, jobID string, to domain.ApplicationStatus, at time.Time) (domain.ApplicationRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.ApplicationRecord{}, err
	}
	defer tx.Rollback()

	rec, err := s.getApplication(ctx, tx, jobID, true)
	if err != nil {
		return domain.ApplicationRecord{}, err
	}
	if err := domain.CanTransition(domain.SourceExternal, rec.Status, to); err != nil {
		return rec, err
	}
	rec.Status = to
	rec.UpdatedAt = at
	if err := s.putApplication(ctx, tx, rec); err != nil {
		return domain.ApplicationRecord{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.ApplicationRecord{}, err
	}
	return rec, nil
}

// RecoverStale fails a record left in submitting and closes its open
// attempts as interrupted.
func (s *Store) RecoverStale(ctx context.Context, jobID string, at time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rec, err := s.getApplication(ctx, tx, jobID, true)
	if err != nil {
		return err
	}
	if err := domain.CanTransition(domain.SourceReconciler, rec.Status, domain.StatusFailed); err != nil {
		return err
	}
	ledger.ApplyOutcome(&rec, domain.StatusFailed, ledger.InterruptedError, at)
	if err := s.putApplication(ctx, tx, rec); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, s.dialect.rebind(queryInterruptOpenAttempts),
		string(domain.OutcomeInterrupted), ledger.InterruptedError, s.dialect.timeArg(at), jobID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// CountAttemptsSince counts attempts started at or after since.
func (s *Store) CountAttemptsSince(ctx context.Context, since time.Time, includeManual bool) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := queryCountAttemptsSince
	if !includeManual {
		query = queryCountScheduledAttemptsSince
	}
	var n int
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(query), s.dialect.timeArg(since)).Scan(&n)
	return n, err
}

// ListAttempts returns the attempt history for one job, oldest first.
func (s *Store) ListAttempts(ctx context.Context, jobID string) ([]domain.AttemptRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(queryListAttempts), jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.AttemptRecord
	for rows.Next() {
		var a domain.AttemptRecord
		var trigger, outcome string
		var startedAt, finishedAt timeValue

		err := rows.Scan(
			&a.ID,
			&a.JobID,
			&a.RunID,
			&trigger,
			&outcome,
			&a.Error,
			&startedAt,
			&finishedAt,
		)
		if err != nil {
			return nil, err
		}
		a.Trigger = domain.Trigger(trigger)
		a.Outcome = domain.AttemptOutcome(outcome)
		a.StartedAt = startedAt.t
		a.FinishedAt = finishedAt.ptr()
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// InsertRun returns ErrDuplicateRun if the run id already exists.
func (s *Store) InsertRun(ctx context.Context, run domain.DispatchRun) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, s.dialect.rebind(queryInsertRun),
		run.ID,
		string(run.Trigger),
		s.dialect.timeArg(run.StartedAt),
		run.WindowTarget,
	)
	if isDuplicateKeyError(err) {
		return ErrDuplicateRun
	}
	return err
}

// FinishRun stores the closing counters of a run.
func (s *Store) FinishRun(ctx context.Context, run domain.DispatchRun) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, s.dialect.rebind(queryFinishRun),
		s.dialect.nullTimeArg(run.FinishedAt),
		run.Attempted,
		run.Succeeded,
		run.Failed,
		run.Skipped,
		run.Cancelled,
		run.RateLimited,
		run.QuotaExhausted,
		run.ID,
	)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return domain.ErrRecordNotFound
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (domain.DispatchRun, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var run domain.DispatchRun
	var trigger string
	var startedAt, finishedAt timeValue

	err := s.db.QueryRowContext(ctx, s.dialect.rebind(queryGetRun), id).Scan(
		&run.ID,
		&trigger,
		&startedAt,
		&finishedAt,
		&run.WindowTarget,
		&run.Attempted,
		&run.Succeeded,
		&run.Failed,
		&run.Skipped,
		&run.Cancelled,
		&run.RateLimited,
		&run.QuotaExhausted,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DispatchRun{}, domain.ErrRecordNotFound
	}
	if err != nil {
		return domain.DispatchRun{}, err
	}
	run.Trigger = domain.Trigger(trigger)
	run.StartedAt = startedAt.t
	run.FinishedAt = finishedAt.ptr()
	return run, nil
}

// Stats summarizes the ledger. WindowQuota is left for the caller.
func (s *Store) Stats(ctx context.Context, windowStart time.Time) (domain.Stats, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryStatusCounts)
	if err != nil {
		return domain.Stats{}, err
	}
	defer rows.Close()

	byStatus := make(map[domain.ApplicationStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return domain.Stats{}, err
		}
		byStatus[domain.ApplicationStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return domain.Stats{}, err
	}

	window, err := s.CountAttemptsSince(ctx, windowStart, true)
	if err != nil {
		return domain.Stats{}, err
	}
	return ledger.StatsFromCounts(byStatus, window), nil
}

// Compile-time interface assertions
var (
	_ ledger.Ledger    = (*Store)(nil)
	_ dispatch.Ledger  = (*Store)(nil)
	_ reconciler.Store = (*Store)(nil)
	_ api.Store        = (*Store)(nil)
)
