package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/yoanipalmas/App-ApplyBot/internal/domain"
	"github.com/yoanipalmas/App-ApplyBot/internal/ledger"
)

var t0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(SQLite, filepath.Join(t.TempDir(), "ledger.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s := New(db, SQLite)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func beginAttempt(t *testing.T, s *Store, jobID string, trigger domain.Trigger, at time.Time) domain.AttemptRecord {
	t.Helper()
	attempt := domain.AttemptRecord{ID: uuid.New(), RunID: uuid.New(), Trigger: trigger, StartedAt: at}
	posting := domain.JobPosting{ID: jobID, Title: "Engineer", Company: "Acme"}
	if _, err := s.BeginAttempt(context.Background(), posting, attempt); err != nil {
		t.Fatalf("BeginAttempt(%s): %v", jobID, err)
	}
	return attempt
}

func TestStore_MigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestStore_AttemptLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "job-1"); !errors.Is(err, domain.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}

	attempt := beginAttempt(t, s, "job-1", domain.TriggerScheduled, t0)

	rec, err := s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != domain.StatusSubmitting || rec.Attempts != 1 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.LastAttemptAt == nil || !rec.LastAttemptAt.Equal(t0) {
		t.Errorf("LastAttemptAt = %v, want %v", rec.LastAttemptAt, t0)
	}
	if rec.Title != "Engineer" || rec.Company != "Acme" {
		t.Errorf("posting fields not stored: %+v", rec)
	}

	done := t0.Add(1500 * time.Millisecond)
	rec, err = s.CompleteAttempt(ctx, attempt.ID, "job-1", domain.OutcomeApplied, "", done)
	if err != nil {
		t.Fatalf("CompleteAttempt: %v", err)
	}
	if rec.Status != domain.StatusApplied {
		t.Errorf("status = %s, want applied", rec.Status)
	}

	reread, _ := s.Get(ctx, "job-1")
	if reread.SubmittedAt == nil || !reread.SubmittedAt.Equal(done) {
		t.Errorf("SubmittedAt round trip = %v, want %v", reread.SubmittedAt, done)
	}

	attempts, err := s.ListAttempts(ctx, "job-1")
	if err != nil {
		t.Fatalf("ListAttempts: %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(attempts))
	}
	if attempts[0].ID != attempt.ID || attempts[0].Outcome != domain.OutcomeApplied || attempts[0].FinishedAt == nil {
		t.Errorf("attempt not closed: %+v", attempts[0])
	}

	_, err = s.BeginAttempt(ctx, domain.JobPosting{ID: "job-1"}, domain.AttemptRecord{ID: uuid.New(), StartedAt: t0.Add(time.Hour)})
	if !errors.Is(err, domain.ErrIllegalTransition) {
		t.Errorf("applied job must not be dispatched again, got %v", err)
	}
}

func TestStore_FailedAttemptKeepsError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := beginAttempt(t, s, "job-1", domain.TriggerScheduled, t0)
	if _, err := s.CompleteAttempt(ctx, a.ID, "job-1", domain.OutcomeRateLimited, "429 Too Many Requests", t0); err != nil {
		t.Fatalf("CompleteAttempt: %v", err)
	}
	rec, _ := s.Get(ctx, "job-1")
	if rec.Status != domain.StatusFailed || rec.LastError != "429 Too Many Requests" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.SubmittedAt != nil {
		t.Errorf("SubmittedAt should stay unset on failure")
	}
}

func TestStore_GetMany(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	beginAttempt(t, s, "a", domain.TriggerScheduled, t0)
	beginAttempt(t, s, "b", domain.TriggerScheduled, t0)

	got, err := s.GetMany(ctx, []string{"a", "b", "missing"})
	if err != nil {
		t.Fatalf("GetMany: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 records, got %d", len(got))
	}
	if _, ok := got["missing"]; ok {
		t.Error("missing id should not be present")
	}

	empty, err := s.GetMany(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("empty input: %v %v", empty, err)
	}
}

func TestStore_UpdateStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := beginAttempt(t, s, "job-1", domain.TriggerScheduled, t0)
	s.CompleteAttempt(ctx, a.ID, "job-1", domain.OutcomeApplied, "", t0)

	if _, err := s.UpdateStatus(ctx, "job-1", domain.StatusInterviewing, t0.Add(time.Hour)); err != nil {
		t.Fatalf("applied -> interviewing: %v", err)
	}
	if _, err := s.UpdateStatus(ctx, "job-1", domain.StatusApplied, t0.Add(2*time.Hour)); !errors.Is(err, domain.ErrIllegalTransition) {
		t.Errorf("interviewing -> applied should be denied, got %v", err)
	}
	rec, _ := s.Get(ctx, "job-1")
	if rec.Status != domain.StatusInterviewing {
		t.Errorf("denied update must not change status, got %s", rec.Status)
	}
}

func TestStore_QuotaWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	beginAttempt(t, s, "old", domain.TriggerScheduled, t0.Add(-8*24*time.Hour))
	beginAttempt(t, s, "recent", domain.TriggerScheduled, t0.Add(-24*time.Hour))
	beginAttempt(t, s, "manual", domain.TriggerManual, t0.Add(-time.Minute))

	since := t0.Add(-7 * 24 * time.Hour)
	tests := []struct {
		name          string
		includeManual bool
		want          int
	}{
		{"manual counted", true, 2},
		{"manual excluded", false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := s.CountAttemptsSince(ctx, since, tt.includeManual)
			if err != nil {
				t.Fatalf("CountAttemptsSince: %v", err)
			}
			if n != tt.want {
				t.Errorf("got %d, want %d", n, tt.want)
			}
		})
	}
}

func TestStore_StaleRecovery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	beginAttempt(t, s, "stuck", domain.TriggerScheduled, t0)
	beginAttempt(t, s, "fresh", domain.TriggerScheduled, t0.Add(time.Hour))

	stale, err := s.ListStale(ctx, t0.Add(30*time.Minute), 10)
	if err != nil {
		t.Fatalf("ListStale: %v", err)
	}
	if len(stale) != 1 || stale[0].JobID != "stuck" {
		t.Fatalf("expected only stuck, got %+v", stale)
	}

	if err := s.RecoverStale(ctx, "stuck", t0.Add(2*time.Hour)); err != nil {
		t.Fatalf("RecoverStale: %v", err)
	}
	rec, _ := s.Get(ctx, "stuck")
	if rec.Status != domain.StatusFailed || rec.LastError != ledger.InterruptedError {
		t.Errorf("unexpected record: %+v", rec)
	}
	attempts, _ := s.ListAttempts(ctx, "stuck")
	if attempts[0].Outcome != domain.OutcomeInterrupted {
		t.Errorf("attempt outcome = %s", attempts[0].Outcome)
	}
}

func TestStore_Runs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := domain.DispatchRun{ID: uuid.New(), Trigger: domain.TriggerScheduled, StartedAt: t0, WindowTarget: 20}
	if err := s.InsertRun(ctx, run); err != nil {
		t.Fatalf("InsertRun: %v", err)
	}
	if err := s.InsertRun(ctx, run); !errors.Is(err, ErrDuplicateRun) {
		t.Errorf("expected ErrDuplicateRun, got %v", err)
	}

	run.Close(domain.BatchResult{Attempted: 3, Succeeded: 2, Failed: 1, RateLimited: true, Cancelled: true}, t0.Add(time.Minute))
	if err := s.FinishRun(ctx, run); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Attempted != 3 || got.Succeeded != 2 || !got.RateLimited || !got.Cancelled || got.QuotaExhausted {
		t.Errorf("run counters not stored: %+v", got)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("FinishedAt = %v", got.FinishedAt)
	}

	if err := s.FinishRun(ctx, domain.DispatchRun{ID: uuid.New()}); !errors.Is(err, domain.ErrRecordNotFound) {
		t.Errorf("finishing unknown run: %v", err)
	}
}

func TestStore_StatsMatchesMemory(t *testing.T) {
	s := newTestStore(t)
	mem := ledger.NewMemory()
	ctx := context.Background()

	for _, l := range []ledger.Ledger{s, mem} {
		for i, id := range []string{"a", "b", "c"} {
			a := domain.AttemptRecord{ID: uuid.New(), RunID: uuid.New(), Trigger: domain.TriggerScheduled, StartedAt: t0.Add(time.Duration(i) * time.Minute)}
			if _, err := l.BeginAttempt(ctx, domain.JobPosting{ID: id}, a); err != nil {
				t.Fatalf("BeginAttempt: %v", err)
			}
			if _, err := l.CompleteAttempt(ctx, a.ID, id, domain.OutcomeApplied, "", a.StartedAt); err != nil {
				t.Fatalf("CompleteAttempt: %v", err)
			}
		}
		if _, err := l.UpdateStatus(ctx, "a", domain.StatusAccepted, t0.Add(time.Hour)); err != nil {
			t.Fatalf("UpdateStatus: %v", err)
		}
	}

	want, _ := mem.Stats(ctx, t0)
	got, err := s.Stats(ctx, t0)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if got != want {
		t.Errorf("sql stats %+v != memory stats %+v", got, want)
	}
	if got.SuccessRate != 33.3 {
		t.Errorf("success rate = %v, want 33.3", got.SuccessRate)
	}
}

func TestStore_ListOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		beginAttempt(t, s, id, domain.TriggerScheduled, t0.Add(time.Duration(i)*time.Second))
	}

	recs, err := s.List(ctx, 2, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 2 || recs[0].JobID != "c" || recs[1].JobID != "b" {
		t.Errorf("unexpected order: %+v", recs)
	}
}

func TestRebind(t *testing.T) {
	q := "SELECT * FROM t WHERE a = $1 AND b IN ($2, $10)"
	if got := Postgres.rebind(q); got != q {
		t.Errorf("postgres rebind changed query: %s", got)
	}
	want := "SELECT * FROM t WHERE a = ?1 AND b IN (?2, ?10)"
	if got := SQLite.rebind(q); got != want {
		t.Errorf("sqlite rebind = %s, want %s", got, want)
	}
}

func TestIsDuplicateKeyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"pq unique violation", &pq.Error{Code: "23505"}, true},
		{"pq other", &pq.Error{Code: "23503"}, false},
		{"sqlite unique", errors.New("constraint failed: UNIQUE constraint failed: dispatch_runs.id (1555)"), true},
		{"other", errors.New("connection reset"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isDuplicateKeyError(tt.err); got != tt.want {
				t.Errorf("isDuplicateKeyError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestStore_OpTimeout(t *testing.T) {
	s := newTestStore(t).WithOpTimeout(time.Nanosecond)

	_, err := s.CountAttemptsSince(context.Background(), t0, true)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}

	s.WithOpTimeout(0)
	if _, err := s.CountAttemptsSince(context.Background(), t0, true); err != nil {
		t.Errorf("without timeout: %v", err)
	}
}
