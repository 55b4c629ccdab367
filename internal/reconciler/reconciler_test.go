package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"github.com/yoanipalmas/App-ApplyBot/internal/domain"
	"github.com/yoanipalmas/App-ApplyBot/internal/ledger"
	"github.com/yoanipalmas/App-ApplyBot/internal/testutil"
)

type mockEmitter struct {
	mu     sync.Mutex
	events []domain.Event
}

func (e *mockEmitter) Emit(ctx context.Context, event domain.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

type mockMetrics struct {
	mu        sync.Mutex
	recovered int
}

func (m *mockMetrics) StaleRecordsRecovered(n int) {
	m.mu.Lock()
	m.recovered += n
	m.mu.Unlock()
}

type failingStore struct{}

func (failingStore) ListStale(context.Context, time.Time, int) ([]domain.ApplicationRecord, error) {
	return nil, errors.New("db down")
}

func (failingStore) RecoverStale(context.Context, string, time.Time) error { return nil }

func beginAt(t *testing.T, l *ledger.Memory, jobID string, at time.Time) {
	t.Helper()
	attempt := domain.AttemptRecord{ID: uuid.New(), JobID: jobID, Trigger: domain.TriggerScheduled, StartedAt: at}
	if _, err := l.BeginAttempt(context.Background(), domain.JobPosting{ID: jobID, Title: "Dev"}, attempt); err != nil {
		t.Fatalf("BeginAttempt: %v", err)
	}
}

func TestRunCycle_RecoversOnlyStale(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := testutil.NewFakeClock(now)
	l := ledger.NewMemory()
	beginAt(t, l, "stale", now.Add(-time.Hour))
	beginAt(t, l, "fresh", now.Add(-time.Minute))

	emitter := &mockEmitter{}
	metrics := &mockMetrics{}
	r := New(DefaultConfig(), l, zaptest.NewLogger(t)).WithEmitter(emitter).WithMetrics(metrics)
	r.clock = clock.Now

	if n := r.RunCycle(context.Background()); n != 1 {
		t.Fatalf("recovered = %d, want 1", n)
	}

	rec, _ := l.Get(context.Background(), "stale")
	if rec.Status != domain.StatusFailed || rec.LastError != ledger.InterruptedError {
		t.Errorf("stale record = %+v", rec)
	}
	rec, _ = l.Get(context.Background(), "fresh")
	if rec.Status != domain.StatusSubmitting {
		t.Errorf("fresh record should stay submitting, got %q", rec.Status)
	}

	attempts, _ := l.ListAttempts(context.Background(), "stale")
	if len(attempts) != 1 || attempts[0].Outcome != domain.OutcomeInterrupted || attempts[0].FinishedAt == nil {
		t.Errorf("attempt = %+v", attempts)
	}

	if len(emitter.events) != 1 || emitter.events[0].Kind != domain.EventStatusChanged || emitter.events[0].Status != domain.StatusFailed {
		t.Errorf("events = %+v", emitter.events)
	}
	if metrics.recovered != 1 {
		t.Errorf("metrics recovered = %d", metrics.recovered)
	}

	if n := r.RunCycle(context.Background()); n != 0 {
		t.Errorf("second cycle recovered %d", n)
	}
}

func TestRunCycle_BatchSize(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	l := ledger.NewMemory()
	for i, id := range []string{"a", "b", "c"} {
		beginAt(t, l, id, now.Add(-time.Duration(i+1)*time.Hour))
	}

	cfg := DefaultConfig()
	cfg.BatchSize = 2
	r := New(cfg, l, nil)
	r.clock = func() time.Time { return now }

	if n := r.RunCycle(context.Background()); n != 2 {
		t.Errorf("first cycle = %d, want 2", n)
	}
	if n := r.RunCycle(context.Background()); n != 1 {
		t.Errorf("second cycle = %d, want 1", n)
	}
}

func TestRunCycle_StoreError(t *testing.T) {
	metrics := &mockMetrics{}
	r := New(DefaultConfig(), failingStore{}, zaptest.NewLogger(t)).WithMetrics(metrics)
	if n := r.RunCycle(context.Background()); n != 0 {
		t.Errorf("recovered = %d", n)
	}
	if metrics.recovered != 0 {
		t.Error("no metrics on failure")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Interval = 10 * time.Millisecond
	r := New(cfg, ledger.NewMemory(), zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
