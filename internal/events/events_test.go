package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"github.com/yoanipalmas/App-ApplyBot/internal/domain"
)

type mockMetrics struct {
	mu             sync.Mutex
	capacity       int
	lastSize       int
	emitErrors     int
	observerErrors map[string]int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{observerErrors: make(map[string]int)}
}

func (m *mockMetrics) BufferSizeUpdate(size int) {
	m.mu.Lock()
	m.lastSize = size
	m.mu.Unlock()
}

func (m *mockMetrics) BufferCapacitySet(capacity int) {
	m.mu.Lock()
	m.capacity = capacity
	m.mu.Unlock()
}

func (m *mockMetrics) EmitError() {
	m.mu.Lock()
	m.emitErrors++
	m.mu.Unlock()
}

func (m *mockMetrics) ObserverError(observer string) {
	m.mu.Lock()
	m.observerErrors[observer]++
	m.mu.Unlock()
}

type recordingSink struct {
	name string
	err  error

	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) Handle(ctx context.Context, e domain.Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return r.err
}

func (r *recordingSink) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

func jobEvent(id string) domain.Event {
	return domain.Event{Kind: domain.EventJobProcessed, RunID: uuid.New(), JobID: id, Outcome: domain.OutcomeApplied, Timestamp: time.Now().UTC()}
}

func TestBus_EmitAndReceive(t *testing.T) {
	bus := NewBus(10)
	if err := bus.Emit(context.Background(), jobEvent("job-1")); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	select {
	case got := <-bus.Channel():
		if got.JobID != "job-1" {
			t.Errorf("JobID = %q", got.JobID)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestBus_BufferFullDoesNotBlock(t *testing.T) {
	m := newMockMetrics()
	bus := NewBus(1).WithMetrics(m)

	if err := bus.Emit(context.Background(), jobEvent("a")); err != nil {
		t.Fatalf("first emit: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- bus.Emit(context.Background(), jobEvent("b")) }()

	select {
	case err := <-done:
		if !errors.Is(err, ErrBufferFull) {
			t.Fatalf("expected ErrBufferFull, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full buffer")
	}

	if m.capacity != 1 || m.emitErrors != 1 {
		t.Errorf("metrics: capacity=%d emitErrors=%d", m.capacity, m.emitErrors)
	}
}

func TestBus_Close(t *testing.T) {
	bus := NewBus(2)
	bus.Emit(context.Background(), jobEvent("a"))
	bus.Close()
	bus.Close()

	if err := bus.Emit(context.Background(), jobEvent("b")); !errors.Is(err, ErrBusClosed) {
		t.Errorf("expected ErrBusClosed, got %v", err)
	}
	if ev, ok := <-bus.Channel(); !ok || ev.JobID != "a" {
		t.Errorf("buffered event should survive close: %v %v", ev, ok)
	}
	if _, ok := <-bus.Channel(); ok {
		t.Error("channel should be closed after draining")
	}
}

func TestFanout_DeliversToAllSinks(t *testing.T) {
	m := newMockMetrics()
	failing := &recordingSink{name: "failing", err: errors.New("down")}
	ok := &recordingSink{name: "ok"}
	f := NewFanout(zaptest.NewLogger(t), failing, ok).WithMetrics(m)

	f.Deliver(context.Background(), jobEvent("job-1"))

	if len(failing.Events()) != 1 || len(ok.Events()) != 1 {
		t.Fatalf("each sink should see the event once")
	}
	if m.observerErrors["failing"] != 1 {
		t.Errorf("observer error not counted: %v", m.observerErrors)
	}
}

func TestFanout_RunExitsOnClosedChannel(t *testing.T) {
	bus := NewBus(10)
	sink := &recordingSink{name: "rec"}
	f := NewFanout(zaptest.NewLogger(t), sink)

	for _, id := range []string{"a", "b", "c"} {
		bus.Emit(context.Background(), jobEvent(id))
	}
	bus.Close()

	done := make(chan struct{})
	go func() {
		f.Run(context.Background(), bus.Channel())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after channel close")
	}
	if got := sink.Events(); len(got) != 3 || got[0].JobID != "a" || got[2].JobID != "c" {
		t.Errorf("events out of order or missing: %+v", got)
	}
}

func TestFanout_DrainsAfterCancel(t *testing.T) {
	bus := NewBus(10)
	var mu sync.Mutex
	var seen []string
	sink := SinkFunc("func", func(ctx context.Context, e domain.Event) error {
		mu.Lock()
		seen = append(seen, e.JobID)
		mu.Unlock()
		return nil
	})
	f := NewFanout(zaptest.NewLogger(t), sink).WithDrainTimeout(time.Second)

	for _, id := range []string{"a", "b"} {
		bus.Emit(context.Background(), jobEvent(id))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.Run(ctx, bus.Channel())

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Errorf("expected buffered events drained, got %v", seen)
	}
}
