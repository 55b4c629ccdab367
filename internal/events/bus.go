// Package events carries engine events to observers. Emitting never blocks
// the dispatch path: a full buffer drops the event and reports ErrBufferFull.
package events

import (
	"context"
	"errors"
	"sync"

	"github.com/yoanipalmas/App-ApplyBot/internal/domain"
)

var (
	ErrBufferFull = errors.New("events: buffer full")
	ErrBusClosed  = errors.New("events: bus closed")
)

// MetricsSink is the subset of metrics.Sink the bus and fan-out report to.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	EmitError()
	ObserverError(observer string)
}

type Bus struct {
	ch      chan domain.Event
	metrics MetricsSink

	mu     sync.RWMutex
	closed bool
}

func NewBus(buffer int) *Bus {
	return &Bus{ch: make(chan domain.Event, buffer)}
}

// WithMetrics attaches a metrics sink to the bus.
func (b *Bus) WithMetrics(m MetricsSink) *Bus {
	b.metrics = m
	if m != nil {
		m.BufferCapacitySet(cap(b.ch))
	}
	return b
}

// Emit enqueues the event without waiting.
func (b *Bus) Emit(ctx context.Context, event domain.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	select {
	case b.ch <- event:
		if b.metrics != nil {
			b.metrics.BufferSizeUpdate(len(b.ch))
		}
		return nil
	default:
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ErrBufferFull
	}
}

// Channel is consumed by Fanout.Run.
func (b *Bus) Channel() <-chan domain.Event {
	return b.ch
}

// Close stops accepting events. Buffered events stay readable and the
// channel is closed so the consumer drains and exits.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}
