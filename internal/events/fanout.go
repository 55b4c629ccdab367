package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/yoanipalmas/App-ApplyBot/internal/domain"
)

// Sink is one observer. Errors are logged and counted; they never reach
// the engine.
type Sink interface {
	Name() string
	Handle(ctx context.Context, event domain.Event) error
}

type sinkFunc struct {
	name string
	fn   func(ctx context.Context, event domain.Event) error
}

// SinkFunc adapts a function into a Sink.
func SinkFunc(name string, fn func(ctx context.Context, event domain.Event) error) Sink {
	return sinkFunc{name: name, fn: fn}
}

func (s sinkFunc) Name() string { return s.name }

func (s sinkFunc) Handle(ctx context.Context, event domain.Event) error { return s.fn(ctx, event) }

// DefaultDrainTimeout bounds delivery of buffered events after shutdown.
const DefaultDrainTimeout = 30 * time.Second

// DefaultSinkTimeout bounds a single observer call.
const DefaultSinkTimeout = 10 * time.Second

// Fanout delivers each event to every sink in registration order.
type Fanout struct {
	sinks        []Sink
	logger       *zap.Logger
	metrics      MetricsSink
	drainTimeout time.Duration
	sinkTimeout  time.Duration
}

func NewFanout(logger *zap.Logger, sinks ...Sink) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{
		sinks:        sinks,
		logger:       logger,
		drainTimeout: DefaultDrainTimeout,
		sinkTimeout:  DefaultSinkTimeout,
	}
}

// WithMetrics attaches a metrics sink to the fan-out.
func (f *Fanout) WithMetrics(m MetricsSink) *Fanout {
	f.metrics = m
	return f
}

// WithDrainTimeout sets how long Run keeps delivering after ctx ends.
func (f *Fanout) WithDrainTimeout(d time.Duration) *Fanout {
	f.drainTimeout = d
	return f
}

// WithSinkTimeout bounds each observer call.
func (f *Fanout) WithSinkTimeout(d time.Duration) *Fanout {
	f.sinkTimeout = d
	return f
}

// Add registers another sink. Not safe once Run has started.
func (f *Fanout) Add(s Sink) {
	f.sinks = append(f.sinks, s)
}

// Run delivers events until ctx is cancelled or ch is closed, then drains
// what is still buffered.
func (f *Fanout) Run(ctx context.Context, ch <-chan domain.Event) {
	for {
		select {
		case <-ctx.Done():
			f.drain(ch)
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			f.Deliver(ctx, event)
			if f.metrics != nil {
				f.metrics.BufferSizeUpdate(len(ch))
			}
		}
	}
}

func (f *Fanout) drain(ch <-chan domain.Event) {
	drainCtx, cancel := context.WithTimeout(context.Background(), f.drainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			f.logger.Warn("events: drain timeout", zap.Int("delivered", count))
			return
		case event, ok := <-ch:
			if !ok {
				f.logger.Info("events: drain complete", zap.Int("delivered", count))
				return
			}
			f.Deliver(drainCtx, event)
			count++
		default:
			if count > 0 {
				f.logger.Info("events: drain complete", zap.Int("delivered", count))
			}
			return
		}
	}
}

// Deliver hands one event to every sink.
func (f *Fanout) Deliver(ctx context.Context, event domain.Event) {
	for _, s := range f.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, f.sinkTimeout)
		err := s.Handle(sinkCtx, event)
		cancel()
		if err != nil {
			f.logger.Warn("events: observer failed",
				zap.String("observer", s.Name()),
				zap.String("kind", string(event.Kind)),
				zap.String("job_id", event.JobID),
				zap.Error(err))
			if f.metrics != nil {
				f.metrics.ObserverError(s.Name())
			}
		}
	}
}
