// Package dispatch selects eligible postings and submits them one at a time
// under a rolling quota, either on a recurring schedule or on demand.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/yoanipalmas/App-ApplyBot/internal/cron"
	"github.com/yoanipalmas/App-ApplyBot/internal/domain"
	"github.com/yoanipalmas/App-ApplyBot/internal/gateway"
	"github.com/yoanipalmas/App-ApplyBot/internal/telemetry"
)

// Ledger is the part of the application ledger the engine reads and writes.
type Ledger interface {
	Get(ctx context.Context, jobID string) (domain.ApplicationRecord, error)
	GetMany(ctx context.Context, jobIDs []string) (map[string]domain.ApplicationRecord, error)
	BeginAttempt(ctx context.Context, posting domain.JobPosting, attempt domain.AttemptRecord) (domain.ApplicationRecord, error)
	CompleteAttempt(ctx context.Context, attemptID uuid.UUID, jobID string, outcome domain.AttemptOutcome, errMsg string, at time.Time) (domain.ApplicationRecord, error)
	UpdateStatus(ctx context.Context, jobID string, to domain.ApplicationStatus, at time.Time) (domain.ApplicationRecord, error)
	CountAttemptsSince(ctx context.Context, since time.Time, includeManual bool) (int, error)
	InsertRun(ctx context.Context, run domain.DispatchRun) error
	FinishRun(ctx context.Context, run domain.DispatchRun) error
}

type Catalog interface {
	ListOpenings(ctx context.Context, keywords, location string) ([]domain.JobPosting, error)
}

type EventEmitter interface {
	Emit(ctx context.Context, event domain.Event) error
}

// MetricsSink defines the interface for recording dispatch metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	BatchStarted(trigger string)
	BatchCompleted(trigger string, duration time.Duration, attempted, succeeded, failed, skipped int)
	BatchStopped(reason string)
	SubmissionCompleted(outcome string, duration time.Duration)
	QuotaRemaining(remaining int)
	AutomationActive(active bool)
}

type State string

const (
	StateIdle         State = "idle"
	StateActive       State = "active"
	StateRunningBatch State = "running_batch"
)

type Engine struct {
	config   Config
	ledger   Ledger
	catalog  Catalog
	gateway  gateway.Submitter
	schedule cron.Schedule // nil when Schedule is empty

	emitter EventEmitter // optional, nil = disabled
	metrics MetricsSink  // optional, nil = disabled
	logger  *zap.Logger
	tracer  trace.Tracer
	clock   func() time.Time

	// runMu is held for the whole of a batch, catalog read included.
	runMu   sync.Mutex
	running atomic.Bool

	mu          sync.Mutex
	active      bool
	profile     domain.Profile
	loopCancel  context.CancelFunc
	loopDone    chan struct{}
	batchCancel context.CancelFunc
	batchDone   chan struct{}
	lastRunAt   *time.Time
	lastResult  *domain.BatchResult
	nextRunAt   *time.Time
}

// New validates config and builds an idle engine.
func New(config Config, ledger Ledger, catalog Catalog, submitter gateway.Submitter) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var schedule cron.Schedule
	if config.Schedule != "" {
		s, err := cron.NewParser().Parse(config.Schedule, config.Timezone)
		if err != nil {
			return nil, &domain.InvalidConfigError{Field: "Schedule", Message: err.Error()}
		}
		schedule = s
	}

	return &Engine{
		config:   config,
		ledger:   ledger,
		catalog:  catalog,
		gateway:  submitter,
		schedule: schedule,
		logger:   zap.NewNop(),
		tracer:   telemetry.GetTracer("applybot/dispatch"),
		clock:    time.Now,
	}, nil
}

// WithEmitter attaches the event bus.
func (e *Engine) WithEmitter(emitter EventEmitter) *Engine {
	e.emitter = emitter
	return e
}

// WithMetrics attaches a metrics sink to the engine.
func (e *Engine) WithMetrics(sink MetricsSink) *Engine {
	e.metrics = sink
	return e
}

func (e *Engine) WithLogger(logger *zap.Logger) *Engine {
	if logger != nil {
		e.logger = logger
	}
	return e
}

// WithClock replaces time.Now for quota windows and record timestamps.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

func (e *Engine) Config() Config {
	return e.config
}

// State reports RunningBatch whenever a batch holds the run lock, manual
// batches included.
func (e *Engine) State() State {
	if e.running.Load() {
		return StateRunningBatch
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active {
		return StateActive
	}
	return StateIdle
}

// UpdateStatus records an out-of-band status change such as an interview
// invitation and notifies observers.
func (e *Engine) UpdateStatus(ctx context.Context, jobID string, to domain.ApplicationStatus) (domain.ApplicationRecord, error) {
	if !to.Valid() {
		return domain.ApplicationRecord{}, &domain.TransitionError{Source: domain.SourceExternal, To: to}
	}
	now := e.clock()
	rec, err := e.ledger.UpdateStatus(ctx, jobID, to, now)
	if err != nil {
		return rec, err
	}

	e.logger.Info("dispatch: status updated",
		zap.String("job_id", jobID),
		zap.String("status", string(to)))
	e.emit(ctx, domain.Event{
		Kind:      domain.EventStatusChanged,
		JobID:     rec.JobID,
		Title:     rec.Title,
		Company:   rec.Company,
		Status:    rec.Status,
		Timestamp: now,
	})
	return rec, nil
}

func (e *Engine) emit(ctx context.Context, event domain.Event) {
	if e.emitter == nil {
		return
	}
	if err := e.emitter.Emit(ctx, event); err != nil {
		e.logger.Warn("dispatch: event dropped",
			zap.String("kind", string(event.Kind)),
			zap.String("job_id", event.JobID),
			zap.Error(err))
	}
}

func (e *Engine) windowStart(now time.Time) time.Time {
	return now.Add(-e.config.QuotaWindow)
}

// quotaCounted reports whether attempts of this trigger are limited by and
// counted against the quota.
func (e *Engine) quotaCounted(trigger domain.Trigger) bool {
	return trigger == domain.TriggerScheduled || e.config.ManualCountsAgainstQuota
}

// quotaUsed counts attempts in the window that the quota applies to.
func (e *Engine) quotaUsed(ctx context.Context, now time.Time) (int, error) {
	n, err := e.ledger.CountAttemptsSince(ctx, e.windowStart(now), e.config.ManualCountsAgainstQuota)
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return n, nil
}
