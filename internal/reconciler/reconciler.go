// Package reconciler recovers applications left in submitting.
//
// A record is stale when it has been submitting for longer than any
// submission can take, which only happens when the process died between
// starting an attempt and recording its outcome. The reconciler moves such
// records to failed so the normal retry policy can pick them up again.
package reconciler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/yoanipalmas/App-ApplyBot/internal/domain"
	"github.com/yoanipalmas/App-ApplyBot/internal/ledger"
)

// Store defines the ledger operations the reconciler needs.
type Store interface {
	ListStale(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.ApplicationRecord, error)
	RecoverStale(ctx context.Context, jobID string, at time.Time) error
}

type EventEmitter interface {
	Emit(ctx context.Context, event domain.Event) error
}

type MetricsSink interface {
	StaleRecordsRecovered(count int)
}

// Config holds reconciler configuration.
type Config struct {
	// Interval is how often the reconciler runs.
	// Default: 5 minutes.
	Interval time.Duration

	// Threshold is how long a record may stay submitting before it is
	// considered stale. It must exceed the submission timeout.
	// Default: 15 minutes.
	Threshold time.Duration

	// BatchSize is the maximum number of records recovered per cycle.
	// Default: 100.
	BatchSize int
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Minute,
		Threshold: 15 * time.Minute,
		BatchSize: 100,
	}
}

type Reconciler struct {
	config  Config
	store   Store
	emitter EventEmitter // optional
	metrics MetricsSink  // optional
	logger  *zap.Logger
	clock   func() time.Time
}

func New(config Config, store Store, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		config: config,
		store:  store,
		logger: logger,
		clock:  time.Now,
	}
}

// WithEmitter publishes a status_changed event per recovered record.
func (r *Reconciler) WithEmitter(e EventEmitter) *Reconciler {
	r.emitter = e
	return r
}

func (r *Reconciler) WithMetrics(m MetricsSink) *Reconciler {
	r.metrics = m
	return r
}

// Run starts the reconciliation loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.logger.Info("reconciler: started",
		zap.Duration("interval", r.config.Interval),
		zap.Duration("threshold", r.config.Threshold),
		zap.Int("batch", r.config.BatchSize))

	// Run immediately on startup, then on ticker
	r.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler: stopped")
			return
		case <-ticker.C:
			r.RunCycle(ctx)
		}
	}
}

// RunCycle executes one reconciliation pass and returns how many records
// were recovered.
func (r *Reconciler) RunCycle(ctx context.Context) int {
	now := r.clock().UTC()
	threshold := now.Add(-r.config.Threshold)

	stale, err := r.store.ListStale(ctx, threshold, r.config.BatchSize)
	if err != nil {
		// Will retry next interval.
		r.logger.Error("reconciler: failed to list stale records", zap.Error(err))
		return 0
	}
	if len(stale) == 0 {
		return 0
	}

	r.logger.Info("reconciler: found stale records", zap.Int("count", len(stale)))

	recovered := 0
	failed := 0
	for _, rec := range stale {
		if ctx.Err() != nil {
			r.logger.Info("reconciler: cycle interrupted",
				zap.Int("processed", recovered+failed),
				zap.Int("total", len(stale)))
			break
		}

		if err := r.store.RecoverStale(ctx, rec.JobID, now); err != nil {
			// Most likely the batch finished the attempt in the meantime.
			r.logger.Warn("reconciler: recover failed",
				zap.String("job_id", rec.JobID), zap.Error(err))
			failed++
			continue
		}

		var age time.Duration
		if rec.LastAttemptAt != nil {
			age = now.Sub(*rec.LastAttemptAt).Round(time.Second)
		}
		r.logger.Info("reconciler: recovered stale record",
			zap.String("job_id", rec.JobID),
			zap.Duration("age", age))
		recovered++

		if r.emitter != nil {
			event := domain.Event{
				Kind:      domain.EventStatusChanged,
				JobID:     rec.JobID,
				Title:     rec.Title,
				Company:   rec.Company,
				Status:    domain.StatusFailed,
				Error:     ledger.InterruptedError,
				Timestamp: now,
			}
			if err := r.emitter.Emit(ctx, event); err != nil {
				r.logger.Warn("reconciler: event dropped", zap.String("job_id", rec.JobID), zap.Error(err))
			}
		}
	}

	if r.metrics != nil && recovered > 0 {
		r.metrics.StaleRecordsRecovered(recovered)
	}
	r.logger.Info("reconciler: cycle complete", zap.Int("recovered", recovered), zap.Int("failed", failed))
	return recovered
}
