package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/yoanipalmas/App-ApplyBot/internal/domain"
	"github.com/yoanipalmas/App-ApplyBot/internal/gateway"
	"github.com/yoanipalmas/App-ApplyBot/internal/metrics"
	"github.com/yoanipalmas/App-ApplyBot/internal/telemetry"
)

// RunBatch submits candidates in order. It returns ErrMissingCredential
// without a résumé and ErrBatchInProgress when another batch holds the lock.
func (e *Engine) RunBatch(ctx context.Context, profile domain.Profile, candidates []domain.JobPosting, trigger domain.Trigger) (domain.BatchResult, error) {
	if err := profile.Validate(); err != nil {
		return domain.BatchResult{}, err
	}
	if !e.runMu.TryLock() {
		return domain.BatchResult{}, domain.ErrBatchInProgress
	}
	defer e.runMu.Unlock()

	return e.runLocked(ctx, profile, candidates, trigger)
}

// runLocked executes one batch. The caller holds runMu.
func (e *Engine) runLocked(ctx context.Context, profile domain.Profile, candidates []domain.JobPosting, trigger domain.Trigger) (domain.BatchResult, error) {
	e.running.Store(true)

	ctx, span := e.tracer.Start(ctx, "dispatch.RunBatch")
	defer span.End()

	// Stop cancels batchCtx; ledger writes and the in-flight submission use
	// writeCtx so an accepted application is always recorded.
	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	writeCtx := context.WithoutCancel(ctx)

	done := make(chan struct{})
	e.mu.Lock()
	e.batchCancel = cancel
	e.batchDone = done
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.batchCancel = nil
		e.batchDone = nil
		e.mu.Unlock()
		e.running.Store(false)
		close(done)
	}()

	start := e.clock()
	run := domain.DispatchRun{
		ID:           uuid.New(),
		Trigger:      trigger,
		StartedAt:    start,
		WindowTarget: e.config.WeeklyQuota,
	}
	span.SetAttributes(
		telemetry.String("run_id", run.ID.String()),
		telemetry.String("trigger", string(trigger)),
		telemetry.Int("candidates", len(candidates)),
	)

	if err := e.ledger.InsertRun(writeCtx, run); err != nil {
		e.logger.Error("dispatch: record run failed", zap.String("run_id", run.ID.String()), zap.Error(err))
	}
	if e.metrics != nil {
		e.metrics.BatchStarted(string(trigger))
	}
	e.emit(writeCtx, domain.Event{Kind: domain.EventBatchStarted, RunID: run.ID, Trigger: trigger, Timestamp: start})
	e.logger.Info("dispatch: batch started",
		zap.String("run_id", run.ID.String()),
		zap.String("trigger", string(trigger)),
		zap.Int("candidates", len(candidates)))

	result := domain.BatchResult{RunID: run.ID}
	counted := e.quotaCounted(trigger)
	remaining := len(candidates)
	var runErr error
	if counted {
		used, err := e.quotaUsed(writeCtx, start)
		if err != nil {
			runErr = err
			remaining = 0
		} else {
			remaining = max(e.config.WeeklyQuota-used, 0)
		}
	}

	submitted := false
	policy := e.config.retryPolicy()
	// A job is submitted at most once per batch, whatever its record says.
	seen := make(map[string]struct{}, len(candidates))

	for _, posting := range candidates {
		if runErr != nil {
			break
		}
		if _, dup := seen[posting.ID]; dup {
			result.Skipped++
			continue
		}
		if submitted && e.config.SubmissionDelay > 0 {
			if !sleep(batchCtx, e.config.SubmissionDelay) {
				result.Cancelled = true
				break
			}
		}
		if batchCtx.Err() != nil {
			result.Cancelled = true
			break
		}
		if counted && remaining <= 0 {
			result.QuotaExhausted = true
			break
		}

		rec, err := e.ledger.Get(writeCtx, posting.ID)
		found := err == nil
		if err != nil && !errors.Is(err, domain.ErrRecordNotFound) {
			e.logger.Warn("dispatch: read record failed, skipping",
				zap.String("job_id", posting.ID), zap.Error(err))
			result.Skipped++
			continue
		}
		if !policy.eligible(rec, found, e.clock()) {
			result.Skipped++
			continue
		}

		seen[posting.ID] = struct{}{}
		outcome, began := e.submitOne(writeCtx, run, profile, posting, trigger)
		if !began {
			result.Skipped++
			continue
		}
		submitted = true
		remaining--

		switch outcome {
		case domain.OutcomeApplied:
			result.Succeeded++
		case domain.OutcomeRateLimited:
			result.Failed++
			result.RateLimited = true
			result.Cancelled = true
		default:
			result.Failed++
		}
		result.Attempted = result.Succeeded + result.Failed

		if result.RateLimited {
			break
		}
	}

	finished := e.clock()
	run.Close(result, finished)
	if err := e.ledger.FinishRun(writeCtx, run); err != nil {
		e.logger.Error("dispatch: close run failed", zap.String("run_id", run.ID.String()), zap.Error(err))
	}

	e.recordBatchMetrics(trigger, finished.Sub(start), result, counted, remaining)
	e.emit(writeCtx, domain.Event{Kind: domain.EventBatchFinished, RunID: run.ID, Trigger: trigger, Result: &result, Timestamp: finished})

	e.mu.Lock()
	e.lastRunAt = &finished
	last := result
	e.lastResult = &last
	e.mu.Unlock()

	span.SetAttributes(
		telemetry.Int("attempted", result.Attempted),
		telemetry.Int("succeeded", result.Succeeded),
		telemetry.Int("failed", result.Failed),
		telemetry.Bool("rate_limited", result.RateLimited),
	)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	}

	e.logger.Info("dispatch: batch finished",
		zap.String("run_id", run.ID.String()),
		zap.String("trigger", string(trigger)),
		zap.Int("attempted", result.Attempted),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
		zap.Bool("cancelled", result.Cancelled),
		zap.Bool("rate_limited", result.RateLimited),
		zap.Bool("quota_exhausted", result.QuotaExhausted))

	return result, runErr
}

// submitOne records the attempt, calls the gateway and records the outcome.
// began is false when the ledger refused to start the attempt.
func (e *Engine) submitOne(ctx context.Context, run domain.DispatchRun, profile domain.Profile, posting domain.JobPosting, trigger domain.Trigger) (outcome domain.AttemptOutcome, began bool) {
	ctx, span := e.tracer.Start(ctx, "dispatch.Submit")
	defer span.End()
	span.SetAttributes(telemetry.String("job_id", posting.ID))

	attempt := domain.AttemptRecord{
		ID:        uuid.New(),
		JobID:     posting.ID,
		RunID:     run.ID,
		Trigger:   trigger,
		StartedAt: e.clock(),
	}
	if _, err := e.ledger.BeginAttempt(ctx, posting, attempt); err != nil {
		e.logger.Warn("dispatch: begin attempt failed",
			zap.String("job_id", posting.ID), zap.Error(err))
		span.RecordError(err)
		return "", false
	}

	subCtx, cancel := context.WithTimeout(ctx, e.config.SubmissionTimeout)
	start := time.Now()
	err := e.gateway.Submit(subCtx, gateway.Submission{
		JobID:       posting.ID,
		JobURL:      posting.URL,
		AttemptID:   attempt.ID,
		ResumeRef:   profile.ResumeRef,
		CoverLetter: profile.CoverLetter,
	})
	cancel()
	elapsed := time.Since(start)

	outcome, label := classify(err)
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
		span.RecordError(err)
		fields := []zap.Field{zap.String("job_id", posting.ID), zap.String("kind", label), zap.Error(err)}
		var gerr *gateway.Error
		if errors.As(err, &gerr) && gerr.Kind == gateway.KindNetwork {
			fields = append(fields, zap.String("stack", gerr.Stack()))
		}
		e.logger.Warn("dispatch: submission failed", fields...)
	}

	rec, cerr := e.ledger.CompleteAttempt(ctx, attempt.ID, posting.ID, outcome, errMsg, e.clock())
	if cerr != nil {
		e.logger.Error("dispatch: record outcome failed",
			zap.String("job_id", posting.ID),
			zap.String("outcome", string(outcome)),
			zap.Error(cerr))
		span.RecordError(cerr)
		label = metrics.OutcomeLedgerError
		if outcome == domain.OutcomeApplied {
			outcome = domain.OutcomeFailed
			errMsg = cerr.Error()
		}
		rec.Status = ""
	}

	if e.metrics != nil {
		e.metrics.SubmissionCompleted(label, elapsed)
	}
	span.SetAttributes(telemetry.String("outcome", string(outcome)))

	e.emit(ctx, domain.Event{
		Kind:      domain.EventJobProcessed,
		RunID:     run.ID,
		Trigger:   trigger,
		JobID:     posting.ID,
		Title:     posting.Title,
		Company:   posting.Company,
		Outcome:   outcome,
		Status:    rec.Status,
		Error:     errMsg,
		Timestamp: e.clock(),
	})
	return outcome, true
}

// classify maps a gateway result to the attempt outcome and metrics label.
func classify(err error) (domain.AttemptOutcome, string) {
	if err == nil {
		return domain.OutcomeApplied, metrics.OutcomeSuccess
	}
	switch gateway.KindOf(err) {
	case gateway.KindRateLimited:
		return domain.OutcomeRateLimited, metrics.OutcomeRateLimited
	case gateway.KindRejected:
		return domain.OutcomeFailed, metrics.OutcomeRejected
	default:
		return domain.OutcomeFailed, metrics.OutcomeNetwork
	}
}

func (e *Engine) recordBatchMetrics(trigger domain.Trigger, d time.Duration, r domain.BatchResult, counted bool, remaining int) {
	if e.metrics == nil {
		return
	}
	e.metrics.BatchCompleted(string(trigger), d, r.Attempted, r.Succeeded, r.Failed, r.Skipped)
	switch {
	case r.RateLimited:
		e.metrics.BatchStopped(metrics.StopRateLimited)
	case r.QuotaExhausted:
		e.metrics.BatchStopped(metrics.StopQuotaExhausted)
	case r.Cancelled:
		e.metrics.BatchStopped(metrics.StopCancelled)
	}
	if counted {
		e.metrics.QuotaRemaining(remaining)
	}
}

// sleep waits d or until ctx ends. It reports whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
