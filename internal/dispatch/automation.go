package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yoanipalmas/App-ApplyBot/internal/domain"
)

// Status is a point-in-time view of the engine for the dashboard.
type Status struct {
	State          State               `json:"state"`
	LastRunAt      *time.Time          `json:"last_run_at,omitempty"`
	LastResult     *domain.BatchResult `json:"last_result,omitempty"`
	NextRunAt      *time.Time          `json:"next_run_at,omitempty"`
	WeeklyQuota    int                 `json:"weekly_quota"`
	QuotaUsed      int                 `json:"quota_used"`
	QuotaRemaining int                 `json:"quota_remaining"`
	WindowStart    time.Time           `json:"window_start"`
}

// Start snapshots profile and runs batches on the schedule until Stop.
func (e *Engine) Start(ctx context.Context, profile domain.Profile) error {
	if err := profile.Validate(); err != nil {
		return err
	}
	if e.schedule == nil {
		return &domain.InvalidConfigError{Field: "Schedule", Message: "required for automation"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active {
		return domain.ErrAlreadyActive
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.active = true
	e.profile = profile
	e.loopCancel = cancel
	e.loopDone = make(chan struct{})

	if e.metrics != nil {
		e.metrics.AutomationActive(true)
	}
	e.logger.Info("dispatch: automation started",
		zap.String("schedule", e.config.Schedule),
		zap.Bool("run_on_start", e.config.RunOnStart))

	go e.loop(loopCtx, profile, e.loopDone)
	return nil
}

// Stop returns to Idle. A running batch, scheduled or manual, finishes its
// in-flight submission and cancels the rest. No timer fires after Stop
// returns.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.batchCancel != nil {
		e.batchCancel()
	}
	batchDone := e.batchDone
	wasActive := e.active
	var loopDone chan struct{}
	if wasActive {
		e.active = false
		e.loopCancel()
		loopDone = e.loopDone
	}
	e.mu.Unlock()

	if loopDone != nil {
		<-loopDone
	}
	if batchDone != nil {
		<-batchDone
	}
	if !wasActive {
		return
	}

	// Start may have launched a new loop while this one was winding down.
	e.mu.Lock()
	replaced := e.loopDone != loopDone
	if !replaced {
		e.nextRunAt = nil
	}
	e.mu.Unlock()
	if replaced {
		return
	}

	if e.metrics != nil {
		e.metrics.AutomationActive(false)
	}
	e.logger.Info("dispatch: automation stopped")
}

func (e *Engine) loop(ctx context.Context, profile domain.Profile, done chan struct{}) {
	defer close(done)

	if e.config.RunOnStart {
		e.cycle(ctx, profile, domain.TriggerScheduled)
	}

	for {
		now := e.clock()
		next := e.schedule.Next(now)
		e.mu.Lock()
		e.nextRunAt = &next
		e.mu.Unlock()

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		e.cycle(ctx, profile, domain.TriggerScheduled)
	}
}

// cycle runs one scheduled batch. A batch already in progress (a manual
// one) makes this fire a no-op.
func (e *Engine) cycle(ctx context.Context, profile domain.Profile, trigger domain.Trigger) {
	if ctx.Err() != nil {
		return
	}
	_, err := e.runCycle(ctx, profile, trigger)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrBatchInProgress):
		e.logger.Info("dispatch: scheduled run skipped, batch in progress")
	default:
		e.logger.Error("dispatch: scheduled run failed", zap.Error(err))
	}
}

// runCycle discovers openings, selects candidates and runs them as one batch.
func (e *Engine) runCycle(ctx context.Context, profile domain.Profile, trigger domain.Trigger) (domain.BatchResult, error) {
	if err := profile.Validate(); err != nil {
		return domain.BatchResult{}, err
	}
	if !e.runMu.TryLock() {
		return domain.BatchResult{}, domain.ErrBatchInProgress
	}
	defer e.runMu.Unlock()

	postings, err := e.catalog.ListOpenings(ctx, profile.Keywords, profile.Location)
	if err != nil {
		e.logger.Error("dispatch: catalog unavailable", zap.Error(err))
		postings = nil
	}

	candidates, err := e.SelectCandidates(ctx, postings, e.config.BatchSize)
	if err != nil {
		e.logger.Error("dispatch: candidate selection failed", zap.Error(err))
		candidates = nil
	}

	return e.runLocked(ctx, profile, candidates, trigger)
}

// RunNow runs a manual batch with profile.
func (e *Engine) RunNow(ctx context.Context, profile domain.Profile) (domain.BatchResult, error) {
	return e.runCycle(ctx, profile, domain.TriggerManual)
}

// ApplyNow submits a single job from the catalog immediately.
func (e *Engine) ApplyNow(ctx context.Context, profile domain.Profile, jobID string) (domain.BatchResult, error) {
	if err := profile.Validate(); err != nil {
		return domain.BatchResult{}, err
	}
	if !e.runMu.TryLock() {
		return domain.BatchResult{}, domain.ErrBatchInProgress
	}
	defer e.runMu.Unlock()

	posting, err := e.lookup(ctx, jobID)
	if err != nil {
		return domain.BatchResult{}, err
	}

	now := e.clock()
	if e.quotaCounted(domain.TriggerManual) {
		used, err := e.quotaUsed(ctx, now)
		if err != nil {
			return domain.BatchResult{}, err
		}
		if used >= e.config.WeeklyQuota {
			return domain.BatchResult{}, domain.ErrQuotaExhausted
		}
	}

	rec, err := e.ledger.Get(ctx, jobID)
	found := err == nil
	if err != nil && !errors.Is(err, domain.ErrRecordNotFound) {
		return domain.BatchResult{}, fmt.Errorf("read record: %w", err)
	}
	if !e.config.retryPolicy().eligible(rec, found, now) {
		return domain.BatchResult{}, domain.ErrNotEligible
	}

	return e.runLocked(ctx, profile, []domain.JobPosting{posting}, domain.TriggerManual)
}

func (e *Engine) lookup(ctx context.Context, jobID string) (domain.JobPosting, error) {
	postings, err := e.catalog.ListOpenings(ctx, "", "")
	if err != nil {
		return domain.JobPosting{}, fmt.Errorf("list openings: %w", err)
	}
	for _, p := range postings {
		if p.ID == jobID {
			return p, nil
		}
	}
	return domain.JobPosting{}, domain.ErrUnknownJob
}

// Profile returns the snapshot the active automation runs with.
func (e *Engine) Profile() (domain.Profile, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.profile, e.active
}

func (e *Engine) Status(ctx context.Context) (Status, error) {
	now := e.clock()
	st := Status{
		State:       e.State(),
		WeeklyQuota: e.config.WeeklyQuota,
		WindowStart: e.windowStart(now),
	}

	e.mu.Lock()
	st.LastRunAt = e.lastRunAt
	if e.lastResult != nil {
		r := *e.lastResult
		st.LastResult = &r
	}
	st.NextRunAt = e.nextRunAt
	e.mu.Unlock()

	used, err := e.quotaUsed(ctx, now)
	if err != nil {
		return st, err
	}
	st.QuotaUsed = used
	st.QuotaRemaining = max(e.config.WeeklyQuota-used, 0)
	return st, nil
}
