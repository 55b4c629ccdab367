package metrics

import "time"

// Sink records engine metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
type Sink interface {
	// Dispatch metrics
	BatchStarted(trigger string)
	BatchCompleted(trigger string, duration time.Duration, attempted, succeeded, failed, skipped int)
	BatchStopped(reason string)
	SubmissionCompleted(outcome string, duration time.Duration)
	QuotaRemaining(remaining int)
	AutomationActive(active bool)

	// EventBus metrics
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	EmitError()
	ObserverError(observer string)

	// Reconciler metrics
	StaleRecordsRecovered(count int)

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// Outcome labels for SubmissionCompleted.
const (
	OutcomeSuccess     = "success"
	OutcomeNetwork     = "network"
	OutcomeRejected    = "rejected"
	OutcomeRateLimited = "rate_limited"
	OutcomeLedgerError = "ledger_error"
)

// Reason labels for BatchStopped.
const (
	StopCancelled      = "cancelled"
	StopRateLimited    = "rate_limited"
	StopQuotaExhausted = "quota_exhausted"
)
