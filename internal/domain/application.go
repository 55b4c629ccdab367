package domain

import (
	"time"

	"github.com/google/uuid"
)

type ApplicationStatus string

const (
	StatusPending      ApplicationStatus = "pending"
	StatusSubmitting   ApplicationStatus = "submitting"
	StatusApplied      ApplicationStatus = "applied"
	StatusInterviewing ApplicationStatus = "interviewing"
	StatusRejected     ApplicationStatus = "rejected"
	StatusAccepted     ApplicationStatus = "accepted"
	StatusFailed       ApplicationStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s ApplicationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSubmitting, StatusApplied, StatusInterviewing,
		StatusRejected, StatusAccepted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s ApplicationStatus) Terminal() bool {
	return s == StatusRejected || s == StatusAccepted
}

// TransitionSource identifies who asks for a status change.
type TransitionSource string

const (
	SourceDispatch   TransitionSource = "dispatch"
	SourceExternal   TransitionSource = "external"
	SourceReconciler TransitionSource = "reconciler"
)

// transitions maps source -> from -> allowed targets.
// A missing record is represented by StatusPending.
var transitions = map[TransitionSource]map[ApplicationStatus][]ApplicationStatus{
	SourceDispatch: {
		StatusPending:    {StatusSubmitting},
		StatusFailed:     {StatusSubmitting},
		StatusSubmitting: {StatusApplied, StatusFailed},
	},
	SourceExternal: {
		StatusApplied:      {StatusInterviewing, StatusRejected, StatusAccepted},
		StatusInterviewing: {StatusRejected, StatusAccepted},
	},
	SourceReconciler: {
		StatusSubmitting: {StatusFailed},
	},
}

// CanTransition returns ErrIllegalTransition unless source may move a record
// from one status to the other.
func CanTransition(source TransitionSource, from, to ApplicationStatus) error {
	for _, allowed := range transitions[source][from] {
		if allowed == to {
			return nil
		}
	}
	return &TransitionError{Source: source, From: from, To: to}
}

// ApplicationRecord is the ledger entry for one job. There is at most one
// record per JobID and records are never deleted.
type ApplicationRecord struct {
	JobID  string
	Status ApplicationStatus

	SubmittedAt   *time.Time
	Attempts      int
	LastError     string
	LastAttemptAt *time.Time

	// Denormalized from the posting for history views and tracker sync.
	Title   string
	Company string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Trigger says what started a batch.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

type AttemptOutcome string

const (
	OutcomeApplied     AttemptOutcome = "applied"
	OutcomeFailed      AttemptOutcome = "failed"
	OutcomeRateLimited AttemptOutcome = "rate_limited"
	OutcomeInterrupted AttemptOutcome = "interrupted"
)

// AttemptRecord is one submission attempt. The rolling quota is counted
// over these.
type AttemptRecord struct {
	ID      uuid.UUID
	JobID   string
	RunID   uuid.UUID
	Trigger Trigger

	Outcome AttemptOutcome
	Error   string

	StartedAt  time.Time
	FinishedAt *time.Time
}

// Stats is the dashboard summary derived from the ledger.
type Stats struct {
	TotalApplications  int     `json:"total_applications"`
	WindowApplications int     `json:"window_applications"`
	WindowQuota        int     `json:"window_quota"`
	SuccessRate        float64 `json:"success_rate"`
	Interviews         int     `json:"interviews"`
	Failed             int     `json:"failed"`
}
