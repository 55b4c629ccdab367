package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventJobProcessed  EventKind = "job_processed"
	EventBatchStarted  EventKind = "batch_started"
	EventBatchFinished EventKind = "batch_finished"
	EventStatusChanged EventKind = "status_changed"
)

// Event is emitted by the engine for observers. JobID, Outcome and Error are
// set for job events; Result is set on batch_finished.
type Event struct {
	Kind    EventKind `json:"kind"`
	RunID   uuid.UUID `json:"run_id"`
	Trigger Trigger   `json:"trigger,omitempty"`

	JobID   string            `json:"job_id,omitempty"`
	Title   string            `json:"title,omitempty"`
	Company string            `json:"company,omitempty"`
	Outcome AttemptOutcome    `json:"outcome,omitempty"`
	Status  ApplicationStatus `json:"status,omitempty"`
	Error   string            `json:"error,omitempty"`

	Result *BatchResult `json:"result,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}
