package domain

import (
	"errors"
	"fmt"
)

var (
	ErrMissingCredential = errors.New("resume is required before applying")
	ErrBatchInProgress   = errors.New("a dispatch batch is already in progress")
	ErrAlreadyActive     = errors.New("automation is already active")
	ErrQuotaExhausted    = errors.New("weekly application quota exhausted")
	ErrUnknownJob        = errors.New("job not found in catalog")
	ErrNotEligible       = errors.New("job is not eligible for submission")
	ErrRecordNotFound    = errors.New("application record not found")
	ErrIllegalTransition = errors.New("illegal status transition")
)

// InvalidConfigError is returned when an engine is constructed with a
// configuration it cannot run with.
type InvalidConfigError struct {
	Field   string
	Message string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Message)
}

// TransitionError describes a rejected status change. It matches
// ErrIllegalTransition with errors.Is.
type TransitionError struct {
	Source TransitionSource
	From   ApplicationStatus
	To     ApplicationStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s cannot move %s -> %s", ErrIllegalTransition, e.Source, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}
