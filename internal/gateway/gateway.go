// Package gateway submits applications to the target and classifies the
// result into the three kinds the engine acts on.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	goerrors "github.com/go-errors/errors"
	"github.com/google/uuid"
)

// Submission is everything the target receives for one attempt.
type Submission struct {
	JobID       string
	JobURL      string
	AttemptID   uuid.UUID
	ResumeRef   string
	CoverLetter string
}

// Submitter sends one application. A nil error means the target accepted it.
// Failures are *Error values.
type Submitter interface {
	Submit(ctx context.Context, s Submission) error
}

type Kind string

const (
	// KindNetwork covers transport failures, timeouts and 5xx responses.
	KindNetwork Kind = "network"
	// KindRejected is a 4xx other than 429: the target refused this job.
	KindRejected Kind = "rejected"
	// KindRateLimited means the target asked us to slow down.
	KindRateLimited Kind = "rate_limited"
)

var (
	ErrNetwork     = errors.New("gateway: network error")
	ErrRejected    = errors.New("gateway: rejected by target")
	ErrRateLimited = errors.New("gateway: rate limited by target")
)

// Error is a classified submission failure. It matches the sentinel of its
// kind with errors.Is.
type Error struct {
	Kind       Kind
	StatusCode int
	RetryAfter time.Duration
	Err        error

	stack *goerrors.Error
}

func newError(kind Kind, status int, err error) *Error {
	return &Error{
		Kind:       kind,
		StatusCode: status,
		Err:        err,
		stack:      goerrors.Wrap(err, 2),
	}
}

// NetworkError builds a KindNetwork error.
func NetworkError(err error) *Error { return newError(KindNetwork, 0, err) }

// RejectedError builds a KindRejected error for an HTTP status.
func RejectedError(status int, err error) *Error { return newError(KindRejected, status, err) }

// RateLimitedError builds a KindRateLimited error.
func RateLimitedError(retryAfter time.Duration, err error) *Error {
	e := newError(KindRateLimited, 429, err)
	e.RetryAfter = retryAfter
	return e
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (HTTP %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return e.Kind == KindNetwork
	case ErrRejected:
		return e.Kind == KindRejected
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	}
	return false
}

// Stack returns the stack captured where the error was classified.
func (e *Error) Stack() string {
	if e.stack == nil {
		return ""
	}
	return string(e.stack.Stack())
}

// KindOf classifies any error returned by a Submitter. Unclassified errors
// count as network errors.
func KindOf(err error) Kind {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return KindNetwork
}
