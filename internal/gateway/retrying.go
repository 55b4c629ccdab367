package gateway

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Retrying retries network errors within one attempt. Rejections and rate
// limits are returned at once, as is an open circuit.
type Retrying struct {
	next    Submitter
	retries int
	backoff time.Duration
	logger  *zap.Logger
}

func NewRetrying(next Submitter, retries int, backoff time.Duration, logger *zap.Logger) *Retrying {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrying{next: next, retries: retries, backoff: backoff, logger: logger}
}

func (r *Retrying) Submit(ctx context.Context, s Submission) error {
	var err error
	for try := 0; ; try++ {
		err = r.next.Submit(ctx, s)
		if err == nil || KindOf(err) != KindNetwork || IsCircuitOpen(err) || try >= r.retries {
			return err
		}

		wait := r.backoff << try
		r.logger.Warn("gateway: retrying submission",
			zap.String("job_id", s.JobID),
			zap.Int("try", try+1),
			zap.Duration("backoff", wait),
			zap.Error(err))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}
