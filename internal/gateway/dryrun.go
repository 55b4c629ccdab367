package gateway

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// DryRun accepts every submission without sending anything.
type DryRun struct {
	logger *zap.Logger

	mu   sync.Mutex
	sent []Submission
}

func NewDryRun(logger *zap.Logger) *DryRun {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DryRun{logger: logger}
}

func (d *DryRun) Submit(ctx context.Context, s Submission) error {
	if err := ctx.Err(); err != nil {
		return NetworkError(err)
	}
	d.mu.Lock()
	d.sent = append(d.sent, s)
	d.mu.Unlock()

	d.logger.Info("gateway: dry-run submission",
		zap.String("job_id", s.JobID),
		zap.String("attempt_id", s.AttemptID.String()))
	return nil
}

// Submitted returns the submissions seen so far.
func (d *DryRun) Submitted() []Submission {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Submission(nil), d.sent...)
}
