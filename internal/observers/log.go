// Package observers holds the event sinks the fan-out delivers to.
package observers

import (
	"context"

	"go.uber.org/zap"

	"github.com/yoanipalmas/App-ApplyBot/internal/domain"
)

// LogSink writes every event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Handle(_ context.Context, event domain.Event) error {
	fields := []zap.Field{
		zap.String("kind", string(event.Kind)),
		zap.String("run_id", event.RunID.String()),
	}
	if event.Trigger != "" {
		fields = append(fields, zap.String("trigger", string(event.Trigger)))
	}
	if event.JobID != "" {
		fields = append(fields, zap.String("job_id", event.JobID), zap.String("company", event.Company))
	}
	if event.Outcome != "" {
		fields = append(fields, zap.String("outcome", string(event.Outcome)))
	}
	if event.Status != "" {
		fields = append(fields, zap.String("status", string(event.Status)))
	}
	if event.Error != "" {
		fields = append(fields, zap.String("error", event.Error))
	}
	if r := event.Result; r != nil {
		fields = append(fields,
			zap.Int("attempted", r.Attempted),
			zap.Int("succeeded", r.Succeeded),
			zap.Int("failed", r.Failed),
			zap.Int("skipped", r.Skipped),
			zap.Bool("cancelled", r.Cancelled),
			zap.Bool("rate_limited", r.RateLimited),
			zap.Bool("quota_exhausted", r.QuotaExhausted),
		)
	}

	if event.Outcome == domain.OutcomeFailed || event.Outcome == domain.OutcomeRateLimited {
		s.logger.Warn("observer: event", fields...)
		return nil
	}
	s.logger.Info("observer: event", fields...)
	return nil
}
