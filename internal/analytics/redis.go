// Package analytics keeps daily outcome counters in Redis.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yoanipalmas/App-ApplyBot/internal/domain"
)

// DefaultRetention keeps a counter for roughly a quarter.
const DefaultRetention = 90 * 24 * time.Hour

// RedisSink counts job outcomes and finished batches per UTC day.
type RedisSink struct {
	client    redis.Cmdable
	prefix    string
	retention time.Duration
}

func NewRedisSink(client redis.Cmdable) *RedisSink {
	return &RedisSink{client: client, prefix: "applybot", retention: DefaultRetention}
}

// WithRetention sets the TTL refreshed on every increment.
func (s *RedisSink) WithRetention(d time.Duration) *RedisSink {
	s.retention = d
	return s
}

func (s *RedisSink) Name() string { return "redis_analytics" }

// Handle implements events.Sink.
func (s *RedisSink) Handle(ctx context.Context, event domain.Event) error {
	key := s.keyFor(event)
	if key == "" {
		return nil
	}

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// DailyCounts reads the outcome counters for the day containing t.
func (s *RedisSink) DailyCounts(ctx context.Context, t time.Time) (map[domain.AttemptOutcome]int64, error) {
	outcomes := []domain.AttemptOutcome{domain.OutcomeApplied, domain.OutcomeFailed, domain.OutcomeRateLimited}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(outcomes))
	for i, o := range outcomes {
		cmds[i] = pipe.Get(ctx, buildKey(s.prefix, "outcome:"+string(o), t))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis pipeline: %w", err)
	}

	counts := make(map[domain.AttemptOutcome]int64, len(outcomes))
	for i, o := range outcomes {
		n, err := cmds[i].Int64()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", o, err)
		}
		counts[o] = n
	}
	return counts, nil
}

func (s *RedisSink) keyFor(event domain.Event) string {
	switch event.Kind {
	case domain.EventJobProcessed:
		if event.Outcome == "" {
			return ""
		}
		return buildKey(s.prefix, "outcome:"+string(event.Outcome), event.Timestamp)
	case domain.EventBatchFinished:
		return buildKey(s.prefix, "batches:"+string(event.Trigger), event.Timestamp)
	default:
		return ""
	}
}

func buildKey(prefix, counter string, t time.Time) string {
	return fmt.Sprintf("%s:%s:%s", prefix, counter, truncateToDay(t))
}

func truncateToDay(t time.Time) string {
	return t.UTC().Format("20060102")
}
