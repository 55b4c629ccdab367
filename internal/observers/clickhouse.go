package observers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"go.uber.org/zap"

	"github.com/yoanipalmas/App-ApplyBot/internal/domain"
)

type ClickHouseOptions struct {
	DSN      string
	Database string
	Username string
	Password string
}

// OpenClickHouse opens a native-protocol connection and pings it.
func OpenClickHouse(ctx context.Context, opts ClickHouseOptions) (clickhouse.Conn, error) {
	host := strings.Split(opts.DSN, "?")[0]
	host = strings.TrimPrefix(host, "clickhouse://")

	conn, err := clickhouse.Open(&clickhouse.Options{
		Protocol: clickhouse.Native,
		Addr:     []string{host},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		DialTimeout:  10 * time.Second,
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	})
	if err != nil {
		return nil, fmt.Errorf("create clickhouse connection: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	return conn, nil
}

// Execer is the part of clickhouse.Conn the archive writes through.
type Execer interface {
	Exec(ctx context.Context, query string, args ...any) error
}

const createEventsTable = `
CREATE TABLE IF NOT EXISTS applybot_events (
    kind            LowCardinality(String),
    run_id          UUID,
    trigger         LowCardinality(String),
    job_id          String,
    title           String,
    company         String,
    outcome         LowCardinality(String),
    status          LowCardinality(String),
    error           String,
    attempted       UInt32,
    succeeded       UInt32,
    failed          UInt32,
    skipped         UInt32,
    rate_limited    UInt8,
    quota_exhausted UInt8,
    occurred_at     DateTime64(3, 'UTC')
) ENGINE = MergeTree()
ORDER BY (occurred_at, kind)`

const insertEvent = `
INSERT INTO applybot_events (
    kind, run_id, trigger, job_id, title, company, outcome, status, error,
    attempted, succeeded, failed, skipped, rate_limited, quota_exhausted, occurred_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// ClickHouseArchive appends every event to an analytical table.
type ClickHouseArchive struct {
	conn   Execer
	logger *zap.Logger
}

func NewClickHouseArchive(conn Execer, logger *zap.Logger) *ClickHouseArchive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClickHouseArchive{conn: conn, logger: logger}
}

// EnsureSchema creates the events table when missing.
func (a *ClickHouseArchive) EnsureSchema(ctx context.Context) error {
	if err := a.conn.Exec(ctx, createEventsTable); err != nil {
		return fmt.Errorf("create events table: %w", err)
	}
	a.logger.Info("clickhouse: events table ready")
	return nil
}

func (a *ClickHouseArchive) Name() string { return "clickhouse" }

func (a *ClickHouseArchive) Handle(ctx context.Context, event domain.Event) error {
	if err := a.conn.Exec(ctx, insertEvent, eventRow(event)...); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func eventRow(e domain.Event) []any {
	var r domain.BatchResult
	if e.Result != nil {
		r = *e.Result
	}
	return []any{
		string(e.Kind),
		e.RunID,
		string(e.Trigger),
		e.JobID,
		e.Title,
		e.Company,
		string(e.Outcome),
		string(e.Status),
		e.Error,
		uint32(r.Attempted),
		uint32(r.Succeeded),
		uint32(r.Failed),
		uint32(r.Skipped),
		boolToUInt8(r.RateLimited),
		boolToUInt8(r.QuotaExhausted),
		e.Timestamp.UTC(),
	}
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
