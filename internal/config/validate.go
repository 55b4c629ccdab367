package config

import (
	"fmt"
	"time"

	"github.com/yoanipalmas/App-ApplyBot/internal/cron"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

type validator struct {
	errs ValidationErrors
}

func (v *validator) add(field, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// duration checks a duration string. allowZero admits "0s".
func (v *validator) duration(field, raw string, allowZero bool) {
	if raw == "" {
		return
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		v.add(field, "invalid duration: %v", err)
	case d < 0:
		v.add(field, "must not be negative")
	case d == 0 && !allowZero:
		v.add(field, "must be positive")
	}
}

func (v *validator) oneOf(field, value string, allowed ...string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.add(field, "must be one of %q, got %q", allowed, value)
}

func (v *validator) required(field, value, reason string) {
	if value == "" {
		v.add(field, "required %s", reason)
	}
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	v := &validator{}

	v.oneOf("LEDGER_DRIVER", cfg.LedgerDriver, "memory", "postgres", "sqlite")
	if cfg.LedgerDriver == "postgres" {
		v.required("DATABASE_URL", cfg.DatabaseURL, "when LEDGER_DRIVER=postgres")
	}
	if cfg.LedgerDriver == "sqlite" {
		v.required("SQLITE_PATH", cfg.SQLitePath, "when LEDGER_DRIVER=sqlite")
	}
	if cfg.LeaderElection {
		v.required("DATABASE_URL", cfg.DatabaseURL, "when LEADER_ELECTION=true")
	}

	if cfg.WeeklyQuota <= 0 {
		v.add("WEEKLY_QUOTA", "must be positive")
	}
	if cfg.BatchSize <= 0 {
		v.add("BATCH_SIZE", "must be positive")
	}
	if cfg.MaxAttempts <= 0 {
		v.add("MAX_ATTEMPTS", "must be positive")
	}
	v.duration("SUBMISSION_DELAY", cfg.SubmissionDelayStr, true)
	v.duration("RETRY_BACKOFF", cfg.RetryBackoffStr, true)
	v.duration("SUBMISSION_TIMEOUT", cfg.SubmissionTimeoutStr, false)
	v.duration("DB_OP_TIMEOUT", cfg.DBOpTimeoutStr, false)
	v.duration("DB_CONN_MAX_LIFETIME", cfg.DBConnMaxLifetimeStr, true)
	v.duration("DB_CONN_MAX_IDLE_TIME", cfg.DBConnMaxIdleTimeStr, true)
	v.duration("CIRCUIT_BREAKER_COOLDOWN", cfg.CircuitBreakerCooldownStr, false)
	v.duration("RECONCILE_INTERVAL", cfg.ReconcileIntervalStr, false)
	v.duration("RECONCILE_THRESHOLD", cfg.ReconcileThresholdStr, false)
	v.duration("LEADER_RETRY_INTERVAL", cfg.LeaderRetryIntervalStr, false)
	v.duration("LEADER_HEARTBEAT_INTERVAL", cfg.LeaderHeartbeatIntervalStr, false)
	v.duration("HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr, false)
	v.duration("EVENTS_DRAIN_TIMEOUT", cfg.EventsDrainTimeoutStr, false)

	if cfg.ReconcileEnabled && cfg.ReconcileThreshold > 0 && cfg.ReconcileThreshold <= cfg.SubmissionTimeout {
		v.add("RECONCILE_THRESHOLD", "must exceed SUBMISSION_TIMEOUT (%s)", cfg.SubmissionTimeoutStr)
	}

	if cfg.AutomationSchedule == "" {
		v.add("AUTOMATION_SCHEDULE", "required")
	} else if _, err := cron.NewParser().Parse(cfg.AutomationSchedule, cfg.AutomationTimezone); err != nil {
		v.add("AUTOMATION_SCHEDULE", "%v", err)
	}

	v.oneOf("CATALOG_MODE", cfg.CatalogMode, "static", "http", "nats")
	switch cfg.CatalogMode {
	case "http":
		v.required("CATALOG_URL", cfg.CatalogURL, "when CATALOG_MODE=http")
	case "nats":
		v.required("NATS_URL", cfg.NATSURL, "when CATALOG_MODE=nats")
	}

	v.oneOf("GATEWAY_MODE", cfg.GatewayMode, "dryrun", "http")
	if cfg.GatewayMode == "http" {
		v.required("GATEWAY_URL", cfg.GatewayURL, "when GATEWAY_MODE=http")
	}

	if cfg.NotionToken != "" {
		v.required("NOTION_DB_ID", cfg.NotionDBID, "when NOTION_TOKEN is set")
	}

	v.oneOf("LOG_LEVEL", cfg.LogLevel, "debug", "info", "warn", "error")
	v.oneOf("LOG_FORMAT", cfg.LogFormat, "json", "console")

	if len(v.errs) > 0 {
		return v.errs
	}
	return nil
}
