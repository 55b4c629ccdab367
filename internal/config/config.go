// Package config loads applybot settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for applybot.
// Values are loaded from environment variables; see printUsage() in
// cmd/applybot for the full list.
type Config struct {
	HTTPAddr string `json:"http_addr"`

	// LedgerDriver: "memory", "postgres" or "sqlite".
	LedgerDriver string `json:"ledger_driver"`
	DatabaseURL  string `json:"database_url,omitempty"`
	SQLitePath   string `json:"sqlite_path,omitempty"`

	DBOpTimeout          time.Duration `json:"-"`
	DBOpTimeoutStr       string        `json:"db_op_timeout"`
	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	WeeklyQuota              int           `json:"weekly_quota"`
	SubmissionDelay          time.Duration `json:"-"`
	SubmissionDelayStr       string        `json:"submission_delay"`
	AutomationSchedule       string        `json:"automation_schedule"`
	AutomationTimezone       string        `json:"automation_timezone,omitempty"`
	BatchSize                int           `json:"batch_size"`
	ManualCountsAgainstQuota bool          `json:"manual_counts_against_quota"`
	MaxAttempts              int           `json:"max_attempts"`
	RetryBackoff             time.Duration `json:"-"`
	RetryBackoffStr          string        `json:"retry_backoff"`
	SubmissionTimeout        time.Duration `json:"-"`
	SubmissionTimeoutStr     string        `json:"submission_timeout"`
	AutomationAutostart      bool          `json:"automation_autostart"`
	AutomationRunOnStart     bool          `json:"automation_run_on_start"`

	ResumeRef       string `json:"resume_ref,omitempty"`
	CoverLetter     string `json:"cover_letter,omitempty"`
	CoverLetterFile string `json:"cover_letter_file,omitempty"`
	SearchKeywords  string `json:"search_keywords"`
	SearchLocation  string `json:"search_location"`

	// CatalogMode: "static", "http" or "nats".
	CatalogMode string `json:"catalog_mode"`
	CatalogFile string `json:"catalog_file,omitempty"`
	CatalogURL  string `json:"catalog_url,omitempty"`

	NATSURL            string `json:"nats_url,omitempty"`
	NATSCatalogSubject string `json:"nats_catalog_subject"`
	NATSEventsSubject  string `json:"nats_events_subject"`

	// GatewayMode: "dryrun" or "http".
	GatewayMode    string `json:"gateway_mode"`
	GatewayURL     string `json:"gateway_url,omitempty"`
	GatewaySecret  string `json:"gateway_secret,omitempty"`
	GatewayRetries int    `json:"gateway_retries"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	RedisAddr string `json:"redis_addr,omitempty"`

	ClickHouseDSN      string `json:"clickhouse_dsn,omitempty"`
	ClickHouseDatabase string `json:"clickhouse_database,omitempty"`
	ClickHouseUsername string `json:"clickhouse_username,omitempty"`
	ClickHousePassword string `json:"clickhouse_password,omitempty"`

	NotionToken string `json:"notion_token,omitempty"`
	NotionDBID  string `json:"notion_db_id,omitempty"`

	OTELCollectorURL string `json:"otel_collector_url,omitempty"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	MetricsPort    int    `json:"metrics_port"`

	ReconcileEnabled     bool          `json:"reconcile_enabled"`
	ReconcileInterval    time.Duration `json:"-"`
	ReconcileIntervalStr string        `json:"reconcile_interval"`

	// ReconcileThreshold must exceed SubmissionTimeout.
	ReconcileThreshold    time.Duration `json:"-"`
	ReconcileThresholdStr string        `json:"reconcile_threshold"`
	ReconcileBatchSize    int           `json:"reconcile_batch_size"`

	LeaderElection bool `json:"leader_election"`
	// LeaderLockKey: all instances sharing the same database must use the same key.
	LeaderLockKey              int64         `json:"leader_lock_key"`
	LeaderRetryInterval        time.Duration `json:"-"`
	LeaderRetryIntervalStr     string        `json:"leader_retry_interval"`
	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`

	EventBusBufferSize     int           `json:"eventbus_buffer_size"`
	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`
	EventsDrainTimeout     time.Duration `json:"-"`
	EventsDrainTimeoutStr  string        `json:"events_drain_timeout"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	// Warnings lists values that were ignored in favour of a default.
	Warnings []string `json:"-"`
}

// LoadDotEnv reads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// loader reads variables and records the ones it had to ignore.
type loader struct {
	warnings []string
}

func (l *loader) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (l *loader) positiveInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		l.warnings = append(l.warnings, fmt.Sprintf("invalid %s %q (must be a positive integer), using default %d", key, v, def))
		return def
	}
	return n
}

func (l *loader) nonNegativeInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		l.warnings = append(l.warnings, fmt.Sprintf("invalid %s %q (must be a non-negative integer), using default %d", key, v, def))
		return def
	}
	return n
}

func (l *loader) boolean(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		l.warnings = append(l.warnings, fmt.Sprintf("invalid %s %q (must be true or false), using default %t", key, v, def))
		return def
	}
	return b
}

// duration returns the raw string and its parsed value. An unparseable
// string is kept so Validate can report it.
func (l *loader) duration(key, def string) (string, time.Duration) {
	s := l.str(key, def)
	d, err := time.ParseDuration(s)
	if err != nil {
		return s, 0
	}
	return s, d
}

// Load reads configuration from environment variables with defaults.
// Validation is handled separately by Validate.
func Load() Config {
	l := &loader{}
	cfg := Config{
		LedgerDriver: l.str("LEDGER_DRIVER", "memory"),
		DatabaseURL:  l.str("DATABASE_URL", ""),
		SQLitePath:   l.str("SQLITE_PATH", "applybot.sqlite"),

		DBMaxOpenConns: l.positiveInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns: l.positiveInt("DB_MAX_IDLE_CONNS", 5),

		WeeklyQuota:              l.positiveInt("WEEKLY_QUOTA", 20),
		AutomationSchedule:       l.str("AUTOMATION_SCHEDULE", "@every 2h"),
		AutomationTimezone:       l.str("AUTOMATION_TIMEZONE", ""),
		BatchSize:                l.positiveInt("BATCH_SIZE", 5),
		ManualCountsAgainstQuota: l.boolean("MANUAL_COUNTS_AGAINST_QUOTA", true),
		MaxAttempts:              l.positiveInt("MAX_ATTEMPTS", 3),
		AutomationAutostart:      l.boolean("AUTOMATION_AUTOSTART", false),
		AutomationRunOnStart:     l.boolean("AUTOMATION_RUN_ON_START", true),

		ResumeRef:       l.str("RESUME_REF", ""),
		CoverLetter:     os.Getenv("COVER_LETTER"),
		CoverLetterFile: l.str("COVER_LETTER_FILE", ""),
		SearchKeywords:  l.str("SEARCH_KEYWORDS", "junior full stack developer"),
		SearchLocation:  l.str("SEARCH_LOCATION", "Remote"),

		CatalogMode: l.str("CATALOG_MODE", "static"),
		CatalogFile: l.str("CATALOG_FILE", ""),
		CatalogURL:  l.str("CATALOG_URL", ""),

		NATSURL:            l.str("NATS_URL", ""),
		NATSCatalogSubject: l.str("NATS_CATALOG_SUBJECT", "jobs.new"),
		NATSEventsSubject:  l.str("NATS_EVENTS_SUBJECT", "applybot.events"),

		GatewayMode:    l.str("GATEWAY_MODE", "dryrun"),
		GatewayURL:     l.str("GATEWAY_URL", ""),
		GatewaySecret:  os.Getenv("GATEWAY_SECRET"),
		GatewayRetries: l.nonNegativeInt("GATEWAY_RETRIES", 0),

		CircuitBreakerThreshold: l.nonNegativeInt("CIRCUIT_BREAKER_THRESHOLD", 5),

		RedisAddr: l.str("REDIS_ADDR", ""),

		ClickHouseDSN:      l.str("CLICKHOUSE_DSN", ""),
		ClickHouseDatabase: l.str("CLICKHOUSE_DATABASE", "default"),
		ClickHouseUsername: l.str("CLICKHOUSE_USERNAME", "default"),
		ClickHousePassword: os.Getenv("CLICKHOUSE_PASSWORD"),

		NotionToken: l.str("NOTION_TOKEN", ""),
		NotionDBID:  l.str("NOTION_DB_ID", ""),

		OTELCollectorURL: l.str("OTEL_COLLECTOR_URL", ""),

		MetricsEnabled: l.boolean("METRICS_ENABLED", false),
		MetricsPath:    l.str("METRICS_PATH", "/metrics"),
		MetricsPort:    l.positiveInt("METRICS_PORT", 9090),

		ReconcileEnabled:   l.boolean("RECONCILE_ENABLED", false),
		ReconcileBatchSize: l.positiveInt("RECONCILE_BATCH_SIZE", 100),

		LeaderElection: l.boolean("LEADER_ELECTION", false),
		LeaderLockKey:  int64(l.positiveInt("LEADER_LOCK_KEY", 728379)),

		EventBusBufferSize: l.positiveInt("EVENTBUS_BUFFER_SIZE", 100),

		LogLevel:  l.str("LOG_LEVEL", "info"),
		LogFormat: l.str("LOG_FORMAT", "json"),
	}

	// Support PORT as fallback for HTTP_ADDR.
	cfg.HTTPAddr = l.str("HTTP_ADDR", "")
	if cfg.HTTPAddr == "" {
		if port := l.str("PORT", ""); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}

	cfg.DBOpTimeoutStr, cfg.DBOpTimeout = l.duration("DB_OP_TIMEOUT", "5s")
	cfg.DBConnMaxLifetimeStr, cfg.DBConnMaxLifetime = l.duration("DB_CONN_MAX_LIFETIME", "30m")
	cfg.DBConnMaxIdleTimeStr, cfg.DBConnMaxIdleTime = l.duration("DB_CONN_MAX_IDLE_TIME", "5m")
	cfg.SubmissionDelayStr, cfg.SubmissionDelay = l.duration("SUBMISSION_DELAY", "2s")
	cfg.RetryBackoffStr, cfg.RetryBackoff = l.duration("RETRY_BACKOFF", "1h")
	cfg.SubmissionTimeoutStr, cfg.SubmissionTimeout = l.duration("SUBMISSION_TIMEOUT", "30s")
	cfg.CircuitBreakerCooldownStr, cfg.CircuitBreakerCooldown = l.duration("CIRCUIT_BREAKER_COOLDOWN", "2m")
	cfg.ReconcileIntervalStr, cfg.ReconcileInterval = l.duration("RECONCILE_INTERVAL", "5m")
	cfg.ReconcileThresholdStr, cfg.ReconcileThreshold = l.duration("RECONCILE_THRESHOLD", "15m")
	cfg.LeaderRetryIntervalStr, cfg.LeaderRetryInterval = l.duration("LEADER_RETRY_INTERVAL", "5s")
	cfg.LeaderHeartbeatIntervalStr, cfg.LeaderHeartbeatInterval = l.duration("LEADER_HEARTBEAT_INTERVAL", "2s")
	cfg.HTTPShutdownTimeoutStr, cfg.HTTPShutdownTimeout = l.duration("HTTP_SHUTDOWN_TIMEOUT", "10s")
	cfg.EventsDrainTimeoutStr, cfg.EventsDrainTimeout = l.duration("EVENTS_DRAIN_TIMEOUT", "30s")

	cfg.Warnings = l.warnings
	return cfg
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := c
	masked.DatabaseURL = maskSecret(c.DatabaseURL)
	masked.GatewaySecret = maskSecret(c.GatewaySecret)
	masked.ClickHouseDSN = maskSecret(c.ClickHouseDSN)
	masked.ClickHousePassword = maskSecret(c.ClickHousePassword)
	masked.NotionToken = maskSecret(c.NotionToken)
	if c.CoverLetter != "" {
		masked.CoverLetter = fmt.Sprintf("(%d characters)", len(c.CoverLetter))
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://", "clickhouse://", "tcp://"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	return "***"
}
