package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv unsets every variable Load reads so tests start from defaults.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"HTTP_ADDR", "PORT", "LEDGER_DRIVER", "DATABASE_URL", "SQLITE_PATH",
		"DB_OP_TIMEOUT", "DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS", "DB_CONN_MAX_LIFETIME", "DB_CONN_MAX_IDLE_TIME",
		"WEEKLY_QUOTA", "SUBMISSION_DELAY", "AUTOMATION_SCHEDULE", "AUTOMATION_TIMEZONE", "BATCH_SIZE",
		"MANUAL_COUNTS_AGAINST_QUOTA", "MAX_ATTEMPTS", "RETRY_BACKOFF", "SUBMISSION_TIMEOUT",
		"AUTOMATION_AUTOSTART", "AUTOMATION_RUN_ON_START",
		"RESUME_REF", "COVER_LETTER", "COVER_LETTER_FILE", "SEARCH_KEYWORDS", "SEARCH_LOCATION",
		"CATALOG_MODE", "CATALOG_FILE", "CATALOG_URL", "NATS_URL", "NATS_CATALOG_SUBJECT", "NATS_EVENTS_SUBJECT",
		"GATEWAY_MODE", "GATEWAY_URL", "GATEWAY_SECRET", "GATEWAY_RETRIES",
		"CIRCUIT_BREAKER_THRESHOLD", "CIRCUIT_BREAKER_COOLDOWN", "REDIS_ADDR",
		"CLICKHOUSE_DSN", "CLICKHOUSE_DATABASE", "CLICKHOUSE_USERNAME", "CLICKHOUSE_PASSWORD",
		"NOTION_TOKEN", "NOTION_DB_ID", "OTEL_COLLECTOR_URL",
		"METRICS_ENABLED", "METRICS_PATH", "METRICS_PORT",
		"RECONCILE_ENABLED", "RECONCILE_INTERVAL", "RECONCILE_THRESHOLD", "RECONCILE_BATCH_SIZE",
		"LEADER_ELECTION", "LEADER_LOCK_KEY", "LEADER_RETRY_INTERVAL", "LEADER_HEARTBEAT_INTERVAL",
		"EVENTBUS_BUFFER_SIZE", "HTTP_SHUTDOWN_TIMEOUT", "EVENTS_DRAIN_TIMEOUT",
		"LOG_LEVEL", "LOG_FORMAT",
	} {
		if v, ok := os.LookupEnv(key); ok {
			os.Unsetenv(key)
			t.Cleanup(func() { os.Setenv(key, v) })
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr: expected :8080, got %q", cfg.HTTPAddr)
	}
	if cfg.LedgerDriver != "memory" {
		t.Errorf("LedgerDriver: expected memory, got %q", cfg.LedgerDriver)
	}
	if cfg.WeeklyQuota != 20 {
		t.Errorf("WeeklyQuota: expected 20, got %d", cfg.WeeklyQuota)
	}
	if cfg.SubmissionDelay != 2*time.Second {
		t.Errorf("SubmissionDelay: expected 2s, got %v", cfg.SubmissionDelay)
	}
	if cfg.AutomationSchedule != "@every 2h" {
		t.Errorf("AutomationSchedule: expected @every 2h, got %q", cfg.AutomationSchedule)
	}
	if cfg.BatchSize != 5 {
		t.Errorf("BatchSize: expected 5, got %d", cfg.BatchSize)
	}
	if !cfg.ManualCountsAgainstQuota {
		t.Error("ManualCountsAgainstQuota: expected true")
	}
	if cfg.MaxAttempts != 3 {
		t.Errorf("MaxAttempts: expected 3, got %d", cfg.MaxAttempts)
	}
	if cfg.RetryBackoff != time.Hour {
		t.Errorf("RetryBackoff: expected 1h, got %v", cfg.RetryBackoff)
	}
	if cfg.SubmissionTimeout != 30*time.Second {
		t.Errorf("SubmissionTimeout: expected 30s, got %v", cfg.SubmissionTimeout)
	}
	if cfg.CatalogMode != "static" || cfg.GatewayMode != "dryrun" {
		t.Errorf("modes: expected static/dryrun, got %s/%s", cfg.CatalogMode, cfg.GatewayMode)
	}
	if cfg.ReconcileThreshold != 15*time.Minute {
		t.Errorf("ReconcileThreshold: expected 15m, got %v", cfg.ReconcileThreshold)
	}
	if cfg.EventsDrainTimeout != 30*time.Second {
		t.Errorf("EventsDrainTimeout: expected 30s, got %v", cfg.EventsDrainTimeout)
	}
	if cfg.EventBusBufferSize != 100 {
		t.Errorf("EventBusBufferSize: expected 100, got %d", cfg.EventBusBufferSize)
	}
	if len(cfg.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", cfg.Warnings)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEEKLY_QUOTA", "10")
	t.Setenv("SUBMISSION_DELAY", "500ms")
	t.Setenv("AUTOMATION_SCHEDULE", "0 9 * * 1-5")
	t.Setenv("AUTOMATION_TIMEZONE", "Europe/Madrid")
	t.Setenv("MANUAL_COUNTS_AGAINST_QUOTA", "false")
	t.Setenv("GATEWAY_RETRIES", "2")
	t.Setenv("CIRCUIT_BREAKER_THRESHOLD", "0")
	t.Setenv("DB_OP_TIMEOUT", "10s")

	cfg := Load()

	if cfg.WeeklyQuota != 10 {
		t.Errorf("WeeklyQuota: expected 10, got %d", cfg.WeeklyQuota)
	}
	if cfg.SubmissionDelay != 500*time.Millisecond {
		t.Errorf("SubmissionDelay: expected 500ms, got %v", cfg.SubmissionDelay)
	}
	if cfg.AutomationSchedule != "0 9 * * 1-5" || cfg.AutomationTimezone != "Europe/Madrid" {
		t.Errorf("schedule: got %q in %q", cfg.AutomationSchedule, cfg.AutomationTimezone)
	}
	if cfg.ManualCountsAgainstQuota {
		t.Error("ManualCountsAgainstQuota: expected false")
	}
	if cfg.GatewayRetries != 2 {
		t.Errorf("GatewayRetries: expected 2, got %d", cfg.GatewayRetries)
	}
	if cfg.CircuitBreakerThreshold != 0 {
		t.Errorf("CircuitBreakerThreshold: expected 0, got %d", cfg.CircuitBreakerThreshold)
	}
	if cfg.DBOpTimeout != 10*time.Second {
		t.Errorf("DBOpTimeout: expected 10s, got %v", cfg.DBOpTimeout)
	}
}

func TestLoad_PortFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "3000")

	cfg := Load()
	if cfg.HTTPAddr != ":3000" {
		t.Errorf("expected :3000, got %q", cfg.HTTPAddr)
	}

	t.Setenv("HTTP_ADDR", "127.0.0.1:9000")
	cfg = Load()
	if cfg.HTTPAddr != "127.0.0.1:9000" {
		t.Errorf("HTTP_ADDR should win over PORT, got %q", cfg.HTTPAddr)
	}
}

func TestLoad_InvalidNumbersFallBackWithWarning(t *testing.T) {
	tests := []struct {
		key   string
		value string
		check func(Config) bool
	}{
		{"WEEKLY_QUOTA", "0", func(c Config) bool { return c.WeeklyQuota == 20 }},
		{"WEEKLY_QUOTA", "lots", func(c Config) bool { return c.WeeklyQuota == 20 }},
		{"BATCH_SIZE", "-1", func(c Config) bool { return c.BatchSize == 5 }},
		{"EVENTBUS_BUFFER_SIZE", "abc", func(c Config) bool { return c.EventBusBufferSize == 100 }},
		{"GATEWAY_RETRIES", "-3", func(c Config) bool { return c.GatewayRetries == 0 }},
		{"METRICS_ENABLED", "maybe", func(c Config) bool { return !c.MetricsEnabled }},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			cfg := Load()
			if !tt.check(cfg) {
				t.Errorf("%s=%q did not fall back to its default", tt.key, tt.value)
			}
			if len(cfg.Warnings) != 1 || !strings.Contains(cfg.Warnings[0], tt.key) {
				t.Errorf("expected one warning naming %s, got %v", tt.key, cfg.Warnings)
			}
		})
	}
}

func TestLoad_InvalidDurationKeptForValidation(t *testing.T) {
	clearEnv(t)
	t.Setenv("SUBMISSION_DELAY", "soon")

	cfg := Load()
	if cfg.SubmissionDelayStr != "soon" {
		t.Errorf("expected raw value to be kept, got %q", cfg.SubmissionDelayStr)
	}

	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "SUBMISSION_DELAY") {
		t.Errorf("expected SUBMISSION_DELAY validation error, got %v", err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "WEEKLY_QUOTA=7\nRESUME_REF=resume-v2.pdf\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.Unsetenv("WEEKLY_QUOTA")
		os.Unsetenv("RESUME_REF")
	})

	// Already-set variables win over the file.
	t.Setenv("RESUME_REF", "from-env.pdf")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}

	cfg := Load()
	if cfg.WeeklyQuota != 7 {
		t.Errorf("WeeklyQuota: expected 7 from file, got %d", cfg.WeeklyQuota)
	}
	if cfg.ResumeRef != "from-env.pdf" {
		t.Errorf("ResumeRef: expected environment to win, got %q", cfg.ResumeRef)
	}
}

func TestLoadDotEnv_MissingFileIgnored(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("expected missing file to be ignored, got %v", err)
	}
}

func TestMaskedJSON_MasksSecrets(t *testing.T) {
	cfg := Config{
		DatabaseURL:        "postgres://user:hunter2@db:5432/applybot",
		GatewaySecret:      "s3cret",
		ClickHousePassword: "chpass",
		NotionToken:        "secret_notion",
		CoverLetter:        "Dear team",
		SubmissionDelayStr: "2s",
	}

	data, err := cfg.MaskedJSON()
	if err != nil {
		t.Fatalf("MaskedJSON: %v", err)
	}
	out := string(data)

	for _, secret := range []string{"hunter2", "s3cret", "chpass", "secret_notion", "Dear team"} {
		if strings.Contains(out, secret) {
			t.Errorf("masked JSON leaks %q:\n%s", secret, out)
		}
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["database_url"] != "postgres://***" {
		t.Errorf("database_url: expected scheme kept, got %v", decoded["database_url"])
	}
	if decoded["submission_delay"] != "2s" {
		t.Errorf("submission_delay: expected 2s, got %v", decoded["submission_delay"])
	}
	if decoded["cover_letter"] != "(9 characters)" {
		t.Errorf("cover_letter: got %v", decoded["cover_letter"])
	}
}

func TestMaskSecret(t *testing.T) {
	tests := map[string]string{
		"":                        "",
		"postgresql://u:p@h/db":   "postgresql://***",
		"clickhouse://u:p@h:9000": "clickhouse://***",
		"plain-token":             "***",
	}
	for in, want := range tests {
		if got := maskSecret(in); got != want {
			t.Errorf("maskSecret(%q) = %q, want %q", in, got, want)
		}
	}
}
