package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/yoanipalmas/App-ApplyBot/internal/app"
	"github.com/yoanipalmas/App-ApplyBot/internal/config"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(exitInvalidConfig)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "run-once":
		os.Exit(runOnce())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`applybot - automated job application dispatcher

Usage:
  applybot <command>

Commands:
  serve      Start the API, automation and observers
  run-once   Run a single manual batch and exit
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Variables are read from the environment and from ./.env when present.

Environment Variables:
  HTTP_ADDR                   HTTP server address (default: ":8080", or ":$PORT")
  LEDGER_DRIVER               memory, postgres or sqlite (default: "memory")
  DATABASE_URL                PostgreSQL connection string (postgres ledger, leader election)
  SQLITE_PATH                 SQLite file (default: "applybot.sqlite")
  DB_OP_TIMEOUT               Per-query timeout (default: "5s")
  DB_MAX_OPEN_CONNS           Max open connections (default: "25")
  DB_MAX_IDLE_CONNS           Max idle connections (default: "5")
  DB_CONN_MAX_LIFETIME        Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME       Max connection idle time (default: "5m")

  WEEKLY_QUOTA                Applications per rolling 7 days (default: "20")
  SUBMISSION_DELAY            Pause between submissions (default: "2s")
  AUTOMATION_SCHEDULE         Cadence, "@every 2h" or cron (default: "@every 2h")
  AUTOMATION_TIMEZONE         Timezone for cron cadences (default: UTC)
  AUTOMATION_AUTOSTART        Start automation on boot (default: "false")
  AUTOMATION_RUN_ON_START     Run one batch when automation starts (default: "true")
  BATCH_SIZE                  Jobs per scheduled batch (default: "5")
  MANUAL_COUNTS_AGAINST_QUOTA Manual applies consume quota (default: "true")
  MAX_ATTEMPTS                Attempts per job before giving up (default: "3")
  RETRY_BACKOFF               Wait after the first failure, doubled per attempt (default: "1h")
  SUBMISSION_TIMEOUT          Bound on one submission (default: "30s")

  RESUME_REF                  Resume handle sent with every application
  COVER_LETTER                Inline cover letter
  COVER_LETTER_FILE           Cover letter file (overrides COVER_LETTER)
  SEARCH_KEYWORDS             Catalog keywords (default: "junior full stack developer")
  SEARCH_LOCATION             Catalog location (default: "Remote")

  CATALOG_MODE                static, http or nats (default: "static")
  CATALOG_FILE                JSON postings file for the static catalog
  CATALOG_URL                 Feed URL for the http catalog
  NATS_URL                    NATS server (nats catalog, event publishing)
  NATS_CATALOG_SUBJECT        Postings subject (default: "jobs.new")
  NATS_EVENTS_SUBJECT         Event subject prefix (default: "applybot.events")

  GATEWAY_MODE                dryrun or http (default: "dryrun")
  GATEWAY_URL                 Submission endpoint for the http gateway
  GATEWAY_SECRET              HMAC secret for X-ApplyBot-Signature
  GATEWAY_RETRIES             Transport retries inside one attempt (default: "0")
  CIRCUIT_BREAKER_THRESHOLD   Network failures before the circuit opens, 0 disables (default: "5")
  CIRCUIT_BREAKER_COOLDOWN    Open circuit duration (default: "2m")

  REDIS_ADDR                  Redis address for outcome analytics (optional)
  CLICKHOUSE_DSN              ClickHouse address for the event archive (optional)
  CLICKHOUSE_DATABASE         ClickHouse database
  CLICKHOUSE_USERNAME         ClickHouse user
  CLICKHOUSE_PASSWORD         ClickHouse password
  NOTION_TOKEN, NOTION_DB_ID  Notion tracker sync (optional)
  OTEL_COLLECTOR_URL          OTLP gRPC collector for tracing (optional)

  METRICS_ENABLED             Enable Prometheus metrics (default: "false")
  METRICS_PATH                Metrics endpoint path (default: "/metrics")
  METRICS_PORT                Metrics server port (default: "9090")

  RECONCILE_ENABLED           Recover records stuck in submitting (default: "false")
  RECONCILE_INTERVAL          How often to scan (default: "5m")
  RECONCILE_THRESHOLD         Age before a record is stale (default: "15m")
  RECONCILE_BATCH_SIZE        Max records per cycle (default: "100")

  LEADER_ELECTION             Run automation on one replica only (default: "false")
  LEADER_LOCK_KEY             Advisory lock key (default: "728379")
  LEADER_RETRY_INTERVAL       Lock acquisition retry interval (default: "5s")
  LEADER_HEARTBEAT_INTERVAL   Leadership heartbeat interval (default: "2s")

  EVENTBUS_BUFFER_SIZE        Event bus buffer (default: "100")

  HTTP_SHUTDOWN_TIMEOUT       Graceful HTTP shutdown timeout (default: "10s")
  EVENTS_DRAIN_TIMEOUT        Observer drain timeout (default: "30s")
  LOG_LEVEL                   debug, info, warn or error (default: "info")
  LOG_FORMAT                  json or console (default: "json")`)
}

// newLogger builds the process logger from LOG_FORMAT and LOG_LEVEL.
func newLogger(cfg config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.LogFormat == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// setup loads and validates configuration and builds the logger.
func setup() (config.Config, *zap.Logger, int) {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return cfg, nil, exitInvalidConfig
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		return cfg, nil, exitInvalidConfig
	}
	return cfg, logger, exitSuccess
}

func runServe() int {
	cfg, logger, code := setup()
	if code != exitSuccess {
		return code
	}
	defer logger.Sync()

	logConfigWarnings(cfg, logger)

	ctx := context.Background()
	a, err := app.Build(ctx, cfg, logger, app.Options{Version: version})
	if err != nil {
		logger.Error("applybot: startup failed", zap.Error(err))
		return exitRuntimeError
	}
	defer a.Close()

	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    ":" + strconv.Itoa(cfg.MetricsPort),
			Handler: metricsMux,
		}
		go func() {
			logger.Info("applybot: metrics server listening",
				zap.Int("port", cfg.MetricsPort),
				zap.String("path", cfg.MetricsPath))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("applybot: metrics server error", zap.Error(err))
			}
		}()
	} else {
		logger.Info("applybot: METRICS_ENABLED not set; metrics disabled")
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: a.Handler,
	}
	go func() {
		logger.Info("applybot: http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("applybot: http server error", zap.Error(err))
		}
	}()

	a.Start(ctx)
	logger.Info("applybot: started",
		zap.String("version", version),
		zap.String("http", cfg.HTTPAddr),
		zap.String("schedule", cfg.AutomationSchedule),
		zap.Bool("autostart", cfg.AutomationAutostart),
		zap.Bool("leader_election", cfg.LeaderElection))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	logger.Info("applybot: shutting down", zap.String("signal", received.String()))

	// Phase 1: stop automation, reconciler and leader election. A running
	// batch finishes its in-flight submission.
	logger.Info("applybot: stopping automation...")
	a.Stop()
	logger.Info("applybot: automation stopped")

	// Phase 2: stop the HTTP server so no manual batch starts.
	logger.Info("applybot: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		logger.Error("applybot: http server shutdown error", zap.Error(err))
	}
	logger.Info("applybot: http server stopped")

	// Phase 3: deliver buffered events to the observers.
	logger.Info("applybot: draining events...")
	a.DrainEvents()
	logger.Info("applybot: events drained")

	// Phase 4: stop metrics server if running (with same timeout)
	if metricsServer != nil {
		logger.Info("applybot: stopping metrics server...")
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			logger.Error("applybot: metrics server shutdown error", zap.Error(err))
		}
		logger.Info("applybot: metrics server stopped")
	}

	logger.Info("applybot: stopped")
	return exitSuccess
}

// runOnce runs one manual batch with the configured profile, prints the
// result as JSON and exits.
func runOnce() int {
	cfg, logger, code := setup()
	if code != exitSuccess {
		return code
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger, app.Options{Version: version})
	if err != nil {
		logger.Error("applybot: startup failed", zap.Error(err))
		return exitRuntimeError
	}
	defer a.Close()

	a.StartEvents()
	result, err := a.Engine.RunNow(ctx, a.Profiles.Get())
	a.DrainEvents()
	if err != nil {
		logger.Error("applybot: batch failed", zap.Error(err))
		return exitRuntimeError
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal result: %v\n", err)
		return exitRuntimeError
	}
	fmt.Println(string(data))
	return exitSuccess
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	for _, w := range cfg.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("applybot version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
