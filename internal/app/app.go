// Package app builds applybot's components from configuration and owns
// their lifecycle. Both the long-running service and the one-shot binary
// use it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yoanipalmas/App-ApplyBot/internal/analytics"
	"github.com/yoanipalmas/App-ApplyBot/internal/api"
	"github.com/yoanipalmas/App-ApplyBot/internal/catalog"
	"github.com/yoanipalmas/App-ApplyBot/internal/circuitbreaker"
	"github.com/yoanipalmas/App-ApplyBot/internal/config"
	"github.com/yoanipalmas/App-ApplyBot/internal/dispatch"
	"github.com/yoanipalmas/App-ApplyBot/internal/events"
	"github.com/yoanipalmas/App-ApplyBot/internal/gateway"
	"github.com/yoanipalmas/App-ApplyBot/internal/leaderelection"
	"github.com/yoanipalmas/App-ApplyBot/internal/ledger"
	"github.com/yoanipalmas/App-ApplyBot/internal/metrics"
	"github.com/yoanipalmas/App-ApplyBot/internal/observers"
	"github.com/yoanipalmas/App-ApplyBot/internal/profile"
	"github.com/yoanipalmas/App-ApplyBot/internal/reconciler"
	"github.com/yoanipalmas/App-ApplyBot/internal/store/sqlstore"
	"github.com/yoanipalmas/App-ApplyBot/internal/telemetry"
)

// Ledger is everything the wired components need from the application ledger.
type Ledger interface {
	dispatch.Ledger
	reconciler.Store
	api.Store
}

// Options are process-level settings that do not come from the environment.
type Options struct {
	Version string
	// Registerer receives the Prometheus collectors. Defaults to
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Ledger   Ledger
	Profiles *profile.Store
	Catalog  catalog.Catalog
	Engine   *dispatch.Engine
	Bus      *events.Bus
	Fanout   *events.Fanout
	Metrics  metrics.Sink
	Handler  *api.Handler

	// Reconciler and Elector are nil when disabled.
	Reconciler *reconciler.Reconciler
	Elector    *leaderelection.Elector

	db      *sql.DB
	closers []func()

	checks  map[string]api.HealthChecker
	counter api.OutcomeCounter

	fanoutDone chan struct{}

	electorCancel context.CancelFunc
	electorDone   chan struct{}

	dutyMu     sync.Mutex
	dutyCancel context.CancelFunc
	dutyWg     sync.WaitGroup
}

// Build connects every configured dependency. On error, whatever was
// already opened is closed again.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	a := &App{Config: cfg, Logger: logger, checks: make(map[string]api.HealthChecker)}
	if err := a.build(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, opts Options) error {
	cfg, logger := a.Config, a.Logger

	if cfg.OTELCollectorURL != "" {
		shutdown, err := telemetry.InitTracer(ctx, "applybot", opts.Version, cfg.OTELCollectorURL, logger)
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		a.onClose(shutdown)
		logger.Info("applybot: tracing enabled", zap.String("collector", cfg.OTELCollectorURL))
	}

	if cfg.MetricsEnabled {
		a.Metrics = metrics.NewPrometheusSink(opts.Registerer, logger)
	} else {
		a.Metrics = metrics.NewNoopSink()
	}

	if err := a.buildLedger(ctx); err != nil {
		return err
	}

	p, err := profile.Load(profile.Source{
		ResumeRef:       cfg.ResumeRef,
		CoverLetter:     cfg.CoverLetter,
		CoverLetterFile: cfg.CoverLetterFile,
		Keywords:        cfg.SearchKeywords,
		Location:        cfg.SearchLocation,
	})
	if err != nil {
		return err
	}
	a.Profiles = profile.NewStore(p)

	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = observers.ConnectNATS(cfg.NATSURL, 5*time.Second, logger)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		a.onClose(nc.Close)
	}

	if err := a.buildCatalog(nc); err != nil {
		return err
	}

	a.Bus = events.NewBus(cfg.EventBusBufferSize).WithMetrics(a.Metrics)
	a.Fanout = events.NewFanout(logger, observers.NewLogSink(logger)).
		WithMetrics(a.Metrics).
		WithDrainTimeout(cfg.EventsDrainTimeout)

	if pinger, ok := a.Ledger.(api.HealthChecker); ok {
		a.checks["ledger"] = pinger
	}

	if err := a.buildSinks(ctx, nc); err != nil {
		return err
	}

	engine, err := dispatch.New(dispatch.Config{
		WeeklyQuota:              cfg.WeeklyQuota,
		SubmissionDelay:          cfg.SubmissionDelay,
		Schedule:                 cfg.AutomationSchedule,
		Timezone:                 cfg.AutomationTimezone,
		BatchSize:                cfg.BatchSize,
		QuotaWindow:              dispatch.DefaultConfig().QuotaWindow,
		ManualCountsAgainstQuota: cfg.ManualCountsAgainstQuota,
		MaxAttempts:              cfg.MaxAttempts,
		RetryBackoff:             cfg.RetryBackoff,
		SubmissionTimeout:        cfg.SubmissionTimeout,
		RunOnStart:               cfg.AutomationRunOnStart,
	}, a.Ledger, a.Catalog, a.buildGateway())
	if err != nil {
		return err
	}
	a.Engine = engine.
		WithEmitter(a.Bus).
		WithMetrics(a.Metrics).
		WithLogger(logger)

	a.Handler = api.NewHandler(a.Ledger, a.Engine, a.Profiles, a.Catalog).WithLogger(logger)
	for name, c := range a.checks {
		a.Handler.WithHealthChecker(name, c)
	}
	if a.counter != nil {
		a.Handler.WithOutcomeCounter(a.counter)
	}

	if cfg.ReconcileEnabled {
		a.Reconciler = reconciler.New(reconciler.Config{
			Interval:  cfg.ReconcileInterval,
			Threshold: cfg.ReconcileThreshold,
			BatchSize: cfg.ReconcileBatchSize,
		}, a.Ledger, logger).
			WithEmitter(a.Bus).
			WithMetrics(a.Metrics)
	}

	if cfg.LeaderElection {
		if err := a.buildElector(); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) buildLedger(ctx context.Context) error {
	cfg := a.Config
	var dialect sqlstore.Dialect
	var dsn string
	switch cfg.LedgerDriver {
	case "memory":
		a.Ledger = ledger.NewMemory()
		a.Logger.Warn("applybot: in-memory ledger; application history is lost on restart")
		return nil
	case "postgres":
		dialect, dsn = sqlstore.Postgres, cfg.DatabaseURL
	case "sqlite":
		dialect, dsn = sqlstore.SQLite, cfg.SQLitePath
	default:
		return fmt.Errorf("unknown ledger driver %q", cfg.LedgerDriver)
	}

	db, err := sqlstore.Open(dialect, dsn)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	a.onClose(func() { db.Close() })

	if dialect == sqlstore.Postgres {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
		db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
		db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)
		a.Logger.Info("applybot: db pool configured",
			zap.Int("max_open", cfg.DBMaxOpenConns),
			zap.Int("max_idle", cfg.DBMaxIdleConns),
			zap.Duration("max_lifetime", cfg.DBConnMaxLifetime),
			zap.Duration("max_idle_time", cfg.DBConnMaxIdleTime))
	}

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("connect ledger: %w", err)
	}

	store := sqlstore.New(db, dialect).WithOpTimeout(cfg.DBOpTimeout)
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	a.db = db
	a.Ledger = store
	a.Logger.Info("applybot: ledger ready", zap.String("driver", cfg.LedgerDriver))
	return nil
}

func (a *App) buildCatalog(nc *nats.Conn) error {
	cfg := a.Config
	switch cfg.CatalogMode {
	case "static":
		if cfg.CatalogFile == "" {
			a.Catalog = catalog.NewStatic(nil)
			a.Logger.Warn("applybot: CATALOG_FILE not set; catalog is empty")
			return nil
		}
		static, err := catalog.LoadFile(cfg.CatalogFile)
		if err != nil {
			return err
		}
		a.Catalog = static
	case "http":
		a.Catalog = catalog.NewHTTPFeed(cfg.CatalogURL, 10*time.Second)
	case "nats":
		if nc == nil {
			return errors.New("CATALOG_MODE=nats requires NATS_URL")
		}
		feed := catalog.NewNATSFeed(cfg.NATSCatalogSubject, catalog.DefaultSnapshotSize, a.Logger)
		if err := feed.Subscribe(nc); err != nil {
			return err
		}
		a.onClose(func() { feed.Close() })
		a.Catalog = feed
	default:
		return fmt.Errorf("unknown catalog mode %q", cfg.CatalogMode)
	}
	a.Logger.Info("applybot: catalog ready", zap.String("mode", cfg.CatalogMode))
	return nil
}

// buildGateway wraps the submitter as Guarded(Retrying(HTTP)) so the
// circuit sees one result per attempt.
func (a *App) buildGateway() gateway.Submitter {
	cfg := a.Config
	if cfg.GatewayMode != "http" {
		a.Logger.Warn("applybot: dry-run gateway; no application leaves this process")
		return gateway.NewDryRun(a.Logger)
	}

	var sub gateway.Submitter = gateway.NewHTTPSubmitter(cfg.GatewayURL, cfg.GatewaySecret)
	if cfg.GatewayRetries > 0 {
		sub = gateway.NewRetrying(sub, cfg.GatewayRetries, time.Second, a.Logger)
	}
	if cfg.CircuitBreakerThreshold > 0 {
		breaker := circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
		sub = gateway.NewGuarded(sub, breaker, cfg.GatewayURL)
	}
	a.Logger.Info("applybot: http gateway",
		zap.String("url", cfg.GatewayURL),
		zap.Int("retries", cfg.GatewayRetries),
		zap.Int("breaker_threshold", cfg.CircuitBreakerThreshold))
	return sub
}

// buildSinks attaches the optional observers to the fan-out.
func (a *App) buildSinks(ctx context.Context, nc *nats.Conn) error {
	cfg, logger := a.Config, a.Logger

	if nc != nil {
		a.Fanout.Add(observers.NewNATSPublisher(nc, cfg.NATSEventsSubject, logger))
		a.checks["nats"] = api.HealthCheckFunc(func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("status %s", nc.Status())
			}
			return nil
		})
		logger.Info("applybot: publishing events to nats", zap.String("subject", cfg.NATSEventsSubject))
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.onClose(func() { client.Close() })
		sink := analytics.NewRedisSink(client)
		a.Fanout.Add(sink)
		a.counter = sink
		a.checks["redis"] = api.HealthCheckFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		logger.Info("applybot: analytics enabled", zap.String("redis", cfg.RedisAddr))
	} else {
		logger.Info("applybot: REDIS_ADDR not set; analytics disabled")
	}

	if cfg.ClickHouseDSN != "" {
		conn, err := observers.OpenClickHouse(ctx, observers.ClickHouseOptions{
			DSN:      cfg.ClickHouseDSN,
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUsername,
			Password: cfg.ClickHousePassword,
		})
		if err != nil {
			return err
		}
		a.onClose(func() { conn.Close() })
		archive := observers.NewClickHouseArchive(conn, logger)
		if err := archive.EnsureSchema(ctx); err != nil {
			return err
		}
		a.Fanout.Add(archive)
		a.checks["clickhouse"] = api.HealthCheckFunc(conn.Ping)
		logger.Info("applybot: clickhouse archive enabled")
	}

	if cfg.NotionToken != "" {
		a.Fanout.Add(observers.NewNotionSync(cfg.NotionToken, cfg.NotionDBID, logger))
		logger.Info("applybot: notion tracker sync enabled")
	}
	return nil
}

// buildElector reuses the ledger's Postgres handle when there is one.
func (a *App) buildElector() error {
	db := a.db
	if db == nil || a.Config.LedgerDriver != "postgres" {
		var err error
		db, err = sqlstore.Open(sqlstore.Postgres, a.Config.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open leader election db: %w", err)
		}
		a.onClose(func() { db.Close() })
	}
	a.Elector = leaderelection.New(
		db,
		a.Config.LeaderLockKey,
		a.Config.LeaderRetryInterval,
		a.Config.LeaderHeartbeatInterval,
		a.startDuties,
		a.stopDuties,
	).WithMetrics(a.Metrics).WithLogger(a.Logger)
	return nil
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// StartEvents starts delivering events to the observers.
func (a *App) StartEvents() {
	a.fanoutDone = make(chan struct{})
	go func() {
		defer close(a.fanoutDone)
		a.Fanout.Run(context.Background(), a.Bus.Channel())
	}()
}

// Start begins event delivery and the leader duties: automation when
// AUTOMATION_AUTOSTART is set, and the reconciler. With leader election the
// duties run only while this replica holds the lock.
func (a *App) Start(ctx context.Context) {
	a.StartEvents()

	if a.Elector == nil {
		a.startDuties(ctx)
		return
	}
	electorCtx, cancel := context.WithCancel(ctx)
	a.electorCancel = cancel
	a.electorDone = make(chan struct{})
	go func() {
		defer close(a.electorDone)
		a.Elector.Run(electorCtx)
	}()
}

func (a *App) startDuties(ctx context.Context) {
	a.dutyMu.Lock()
	defer a.dutyMu.Unlock()
	// Leadership can be lost before the duties start.
	if a.dutyCancel != nil || ctx.Err() != nil {
		return
	}
	dutyCtx, cancel := context.WithCancel(ctx)
	a.dutyCancel = cancel

	if a.Config.AutomationAutostart {
		if err := a.Engine.Start(dutyCtx, a.Profiles.Get()); err != nil {
			a.Logger.Error("applybot: automation not started", zap.Error(err))
		}
	}

	if a.Reconciler != nil {
		a.dutyWg.Add(1)
		go func() {
			defer a.dutyWg.Done()
			a.Reconciler.Run(dutyCtx)
		}()
		a.Logger.Info("applybot: reconciler enabled",
			zap.Duration("interval", a.Config.ReconcileInterval),
			zap.Duration("threshold", a.Config.ReconcileThreshold),
			zap.Int("batch", a.Config.ReconcileBatchSize))
	}
}

// stopDuties stops automation and the reconciler and waits for both.
// It is idempotent.
func (a *App) stopDuties() {
	a.dutyMu.Lock()
	defer a.dutyMu.Unlock()
	a.Engine.Stop()
	if a.dutyCancel == nil {
		return
	}
	a.dutyCancel()
	a.dutyWg.Wait()
	a.dutyCancel = nil
}

// Stop ends leader election and the leader duties. The in-flight
// submission of a running batch completes first.
func (a *App) Stop() {
	if a.electorCancel != nil {
		a.electorCancel()
		<-a.electorDone
	}
	a.stopDuties()
}

// DrainEvents closes the bus and waits for the fan-out to deliver what is
// buffered.
func (a *App) DrainEvents() {
	a.Bus.Close()
	if a.fanoutDone != nil {
		<-a.fanoutDone
	}
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
