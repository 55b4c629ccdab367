package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yoanipalmas/App-ApplyBot/internal/config"
	"github.com/yoanipalmas/App-ApplyBot/internal/dispatch"
	"github.com/yoanipalmas/App-ApplyBot/internal/domain"
	"github.com/yoanipalmas/App-ApplyBot/internal/store/sqlstore"
	"github.com/yoanipalmas/App-ApplyBot/internal/testutil"
)

func writeCatalog(t *testing.T, n int) string {
	t.Helper()
	postings := testutil.Postings(n, time.Now().Add(-time.Hour))
	b, err := json.Marshal(postings)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "catalog.json")
	if err := os.WriteFile(path, b, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func testConfig(t *testing.T) config.Config {
	return config.Config{
		LedgerDriver:             "memory",
		WeeklyQuota:              20,
		AutomationSchedule:       "@every 1h",
		BatchSize:                5,
		ManualCountsAgainstQuota: true,
		MaxAttempts:              3,
		RetryBackoff:             time.Hour,
		SubmissionTimeout:        5 * time.Second,
		AutomationRunOnStart:     true,
		ResumeRef:                "cv.pdf",
		SearchKeywords:           "developer",
		SearchLocation:           "Remote",
		CatalogMode:              "static",
		CatalogFile:              writeCatalog(t, 3),
		GatewayMode:              "dryrun",
		EventBusBufferSize:       100,
		EventsDrainTimeout:       time.Second,
		ReconcileInterval:        time.Minute,
		ReconcileThreshold:       time.Minute,
		ReconcileBatchSize:       10,
	}
}

func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.InfoLevel)
	return zap.New(core), logs
}

func TestBuild_RunNowDeliversEvents(t *testing.T) {
	ctx := testutil.TestContext(t)
	logger, logs := observedLogger()

	a, err := Build(ctx, testConfig(t), logger, Options{Version: "test"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer a.Close()
	a.StartEvents()

	result, err := a.Engine.RunNow(ctx, a.Profiles.Get())
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if result.Attempted != 3 || result.Succeeded != 3 {
		t.Errorf("result = %+v, want 3 attempted and succeeded", result)
	}

	a.DrainEvents()

	if n := logs.FilterMessage("observer: event").Len(); n != 5 {
		t.Errorf("observed %d events, want 5 (start, three jobs, finish)", n)
	}
	rec, err := a.Ledger.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != domain.StatusApplied {
		t.Errorf("job-1 status = %s, want applied", rec.Status)
	}
}

func TestApp_StartAutostartsAutomation(t *testing.T) {
	ctx := testutil.TestContext(t)
	cfg := testConfig(t)
	cfg.AutomationAutostart = true
	cfg.ReconcileEnabled = true

	a, err := Build(ctx, cfg, zap.NewNop(), Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer a.Close()

	a.Start(ctx)
	testutil.Eventually(t, 2*time.Second, func() bool {
		st, err := a.Engine.Status(ctx)
		return err == nil && st.LastResult != nil
	}, "run-on-start batch finished")

	if st := a.Engine.State(); st == dispatch.StateIdle {
		t.Error("automation should be active after Start")
	}

	a.Stop()
	a.DrainEvents()

	if st := a.Engine.State(); st != dispatch.StateIdle {
		t.Errorf("state after Stop = %s, want idle", st)
	}
	records, err := a.Ledger.List(ctx, 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("ledger holds %d records, want 3", len(records))
	}
}

func TestBuild_SQLiteLedgerServesHealth(t *testing.T) {
	ctx := testutil.TestContext(t)
	cfg := testConfig(t)
	cfg.LedgerDriver = "sqlite"
	cfg.SQLitePath = filepath.Join(t.TempDir(), "ledger.sqlite")
	cfg.DBOpTimeout = 5 * time.Second
	cfg.MetricsEnabled = true

	a, err := Build(ctx, cfg, zap.NewNop(), Options{Registerer: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer a.Close()

	if _, ok := a.Ledger.(*sqlstore.Store); !ok {
		t.Fatalf("ledger is %T, want *sqlstore.Store", a.Ledger)
	}

	req := httptest.NewRequest(http.MethodGet, "/health?verbose=true", nil)
	w := httptest.NewRecorder()
	a.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"ledger":"healthy"`) {
		t.Errorf("expected healthy ledger component, got %s", w.Body.String())
	}
}

func TestBuild_MissingCatalogFileFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.CatalogFile = filepath.Join(t.TempDir(), "missing.json")

	if _, err := Build(context.Background(), cfg, zap.NewNop(), Options{}); err == nil {
		t.Fatal("expected error for missing catalog file")
	}
}

func TestBuild_EmptyStaticCatalog(t *testing.T) {
	ctx := testutil.TestContext(t)
	cfg := testConfig(t)
	cfg.CatalogFile = ""

	a, err := Build(ctx, cfg, zap.NewNop(), Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer a.Close()

	postings, err := a.Catalog.ListOpenings(ctx, "", "")
	if err != nil || len(postings) != 0 {
		t.Errorf("expected empty catalog, got %d postings (%v)", len(postings), err)
	}
}
