package observers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	gnt "github.com/dstotijn/go-notion"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yoanipalmas/App-ApplyBot/internal/domain"
)

var ts = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func appliedEvent(jobID string) domain.Event {
	return domain.Event{
		Kind:      domain.EventJobProcessed,
		RunID:     uuid.New(),
		Trigger:   domain.TriggerScheduled,
		JobID:     jobID,
		Title:     "Junior Developer",
		Company:   "Acme",
		Outcome:   domain.OutcomeApplied,
		Timestamp: ts,
	}
}

func TestLogSink_LevelsByOutcome(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	s := NewLogSink(zap.New(core))

	s.Handle(context.Background(), appliedEvent("job-1"))
	failed := appliedEvent("job-2")
	failed.Outcome = domain.OutcomeFailed
	failed.Error = "boom"
	s.Handle(context.Background(), failed)

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zap.InfoLevel || entries[1].Level != zap.WarnLevel {
		t.Errorf("levels = %v, %v", entries[0].Level, entries[1].Level)
	}
	if entries[1].ContextMap()["error"] != "boom" {
		t.Errorf("error field missing: %v", entries[1].ContextMap())
	}
}

type mockPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
}

func (m *mockPublisher) Publish(subject string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.subjects = append(m.subjects, subject)
	m.payloads = append(m.payloads, data)
	return nil
}

func TestNATSPublisher_PublishesPerKindSubject(t *testing.T) {
	pub := &mockPublisher{}
	p := NewNATSPublisher(pub, "", nil)

	if err := p.Handle(context.Background(), appliedEvent("job-1")); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(pub.subjects) != 1 || pub.subjects[0] != "applybot.events.job_processed" {
		t.Fatalf("subjects = %v", pub.subjects)
	}
	var got domain.Event
	if err := json.Unmarshal(pub.payloads[0], &got); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if got.JobID != "job-1" || got.Outcome != domain.OutcomeApplied {
		t.Errorf("payload = %+v", got)
	}
}

func TestNATSPublisher_Error(t *testing.T) {
	p := NewNATSPublisher(&mockPublisher{err: errors.New("nats: connection closed")}, "x", nil)
	if err := p.Handle(context.Background(), appliedEvent("job-1")); err == nil {
		t.Fatal("expected publish error")
	}
}

type mockExecer struct {
	mu      sync.Mutex
	queries []string
	args    [][]any
}

func (m *mockExecer) Exec(ctx context.Context, query string, args ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, query)
	m.args = append(m.args, args)
	return nil
}

func TestClickHouseArchive_InsertsRow(t *testing.T) {
	exec := &mockExecer{}
	a := NewClickHouseArchive(exec, nil)

	if err := a.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	ev := domain.Event{
		Kind:      domain.EventBatchFinished,
		RunID:     uuid.New(),
		Trigger:   domain.TriggerManual,
		Result:    &domain.BatchResult{Attempted: 3, Succeeded: 2, Failed: 1, RateLimited: true},
		Timestamp: ts,
	}
	if err := a.Handle(context.Background(), ev); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(exec.queries) != 2 || !strings.Contains(exec.queries[0], "CREATE TABLE") {
		t.Fatalf("queries = %v", exec.queries)
	}
	row := exec.args[1]
	if placeholders := strings.Count(insertEvent, "?"); len(row) != placeholders {
		t.Fatalf("row has %d values for %d placeholders", len(row), placeholders)
	}
	if row[0] != "batch_finished" || row[9] != uint32(3) || row[13] != uint8(1) || row[14] != uint8(0) {
		t.Errorf("row = %v", row)
	}
}

type mockNotion struct {
	mu      sync.Mutex
	created []gnt.CreatePageParams
	updated map[string]gnt.UpdatePageParams
}

func (m *mockNotion) CreatePage(ctx context.Context, params gnt.CreatePageParams) (gnt.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, params)
	return gnt.Page{ID: "page-" + (*params.DatabasePageProperties)["Job ID"].RichText[0].Text.Content}, nil
}

func (m *mockNotion) UpdatePage(ctx context.Context, pageID string, params gnt.UpdatePageParams) (gnt.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updated == nil {
		m.updated = make(map[string]gnt.UpdatePageParams)
	}
	m.updated[pageID] = params
	return gnt.Page{ID: pageID}, nil
}

func TestNotionSync_CreatesThenUpdates(t *testing.T) {
	api := &mockNotion{}
	n := newNotionSync(api, "db-1", nil)

	if err := n.Handle(context.Background(), appliedEvent("job-1")); err != nil {
		t.Fatalf("applied: %v", err)
	}
	failed := appliedEvent("job-2")
	failed.Outcome = domain.OutcomeFailed
	n.Handle(context.Background(), failed)

	if len(api.created) != 1 {
		t.Fatalf("expected one page for the applied job, got %d", len(api.created))
	}
	if api.created[0].ParentID != "db-1" {
		t.Errorf("ParentID = %q", api.created[0].ParentID)
	}
	props := *api.created[0].DatabasePageProperties
	if props["Stage"].Select.Name != "applied" || props["Position"].Title[0].Text.Content != "Junior Developer" {
		t.Errorf("unexpected properties: %+v", props)
	}

	change := domain.Event{Kind: domain.EventStatusChanged, JobID: "job-1", Status: domain.StatusInterviewing, Timestamp: ts}
	if err := n.Handle(context.Background(), change); err != nil {
		t.Fatalf("status change: %v", err)
	}
	upd, ok := api.updated["page-job-1"]
	if !ok {
		t.Fatalf("page not updated: %v", api.updated)
	}
	if upd.DatabasePageProperties["Stage"].Select.Name != "interviewing" {
		t.Errorf("stage = %+v", upd.DatabasePageProperties["Stage"])
	}
	if _, ok := upd.DatabasePageProperties["Applied"]; ok {
		t.Error("applied date should only be set on the applied transition")
	}
}

func TestPageProperties_OmitsEmpty(t *testing.T) {
	props := pageProperties(domain.Event{JobID: "job-9"}, domain.StatusRejected)
	for _, key := range []string{"Position", "Company", "Applied"} {
		if _, ok := props[key]; ok {
			t.Errorf("%s should be omitted", key)
		}
	}
}
