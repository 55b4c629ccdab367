package observers

import (
	"context"
	"fmt"
	"sync"

	gnt "github.com/dstotijn/go-notion"
	"go.uber.org/zap"

	"github.com/yoanipalmas/App-ApplyBot/internal/domain"
)

// NotionAPI is the part of *notion.Client the tracker sync uses.
type NotionAPI interface {
	CreatePage(ctx context.Context, params gnt.CreatePageParams) (gnt.Page, error)
	UpdatePage(ctx context.Context, pageID string, params gnt.UpdatePageParams) (gnt.Page, error)
}

// NotionSync mirrors applications into a Notion tracker database: a page is
// created when a job is applied and its Stage follows later status changes.
type NotionSync struct {
	api        NotionAPI
	databaseID string
	logger     *zap.Logger

	mu    sync.Mutex
	pages map[string]string // job id -> page id
}

func NewNotionSync(token, databaseID string, logger *zap.Logger) *NotionSync {
	return newNotionSync(gnt.NewClient(token), databaseID, logger)
}

func newNotionSync(api NotionAPI, databaseID string, logger *zap.Logger) *NotionSync {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotionSync{
		api:        api,
		databaseID: databaseID,
		logger:     logger,
		pages:      make(map[string]string),
	}
}

func (n *NotionSync) Name() string { return "notion" }

func (n *NotionSync) Handle(ctx context.Context, event domain.Event) error {
	switch {
	case event.Kind == domain.EventJobProcessed && event.Outcome == domain.OutcomeApplied:
		return n.upsert(ctx, event, domain.StatusApplied)
	case event.Kind == domain.EventStatusChanged:
		return n.upsert(ctx, event, event.Status)
	default:
		return nil
	}
}

func (n *NotionSync) upsert(ctx context.Context, event domain.Event, status domain.ApplicationStatus) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	props := pageProperties(event, status)

	if pageID, ok := n.pages[event.JobID]; ok {
		if _, err := n.api.UpdatePage(ctx, pageID, gnt.UpdatePageParams{DatabasePageProperties: props}); err != nil {
			return fmt.Errorf("update notion page for %s: %w", event.JobID, err)
		}
		n.logger.Debug("notion: page updated", zap.String("job_id", event.JobID), zap.String("stage", string(status)))
		return nil
	}

	page, err := n.api.CreatePage(ctx, gnt.CreatePageParams{
		ParentType:             gnt.ParentTypeDatabase,
		ParentID:               n.databaseID,
		DatabasePageProperties: &props,
	})
	if err != nil {
		return fmt.Errorf("create notion page for %s: %w", event.JobID, err)
	}
	n.pages[event.JobID] = page.ID
	n.logger.Debug("notion: page created", zap.String("job_id", event.JobID), zap.String("page_id", page.ID))
	return nil
}

func richText(s string) []gnt.RichText {
	if s == "" {
		return nil
	}
	return []gnt.RichText{{Text: &gnt.Text{Content: s}}}
}

// pageProperties builds the tracker row. Position is the title property.
func pageProperties(event domain.Event, status domain.ApplicationStatus) gnt.DatabasePageProperties {
	props := gnt.DatabasePageProperties{
		"Job ID": gnt.DatabasePageProperty{RichText: richText(event.JobID)},
		"Stage":  gnt.DatabasePageProperty{Select: &gnt.SelectOptions{Name: string(status)}},
	}

	if event.Title != "" {
		props["Position"] = gnt.DatabasePageProperty{Title: richText(event.Title)}
	}
	if event.Company != "" {
		props["Company"] = gnt.DatabasePageProperty{RichText: richText(event.Company)}
	}
	if status == domain.StatusApplied && !event.Timestamp.IsZero() {
		props["Applied"] = gnt.DatabasePageProperty{
			Date: &gnt.Date{Start: gnt.NewDateTime(event.Timestamp, true)},
		}
	}
	return props
}
