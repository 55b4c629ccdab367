package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/yoanipalmas/App-ApplyBot/internal/domain"
)

const DefaultSnapshotSize = 500

// Subscriber is the part of *nats.Conn the feed needs.
type Subscriber interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// NATSFeed keeps the most recent postings published on a subject. Each
// message carries one JSON-encoded domain.JobPosting; a posting with a known
// id replaces the earlier one.
type NATSFeed struct {
	subject string
	max     int
	logger  *zap.Logger

	mu    sync.RWMutex
	order []string
	byID  map[string]domain.JobPosting

	sub *nats.Subscription
}

func NewNATSFeed(subject string, maxPostings int, logger *zap.Logger) *NATSFeed {
	if maxPostings <= 0 {
		maxPostings = DefaultSnapshotSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSFeed{
		subject: subject,
		max:     maxPostings,
		logger:  logger,
		byID:    make(map[string]domain.JobPosting),
	}
}

// Subscribe starts receiving postings.
func (f *NATSFeed) Subscribe(nc Subscriber) error {
	sub, err := nc.Subscribe(f.subject, f.handleMsg)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", f.subject, err)
	}
	f.sub = sub
	f.logger.Info("catalog: subscribed to postings", zap.String("subject", f.subject))
	return nil
}

// Close unsubscribes. The snapshot stays readable.
func (f *NATSFeed) Close() error {
	if f.sub == nil {
		return nil
	}
	return f.sub.Unsubscribe()
}

func (f *NATSFeed) handleMsg(msg *nats.Msg) {
	var p domain.JobPosting
	if err := json.Unmarshal(msg.Data, &p); err != nil {
		f.logger.Warn("catalog: dropping malformed posting",
			zap.String("subject", msg.Subject),
			zap.Error(err))
		return
	}
	if p.ID == "" {
		f.logger.Warn("catalog: dropping posting without id", zap.String("subject", msg.Subject))
		return
	}
	f.add(p)
}

func (f *NATSFeed) add(p domain.JobPosting) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.byID[p.ID]; ok {
		f.byID[p.ID] = p
		return
	}
	f.byID[p.ID] = p
	f.order = append(f.order, p.ID)
	for len(f.order) > f.max {
		oldest := f.order[0]
		f.order = f.order[1:]
		delete(f.byID, oldest)
	}
}

// Len returns the number of postings held.
func (f *NATSFeed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.byID)
}

func (f *NATSFeed) ListOpenings(ctx context.Context, keywords, location string) ([]domain.JobPosting, error) {
	f.mu.RLock()
	postings := make([]domain.JobPosting, 0, len(f.order))
	for _, id := range f.order {
		postings = append(postings, f.byID[id])
	}
	f.mu.RUnlock()
	return Filter(postings, keywords, location), nil
}
