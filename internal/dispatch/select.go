package dispatch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/yoanipalmas/App-ApplyBot/internal/domain"
)

// SelectCandidates returns up to limit postings that may be submitted now,
// newest first.
func (e *Engine) SelectCandidates(ctx context.Context, postings []domain.JobPosting, limit int) ([]domain.JobPosting, error) {
	if limit <= 0 || len(postings) == 0 {
		return []domain.JobPosting{}, nil
	}

	ids := make([]string, 0, len(postings))
	for _, p := range postings {
		ids = append(ids, p.ID)
	}
	records, err := e.ledger.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load ledger records: %w", err)
	}
	return selectCandidates(postings, records, limit, e.config.retryPolicy(), e.clock()), nil
}

func selectCandidates(postings []domain.JobPosting, records map[string]domain.ApplicationRecord, limit int, policy retryPolicy, now time.Time) []domain.JobPosting {
	if limit <= 0 {
		return []domain.JobPosting{}
	}

	newest := make(map[string]domain.JobPosting, len(postings))
	for _, p := range postings {
		if cur, ok := newest[p.ID]; ok && !p.PostedAt.After(cur.PostedAt) {
			continue
		}
		newest[p.ID] = p
	}

	out := make([]domain.JobPosting, 0, len(newest))
	for id, p := range newest {
		rec, found := records[id]
		if policy.eligible(rec, found, now) {
			out = append(out, p)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].PostedAt.Equal(out[j].PostedAt) {
			return out[i].PostedAt.After(out[j].PostedAt)
		}
		return out[i].ID < out[j].ID
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
