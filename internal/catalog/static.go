package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/yoanipalmas/App-ApplyBot/internal/domain"
)

// Static serves a fixed set of postings, usually loaded from a JSON file.
type Static struct {
	mu       sync.RWMutex
	postings []domain.JobPosting
}

func NewStatic(postings []domain.JobPosting) *Static {
	return &Static{postings: append([]domain.JobPosting(nil), postings...)}
}

// LoadFile reads a JSON array of postings.
func LoadFile(path string) (*Static, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var postings []domain.JobPosting
	if err := json.Unmarshal(b, &postings); err != nil {
		return nil, fmt.Errorf("catalog: decode %s: %w", path, err)
	}
	return NewStatic(postings), nil
}

// Replace swaps the posting set.
func (s *Static) Replace(postings []domain.JobPosting) {
	s.mu.Lock()
	s.postings = append([]domain.JobPosting(nil), postings...)
	s.mu.Unlock()
}

func (s *Static) ListOpenings(ctx context.Context, keywords, location string) ([]domain.JobPosting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Filter(s.postings, keywords, location), nil
}
