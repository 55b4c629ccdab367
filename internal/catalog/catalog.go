// Package catalog provides job postings to the dispatch engine.
package catalog

import (
	"context"
	"strings"

	"github.com/yoanipalmas/App-ApplyBot/internal/domain"
)

// Catalog lists open postings matching a profile's search terms.
type Catalog interface {
	ListOpenings(ctx context.Context, keywords, location string) ([]domain.JobPosting, error)
}

// Matches reports whether p fits the search. Empty keywords match every
// posting; otherwise at least one keyword must appear in the title or
// company. Location matches when empty, equal, contained, or the posting is
// remote.
func Matches(p domain.JobPosting, keywords, location string) bool {
	return matchKeywords(p, keywords) && matchLocation(p.Location, location)
}

func matchKeywords(p domain.JobPosting, keywords string) bool {
	tokens := strings.Fields(strings.ToLower(keywords))
	if len(tokens) == 0 {
		return true
	}
	haystack := strings.ToLower(p.Title + " " + p.Company)
	for _, tok := range tokens {
		if strings.Contains(haystack, tok) {
			return true
		}
	}
	return false
}

func matchLocation(posting, wanted string) bool {
	wanted = strings.ToLower(strings.TrimSpace(wanted))
	if wanted == "" {
		return true
	}
	posting = strings.ToLower(strings.TrimSpace(posting))
	return posting == wanted || strings.Contains(posting, wanted) || posting == "remote"
}

// Filter returns the postings that match, preserving order.
func Filter(postings []domain.JobPosting, keywords, location string) []domain.JobPosting {
	out := make([]domain.JobPosting, 0, len(postings))
	for _, p := range postings {
		if Matches(p, keywords, location) {
			out = append(out, p)
		}
	}
	return out
}
