package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/yoanipalmas/App-ApplyBot/internal/domain"
)

const maxFeedBody = 8 << 20

// HTTPFeed fetches postings from a JSON endpoint. The endpoint receives the
// search terms as keywords and location query parameters; results are
// filtered again locally in case the feed ignores them.
type HTTPFeed struct {
	url    string
	client *http.Client
}

func NewHTTPFeed(feedURL string, timeout time.Duration) *HTTPFeed {
	return &HTTPFeed{
		url:    feedURL,
		client: &http.Client{Timeout: timeout},
	}
}

// WithClient replaces the HTTP client.
func (f *HTTPFeed) WithClient(c *http.Client) *HTTPFeed {
	f.client = c
	return f
}

func (f *HTTPFeed) ListOpenings(ctx context.Context, keywords, location string) ([]domain.JobPosting, error) {
	u, err := url.Parse(f.url)
	if err != nil {
		return nil, fmt.Errorf("catalog: feed url: %w", err)
	}
	q := u.Query()
	if keywords != "" {
		q.Set("keywords", keywords)
	}
	if location != "" {
		q.Set("location", location)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "applybot/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog: fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("catalog: feed returned HTTP %d", resp.StatusCode)
	}

	var postings []domain.JobPosting
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxFeedBody)).Decode(&postings); err != nil {
		return nil, fmt.Errorf("catalog: decode feed: %w", err)
	}
	return Filter(postings, keywords, location), nil
}
