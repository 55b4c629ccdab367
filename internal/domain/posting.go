package domain

import "time"

// CompensationRange is the advertised pay band. Raw keeps the source text
// when the catalog could not split it into bounds.
type CompensationRange struct {
	Min      int64  `json:"min,omitempty"`
	Max      int64  `json:"max,omitempty"`
	Currency string `json:"currency,omitempty"`
	Raw      string `json:"raw,omitempty"`
}

// JobPosting is an open position produced by a catalog. The ID is stable
// across discovery calls.
type JobPosting struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Company      string            `json:"company"`
	Location     string            `json:"location"`
	Compensation CompensationRange `json:"compensation"`
	PostedAt     time.Time         `json:"posted_at"`
	URL          string            `json:"url,omitempty"`
}
