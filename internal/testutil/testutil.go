// Package testutil provides shared test helpers for applybot.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/yoanipalmas/App-ApplyBot/internal/domain"
)

// FakeClock provides deterministic time for testing.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{current: t}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// TestContext returns a context with a 5-second timeout, cancelled when the
// test completes.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// Postings returns n postings with ids job-1..job-n. job-1 is the newest;
// each following posting is one hour older than the previous.
func Postings(n int, newest time.Time) []domain.JobPosting {
	out := make([]domain.JobPosting, n)
	for i := range out {
		out[i] = domain.JobPosting{
			ID:       fmt.Sprintf("job-%d", i+1),
			Title:    "Junior Developer",
			Company:  fmt.Sprintf("Company %d", i+1),
			Location: "Remote",
			PostedAt: newest.Add(-time.Duration(i) * time.Hour),
		}
	}
	return out
}

// Eventually polls cond every 5ms until it returns true or timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %s", timeout, msg)
}
