// Package profile holds the candidate profile the engine dispatches with.
package profile

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/yoanipalmas/App-ApplyBot/internal/domain"
)

// Store keeps the current profile. The engine takes a copy when automation
// starts, so Replace never affects a batch already in flight.
type Store struct {
	mu      sync.RWMutex
	current domain.Profile
}

func NewStore(p domain.Profile) *Store {
	return &Store{current: p}
}

// Get returns a copy of the current profile.
func (s *Store) Get() domain.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Replace swaps the stored profile. An incomplete profile is accepted here;
// it is rejected when dispatch is requested.
func (s *Store) Replace(p domain.Profile) {
	s.mu.Lock()
	s.current = p
	s.mu.Unlock()
}

// Source describes where the initial profile comes from.
type Source struct {
	ResumeRef       string
	CoverLetter     string
	CoverLetterFile string
	Keywords        string
	Location        string
}

// Load builds a profile from src. CoverLetterFile, when set, takes
// precedence over the inline CoverLetter.
func Load(src Source) (domain.Profile, error) {
	p := domain.Profile{
		ResumeRef:   strings.TrimSpace(src.ResumeRef),
		CoverLetter: src.CoverLetter,
		Keywords:    strings.TrimSpace(src.Keywords),
		Location:    strings.TrimSpace(src.Location),
	}
	if src.CoverLetterFile != "" {
		b, err := os.ReadFile(src.CoverLetterFile)
		if err != nil {
			return domain.Profile{}, fmt.Errorf("profile: read cover letter: %w", err)
		}
		p.CoverLetter = string(b)
	}
	return p, nil
}
