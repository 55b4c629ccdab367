package domain

import "strings"

// Profile is the candidate bundle a dispatch run applies with.
// It is treated as immutable for the lifetime of a run.
type Profile struct {
	ResumeRef   string // opaque handle to the uploaded résumé
	CoverLetter string
	Keywords    string
	Location    string
}

// Validate reports ErrMissingCredential when no résumé is attached.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.ResumeRef) == "" {
		return ErrMissingCredential
	}
	return nil
}
