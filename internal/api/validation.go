package api

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/yoanipalmas/App-ApplyBot/internal/domain"
)

const (
	maxResumeRefLength   = 512
	maxCoverLetterLength = 20000
	maxSearchLength      = 256
	maxJobIDLength       = 256
)

// validateProfile checks field sizes only. A blank resume is accepted and
// rejected later when dispatch is requested.
func validateProfile(req ProfileRequest) error {
	if utf8.RuneCountInString(req.ResumeRef) > maxResumeRefLength {
		return fmt.Errorf("resume_ref exceeds %d characters", maxResumeRefLength)
	}
	if utf8.RuneCountInString(req.CoverLetter) > maxCoverLetterLength {
		return fmt.Errorf("cover_letter exceeds %d characters", maxCoverLetterLength)
	}
	if utf8.RuneCountInString(req.Keywords) > maxSearchLength {
		return fmt.Errorf("keywords exceeds %d characters", maxSearchLength)
	}
	if utf8.RuneCountInString(req.Location) > maxSearchLength {
		return fmt.Errorf("location exceeds %d characters", maxSearchLength)
	}
	return nil
}

// validateStatusUpdate accepts only the statuses an external update may
// set. Whether the move is legal from the current status is decided by the
// ledger.
func validateStatusUpdate(req StatusUpdateRequest) (domain.ApplicationStatus, error) {
	if req.Status == "" {
		return "", fmt.Errorf("status is required")
	}
	to := domain.ApplicationStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	switch to {
	case domain.StatusInterviewing, domain.StatusRejected, domain.StatusAccepted:
		return to, nil
	}
	if to.Valid() {
		return "", fmt.Errorf("status %q cannot be set externally", to)
	}
	return "", fmt.Errorf("unknown status %q", req.Status)
}

func validateJobID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("job id is required")
	}
	if len(id) > maxJobIDLength {
		return fmt.Errorf("job id exceeds %d bytes", maxJobIDLength)
	}
	return nil
}
