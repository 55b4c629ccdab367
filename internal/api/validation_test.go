package api

import (
	"strings"
	"testing"

	"github.com/yoanipalmas/App-ApplyBot/internal/domain"
)

func TestValidateProfile(t *testing.T) {
	tests := []struct {
		name    string
		req     ProfileRequest
		wantErr string
	}{
		{"complete profile", ProfileRequest{ResumeRef: "cv.pdf", Keywords: "go developer", Location: "Remote"}, ""},
		{"blank resume accepted", ProfileRequest{Keywords: "go"}, ""},
		{"resume too long", ProfileRequest{ResumeRef: strings.Repeat("r", maxResumeRefLength+1)}, "resume_ref exceeds"},
		{"cover letter too long", ProfileRequest{CoverLetter: strings.Repeat("c", maxCoverLetterLength+1)}, "cover_letter exceeds"},
		{"keywords too long", ProfileRequest{Keywords: strings.Repeat("k", maxSearchLength+1)}, "keywords exceeds"},
		{"location too long", ProfileRequest{Location: strings.Repeat("l", maxSearchLength+1)}, "location exceeds"},
		{"multibyte counted by rune", ProfileRequest{Location: strings.Repeat("é", maxSearchLength)}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateProfile(tt.req)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateStatusUpdate(t *testing.T) {
	tests := []struct {
		status  string
		want    domain.ApplicationStatus
		wantErr string
	}{
		{"interviewing", domain.StatusInterviewing, ""},
		{"Rejected", domain.StatusRejected, ""},
		{" accepted ", domain.StatusAccepted, ""},
		{"", "", "status is required"},
		{"applied", "", "cannot be set externally"},
		{"submitting", "", "cannot be set externally"},
		{"ghosted", "", "unknown status"},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			got, err := validateStatusUpdate(StatusUpdateRequest{Status: tt.status})
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("status = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateJobID(t *testing.T) {
	if err := validateJobID("greenhouse-123"); err != nil {
		t.Errorf("valid id rejected: %v", err)
	}
	if err := validateJobID("  "); err == nil {
		t.Error("blank id should be rejected")
	}
	if err := validateJobID(strings.Repeat("x", maxJobIDLength+1)); err == nil {
		t.Error("oversized id should be rejected")
	}
}
