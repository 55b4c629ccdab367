package api

import (
	"time"

	"github.com/yoanipalmas/App-ApplyBot/internal/domain"
)

type ProfileRequest struct {
	ResumeRef   string `json:"resume_ref"`
	CoverLetter string `json:"cover_letter"`
	Keywords    string `json:"keywords"`
	Location    string `json:"location"`
}

type ProfileResponse struct {
	ResumeRef   string `json:"resume_ref"`
	CoverLetter string `json:"cover_letter"`
	Keywords    string `json:"keywords"`
	Location    string `json:"location"`
	Complete    bool   `json:"complete"`
}

type StatusUpdateRequest struct {
	Status string `json:"status"`
}

type ApplicationResponse struct {
	JobID         string `json:"job_id"`
	Status        string `json:"status"`
	Title         string `json:"title,omitempty"`
	Company       string `json:"company,omitempty"`
	Attempts      int    `json:"attempts"`
	LastError     string `json:"last_error,omitempty"`
	SubmittedAt   string `json:"submitted_at,omitempty"`
	LastAttemptAt string `json:"last_attempt_at,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

type AttemptResponse struct {
	ID         string `json:"id"`
	RunID      string `json:"run_id"`
	Trigger    string `json:"trigger"`
	Outcome    string `json:"outcome,omitempty"`
	Error      string `json:"error,omitempty"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
}

type ApplicationDetailResponse struct {
	ApplicationResponse
	History []AttemptResponse `json:"history"`
}

type ListApplicationsResponse struct {
	Applications []ApplicationResponse `json:"applications"`
}

// JobResponse is a catalog posting with its ledger status overlaid.
// Jobs never dispatched report "pending".
type JobResponse struct {
	domain.JobPosting
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
}

type ListJobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type StatsResponse struct {
	domain.Stats
	// Today holds the analytics counters for the current UTC day, when
	// analytics is enabled.
	Today map[string]int64 `json:"today,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func toApplicationResponse(rec domain.ApplicationRecord) ApplicationResponse {
	return ApplicationResponse{
		JobID:         rec.JobID,
		Status:        string(rec.Status),
		Title:         rec.Title,
		Company:       rec.Company,
		Attempts:      rec.Attempts,
		LastError:     rec.LastError,
		SubmittedAt:   formatTimePtr(rec.SubmittedAt),
		LastAttemptAt: formatTimePtr(rec.LastAttemptAt),
		CreatedAt:     formatTime(rec.CreatedAt),
		UpdatedAt:     formatTime(rec.UpdatedAt),
	}
}

func toAttemptResponse(a domain.AttemptRecord) AttemptResponse {
	return AttemptResponse{
		ID:         a.ID.String(),
		RunID:      a.RunID.String(),
		Trigger:    string(a.Trigger),
		Outcome:    string(a.Outcome),
		Error:      a.Error,
		StartedAt:  formatTime(a.StartedAt),
		FinishedAt: formatTimePtr(a.FinishedAt),
	}
}

func toProfileResponse(p domain.Profile) ProfileResponse {
	return ProfileResponse{
		ResumeRef:   p.ResumeRef,
		CoverLetter: p.CoverLetter,
		Keywords:    p.Keywords,
		Location:    p.Location,
		Complete:    p.Validate() == nil,
	}
}
