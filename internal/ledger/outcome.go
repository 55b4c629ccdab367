package ledger

import (
	"math"
	"time"

	"github.com/yoanipalmas/App-ApplyBot/internal/domain"
)

// InterruptedError is the LastError written when a stale submission is recovered.
const InterruptedError = "submission interrupted before an outcome was recorded"

// TargetStatus maps an attempt outcome to the status the record moves to.
func TargetStatus(outcome domain.AttemptOutcome) domain.ApplicationStatus {
	if outcome == domain.OutcomeApplied {
		return domain.StatusApplied
	}
	return domain.StatusFailed
}

// ApplyOutcome writes a dispatch or recovery result onto rec.
func ApplyOutcome(rec *domain.ApplicationRecord, to domain.ApplicationStatus, errMsg string, at time.Time) {
	rec.Status = to
	rec.UpdatedAt = at
	if to == domain.StatusApplied {
		submittedAt := at
		rec.SubmittedAt = &submittedAt
		rec.LastError = ""
		return
	}
	rec.LastError = errMsg
}

// statusCounts accumulates ledger counts for Stats. It is shared with the
// SQL store so both report the same numbers.
type statusCounts struct {
	applied      int
	interviewing int
	rejected     int
	accepted     int
	failed       int
	window       int
}

func (c *statusCounts) add(s domain.ApplicationStatus, n int) {
	switch s {
	case domain.StatusApplied:
		c.applied += n
	case domain.StatusInterviewing:
		c.interviewing += n
	case domain.StatusRejected:
		c.rejected += n
	case domain.StatusAccepted:
		c.accepted += n
	case domain.StatusFailed:
		c.failed += n
	}
}

func (c statusCounts) stats() domain.Stats {
	total := c.applied + c.interviewing + c.rejected + c.accepted
	s := domain.Stats{
		TotalApplications:  total,
		WindowApplications: c.window,
		Interviews:         c.interviewing + c.accepted,
		Failed:             c.failed,
	}
	if total > 0 {
		rate := float64(c.interviewing+c.accepted) / float64(total) * 100
		s.SuccessRate = math.Round(rate*10) / 10
	}
	return s
}

// StatsFromCounts builds Stats from per-status counts and the window attempt
// count.
func StatsFromCounts(byStatus map[domain.ApplicationStatus]int, window int) domain.Stats {
	var c statusCounts
	for status, n := range byStatus {
		c.add(status, n)
	}
	c.window = window
	return c.stats()
}
