package dispatch

import (
	"time"

	"github.com/ashureev/followups/internal/domain"
)

// Report summarizes one pass.
type Report struct {
	RunID          string                     `json:"runId"`
	ContactID      string                     `json:"contactId,omitempty"`
	StartedAt      time.Time                  `json:"startedAt"`
	FinishedAt     time.Time                  `json:"finishedAt"`
	ProcessedCount int                        `json:"processedCount"`
	Counts         map[domain.OutcomeKind]int `json:"counts"`
	Details        []domain.Outcome           `json:"details"`
}

func newReport(runID, contactID string, started time.Time) *Report {
	return &Report{
		RunID:     runID,
		ContactID: contactID,
		StartedAt: started,
		Counts:    make(map[domain.OutcomeKind]int),
		Details:   []domain.Outcome{},
	}
}

func (r *Report) add(outcomes []domain.Outcome) {
	for _, o := range outcomes {
		r.Counts[o.Kind]++
		r.Details = append(r.Details, o)
	}
}

// Duration returns how long the pass took.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
