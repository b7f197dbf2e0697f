package domain

// OutcomeKind classifies what happened to one (contact, step) pair.
type OutcomeKind string

const (
	OutcomeSent               OutcomeKind = "sent"
	OutcomeSkippedQuota       OutcomeKind = "skipped_quota"
	OutcomeSkippedAlreadySent OutcomeKind = "skipped_already_sent"
	OutcomeSkippedNoAgent     OutcomeKind = "skipped_no_agent"
	OutcomeFailed             OutcomeKind = "failed"
)

// Outcome is the transient per-item result reported by a dispatch pass.
type Outcome struct {
	ContactID string      `json:"contact_id"`
	AgentID   string      `json:"agent_id,omitempty"`
	StepID    string      `json:"step_id,omitempty"`
	Slot      string      `json:"slot,omitempty"`
	Channel   Channel     `json:"channel,omitempty"`
	Kind      OutcomeKind `json:"outcome"`
	Reason    string      `json:"reason,omitempty"`
	Attempts  int         `json:"attempts,omitempty"`
}
