package domain

import "time"

// AgentRole controls whether the monthly quota applies.
type AgentRole string

const (
	AgentRoleAgent    AgentRole = "agent"
	AgentRoleOperator AgentRole = "operator"
)

// Agent identifies a sender and its quota ceiling.
type Agent struct {
	ID                  string    `json:"id" yaml:"id"`
	Role                AgentRole `json:"role" yaml:"role"`
	MonthlyMessageLimit int       `json:"monthly_message_limit" yaml:"monthly_message_limit"`
	FullName            string    `json:"full_name" yaml:"full_name"`
	Email               string    `json:"email,omitempty" yaml:"email,omitempty"`
	Phone               string    `json:"phone,omitempty" yaml:"phone,omitempty"`
	AgencyName          string    `json:"agency_name,omitempty" yaml:"agency_name,omitempty"`
	LicenseNo           string    `json:"license_no,omitempty" yaml:"license_no,omitempty"`
	Bio                 string    `json:"bio,omitempty" yaml:"bio,omitempty"`
}

// Unrestricted returns true for operators, who bypass the quota.
func (a *Agent) Unrestricted() bool {
	return a.Role == AgentRoleOperator
}

// EffectiveLimit returns the monthly limit, or fallback when unset.
func (a *Agent) EffectiveLimit(fallback int) int {
	if a.MonthlyMessageLimit <= 0 {
		return fallback
	}
	return a.MonthlyMessageLimit
}

// UsageRecord is one successfully sent message.
type UsageRecord struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Channel   Channel   `json:"channel"`
	Recipient string    `json:"recipient"`
	Snippet   string    `json:"snippet"`
	SentAt    time.Time `json:"sent_at"`
}

// FirstOfMonth returns midnight UTC on the first day of t's month.
func FirstOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
