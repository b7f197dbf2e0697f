// Package domain contains core domain types for the follow-up dispatcher.
package domain

import (
	"time"
)

// ContactRole is the track a contact is on.
type ContactRole string

const (
	RoleProspect ContactRole = "prospect"
	RoleClient   ContactRole = "client"
)

// NeverDispatched is the day offset of a contact that has received no
// day-offset step yet. It lets the day-0 step match.
const NeverDispatched = -1

// Contact is a prospect or client owned by exactly one agent.
type Contact struct {
	ID                      string      `json:"id"`
	OwnerID                 string      `json:"owner_id"`
	Role                    ContactRole `json:"role"`
	Status                  string      `json:"status"`
	JoinedAt                time.Time   `json:"joined_at"`
	LastDispatchedDayOffset int         `json:"last_dispatched_day_offset"`
	Name                    string      `json:"name"`
	Title                   string      `json:"title,omitempty"`
	Phone                   string      `json:"phone,omitempty"`
	Email                   string      `json:"email,omitempty"`
	Birthday                string      `json:"birthday,omitempty"`
}

// Track returns the sequence kind that day-offset steps must match.
// Anything that is not a client follows the prospect track.
func (c *Contact) Track() SequenceKind {
	if c.Role == RoleClient {
		return SequenceClient
	}
	return SequenceProspect
}

// Recipient returns the address used for ch, or "" when the contact has none.
func (c *Contact) Recipient(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return c.Email
	case ChannelSMS, ChannelWhatsApp:
		return c.Phone
	}
	return ""
}
