package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/followups/internal/delivery"
	"github.com/ashureev/followups/internal/domain"
	"github.com/ashureev/followups/internal/render"
	"github.com/ashureev/followups/internal/store"
)

// SendRequest is an interactive "send now" from an agent. Subject and Body
// are templates rendered against the contact when ContactID is set. To
// defaults to the contact's address for Channel.
type SendRequest struct {
	AgentID   string         `json:"agentId"`
	ContactID string         `json:"contactId,omitempty"`
	Channel   domain.Channel `json:"channel"`
	To        string         `json:"to,omitempty"`
	Subject   string         `json:"subject,omitempty"`
	Body      string         `json:"body"`
}

// SendResult describes a delivered interactive message.
type SendResult struct {
	Channel    domain.Channel `json:"channel"`
	To         string         `json:"to"`
	Attempts   int            `json:"attempts"`
	StatusCode int            `json:"statusCode"`
}

// SendNow delivers one message synchronously on behalf of an agent. The
// agent's monthly quota is checked against the ledger. Delivery failures
// are returned as *delivery.Error so callers can tell client errors
// (ErrClient) from transient ones (ErrTransient).
func (d *Dispatcher) SendNow(ctx context.Context, req SendRequest) (*SendResult, error) {
	agents, err := d.store.ListAgents(ctx, []string{req.AgentID})
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}
	if len(agents) == 0 {
		return nil, ErrAgentNotFound
	}
	agent := agents[0]

	var contact *domain.Contact
	if req.ContactID != "" {
		contacts, err := d.store.ListContacts(ctx, store.ContactFilter{ContactID: req.ContactID})
		if err != nil {
			return nil, fmt.Errorf("load contact: %w", err)
		}
		if len(contacts) == 0 || contacts[0].OwnerID != agent.ID {
			return nil, ErrContactNotFound
		}
		contact = contacts[0]
	}

	to := req.To
	if to == "" && contact != nil {
		to = contact.Recipient(req.Channel)
	}
	if to == "" {
		return nil, ErrNoRecipient
	}

	if !agent.Unrestricted() {
		used, err := d.store.CountSince(ctx, agent.ID, domain.FirstOfMonth(d.now()))
		if err != nil {
			return nil, fmt.Errorf("count usage: %w", err)
		}
		if used >= agent.EffectiveLimit(d.defaultLimit) {
			return nil, ErrQuotaExceeded
		}
	}

	msg := delivery.Message{
		Channel: req.Channel,
		To:      to,
		Subject: render.Render(req.Subject, contact, agent),
		Body:    render.Body(req.Channel, req.Body, contact, agent),
		ReplyTo: agent.Email,
	}
	res, err := d.deliver(ctx, msg, domain.Outcome{ContactID: req.ContactID})
	if err != nil {
		d.logger.Warn("Interactive send failed",
			"agent_id", agent.ID,
			"contact_id", req.ContactID,
			"channel", req.Channel,
			"retryable", errors.Is(err, delivery.ErrTransient),
			"error", err)
		return nil, err
	}

	if err := d.store.Append(context.WithoutCancel(ctx), d.usageRecord(agent.ID, msg)); err != nil {
		d.logger.Error("Failed to record usage", "agent_id", agent.ID, "error", err)
	}
	d.logger.Info("Interactive send delivered",
		"agent_id", agent.ID,
		"contact_id", req.ContactID,
		"channel", req.Channel,
		"attempts", res.Attempts)
	return &SendResult{Channel: req.Channel, To: to, Attempts: res.Attempts, StatusCode: res.StatusCode}, nil
}
