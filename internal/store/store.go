// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/followups/internal/domain"
)

var (
	// ErrNotFound is returned when a single-record lookup has no match.
	ErrNotFound = errors.New("store: not found")
	// ErrStaleOffset is returned when a day-offset update would move the
	// contact's offset backwards or leave it unchanged.
	ErrStaleOffset = errors.New("store: last dispatched day offset is already at or past the new value")
	// ErrSlotTaken is returned when an owner already has a definition in the slot.
	ErrSlotTaken = errors.New("store: step slot already taken for owner")
)

// ContactFilter narrows ListContacts.
type ContactFilter struct {
	// ExcludeStatuses drops contacts in terminal or lapsed states.
	ExcludeStatuses []string
	// ContactID scopes the result to one contact when non-empty.
	ContactID string
}

// ContactStore reads contacts and advances their dispatch state.
type ContactStore interface {
	ListContacts(ctx context.Context, filter ContactFilter) ([]*domain.Contact, error)

	// UpdateLastDispatchedDayOffset moves the offset forward. It returns
	// ErrStaleOffset if the stored offset is already >= offset and
	// ErrNotFound if the contact does not exist.
	UpdateLastDispatchedDayOffset(ctx context.Context, contactID string, offset int) error

	UpsertContact(ctx context.Context, c *domain.Contact) error
}

// StepStore reads and edits step definitions.
type StepStore interface {
	// ListActiveSteps returns active definitions of every owner.
	ListActiveSteps(ctx context.Context) ([]domain.StepDefinition, error)

	// ListSteps returns all definitions, inactive ones included.
	ListSteps(ctx context.Context) ([]domain.StepDefinition, error)

	GetStep(ctx context.Context, id string) (*domain.StepDefinition, error)

	// UpsertStep inserts or updates by id. It returns ErrSlotTaken when
	// another definition of the same owner already occupies the slot.
	UpsertStep(ctx context.Context, step *domain.StepDefinition) error

	DeleteStep(ctx context.Context, id string) error
}

// AgentStore reads agent profiles and plans.
type AgentStore interface {
	// ListAgents returns the agents among ids that exist. Missing ids are
	// silently absent from the result.
	ListAgents(ctx context.Context, ids []string) ([]*domain.Agent, error)

	UpsertAgent(ctx context.Context, a *domain.Agent) error
}

// UsageLedger is the append-only log of sent messages.
type UsageLedger interface {
	CountSince(ctx context.Context, agentID string, since time.Time) (int, error)
	Append(ctx context.Context, rec *domain.UsageRecord) error
}

// Repository is the full persistence surface used by the service.
type Repository interface {
	ContactStore
	StepStore
	AgentStore
	UsageLedger

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}
