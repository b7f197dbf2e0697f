package sequence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/followups/internal/domain"
	"github.com/ashureev/followups/internal/store"
)

var (
	// ErrImmutableDefault is returned when an agent tries to delete a
	// tenant-wide definition.
	ErrImmutableDefault = errors.New("sequence: tenant-wide steps cannot be deleted by agents")
	// ErrForbidden is returned when an agent touches another agent's step.
	ErrForbidden = errors.New("sequence: step belongs to another agent")
)

// Change is an agent's edit of a step. Nil fields are left unchanged.
type Change struct {
	Bodies  map[domain.Channel]string `json:"bodies,omitempty"`
	Subject *string                   `json:"subject,omitempty"`
	Active  *bool                     `json:"active,omitempty"`
}

func (c Change) apply(step *domain.StepDefinition) {
	if c.Bodies != nil {
		step.Content.Bodies = make(map[domain.Channel]string, len(c.Bodies))
		for ch, body := range c.Bodies {
			step.Content.Bodies[ch] = body
		}
	}
	if c.Subject != nil {
		step.Content.Subject = *c.Subject
	}
	if c.Active != nil {
		step.Active = *c.Active
	}
}

// Editor applies agent edits with copy-on-write semantics: tenant-wide
// definitions are never mutated, edits land on the agent's personal copy.
type Editor struct {
	steps  store.StepStore
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// NewEditor creates an Editor backed by steps.
func NewEditor(steps store.StepStore, logger *slog.Logger) *Editor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Editor{
		steps:  steps,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
		logger: logger,
	}
}

// Effective returns agentID's resolved step list, inactive steps included so
// that a disabled override is visible to the agent.
func (e *Editor) Effective(ctx context.Context, agentID string) ([]EffectiveStep, error) {
	all, err := e.steps.ListSteps(ctx)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	return ResolveWithLogger(all, agentID, e.logger), nil
}

// Edit applies change to stepID on behalf of agentID and returns the
// definition that now holds the agent's content.
func (e *Editor) Edit(ctx context.Context, agentID, stepID string, change Change) (*domain.StepDefinition, error) {
	step, err := e.steps.GetStep(ctx, stepID)
	if err != nil {
		return nil, fmt.Errorf("get step %s: %w", stepID, err)
	}

	switch {
	case domain.OwnedBy(step.Owner, agentID):
		change.apply(step)
		step.UpdatedAt = e.now()
		if err := e.steps.UpsertStep(ctx, step); err != nil {
			return nil, fmt.Errorf("update personal step %s: %w", step.ID, err)
		}
		return step, nil

	case domain.IsTenantWide(step.Owner):
		return e.override(ctx, agentID, step, change)

	default:
		return nil, ErrForbidden
	}
}

// override writes the agent's copy of a tenant-wide step, reusing an
// existing personal step in the same slot if there is one.
func (e *Editor) override(ctx context.Context, agentID string, base *domain.StepDefinition, change Change) (*domain.StepDefinition, error) {
	all, err := e.steps.ListSteps(ctx)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}

	now := e.now()
	for i := range all {
		existing := all[i]
		if domain.OwnedBy(existing.Owner, agentID) && existing.Slot() == base.Slot() {
			change.apply(&existing)
			existing.UpdatedAt = now
			if err := e.steps.UpsertStep(ctx, &existing); err != nil {
				return nil, fmt.Errorf("update override %s: %w", existing.ID, err)
			}
			return &existing, nil
		}
	}

	copied := domain.StepDefinition{
		ID:        e.newID(),
		Owner:     domain.Personal{Agent: agentID},
		Kind:      base.Kind,
		Trigger:   base.Trigger,
		Content:   base.Content.Clone(),
		Active:    base.Active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	change.apply(&copied)
	if err := e.steps.UpsertStep(ctx, &copied); err != nil {
		return nil, fmt.Errorf("create override of %s: %w", base.ID, err)
	}
	e.logger.Info("Personal override created",
		"agent_id", agentID,
		"base_step_id", base.ID,
		"step_id", copied.ID,
		"slot", copied.Slot())
	return &copied, nil
}

// Delete removes a personal step owned by agentID.
func (e *Editor) Delete(ctx context.Context, agentID, stepID string) error {
	step, err := e.steps.GetStep(ctx, stepID)
	if err != nil {
		return fmt.Errorf("get step %s: %w", stepID, err)
	}
	if domain.IsTenantWide(step.Owner) {
		return ErrImmutableDefault
	}
	if !domain.OwnedBy(step.Owner, agentID) {
		return ErrForbidden
	}
	if err := e.steps.DeleteStep(ctx, stepID); err != nil {
		return fmt.Errorf("delete step %s: %w", stepID, err)
	}
	return nil
}
