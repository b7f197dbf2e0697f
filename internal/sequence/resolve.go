// Package sequence resolves tenant-wide and personal step definitions into
// the effective step list of an agent, and edits personal overrides.
package sequence

import (
	"log/slog"
	"sort"

	"github.com/ashureev/followups/internal/domain"
)

// EffectiveStep is a resolved step. Overridden is true when a personal
// definition replaced a tenant-wide one in the same slot.
type EffectiveStep struct {
	domain.StepDefinition
	Overridden bool `json:"overridden"`
}

// Resolve merges the tenant-wide definitions with agentID's personal ones.
// Personal definitions shadow tenant-wide definitions occupying the same
// slot; unmatched personal definitions are appended. Definitions owned by
// other agents are ignored. The result does not depend on input order.
func Resolve(all []domain.StepDefinition, agentID string) []EffectiveStep {
	return ResolveWithLogger(all, agentID, nil)
}

// ResolveWithLogger is Resolve with an explicit logger for slot conflicts.
func ResolveWithLogger(all []domain.StepDefinition, agentID string, logger *slog.Logger) []EffectiveStep {
	if logger == nil {
		logger = slog.Default()
	}

	defaults := make(map[string]domain.StepDefinition)
	personal := make(map[string]domain.StepDefinition)
	for _, def := range sortedByID(all) {
		var bucket map[string]domain.StepDefinition
		switch {
		case domain.IsTenantWide(def.Owner):
			bucket = defaults
		case domain.OwnedBy(def.Owner, agentID):
			bucket = personal
		default:
			continue
		}
		slot := def.Slot()
		if kept, dup := bucket[slot]; dup {
			// Two definitions of one owner in one slot is data corruption.
			logger.Error("Step slot conflict, skipping duplicate definition",
				"agent_id", agentID,
				"slot", slot,
				"kept_step_id", kept.ID,
				"skipped_step_id", def.ID)
			continue
		}
		bucket[slot] = def
	}

	out := make([]EffectiveStep, 0, len(defaults)+len(personal))
	for slot, def := range defaults {
		if own, ok := personal[slot]; ok {
			out = append(out, EffectiveStep{StepDefinition: own, Overridden: true})
			delete(personal, slot)
			continue
		}
		out = append(out, EffectiveStep{StepDefinition: def})
	}
	for _, own := range personal {
		out = append(out, EffectiveStep{StepDefinition: own})
	}

	sort.Slice(out, func(i, j int) bool { return lessStep(out[i].StepDefinition, out[j].StepDefinition) })
	return out
}

// Definitions strips the resolution metadata.
func Definitions(steps []EffectiveStep) []domain.StepDefinition {
	out := make([]domain.StepDefinition, len(steps))
	for i, s := range steps {
		out[i] = s.StepDefinition
	}
	return out
}

func sortedByID(all []domain.StepDefinition) []domain.StepDefinition {
	out := make([]domain.StepDefinition, len(all))
	copy(out, all)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

var kindOrder = map[domain.SequenceKind]int{
	domain.SequenceProspect: 0,
	domain.SequenceClient:   1,
	domain.SequenceReminder: 2,
}

// lessStep orders by kind, then day offset, then event name.
func lessStep(a, b domain.StepDefinition) bool {
	if a.Kind != b.Kind {
		return kindOrder[a.Kind] < kindOrder[b.Kind]
	}
	aDay := a.Trigger.Kind == domain.TriggerDayOffset
	bDay := b.Trigger.Kind == domain.TriggerDayOffset
	if aDay != bDay {
		return aDay
	}
	if aDay && a.Trigger.DayOffset != b.Trigger.DayOffset {
		return a.Trigger.DayOffset < b.Trigger.DayOffset
	}
	if a.Slot() != b.Slot() {
		return a.Slot() < b.Slot()
	}
	return a.ID < b.ID
}
