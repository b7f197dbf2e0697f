package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/followups/internal/domain"
	"github.com/ashureev/followups/internal/sequence"
	"github.com/ashureev/followups/internal/store"
)

// stepView is the wire form of a step. Owner is flattened to its agent id,
// empty for tenant-wide steps. Overridden is only known in resolved lists.
type stepView struct {
	domain.StepDefinition
	OwnerID    string `json:"owner_id"`
	Slot       string `json:"slot"`
	Overridden bool   `json:"overridden,omitempty"`
}

func newStepView(s domain.StepDefinition, overridden bool) stepView {
	return stepView{
		StepDefinition: s,
		OwnerID:        s.Owner.AgentID(),
		Slot:           s.Slot(),
		Overridden:     overridden,
	}
}

// StepHandler exposes an agent's effective sequence and its edits.
type StepHandler struct {
	*Handler
}

// NewStepHandler creates a new step handler.
func NewStepHandler(base *Handler) *StepHandler {
	return &StepHandler{Handler: base}
}

// RegisterRoutes registers step routes.
func (h *StepHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/agents/{agentID}/steps", func(r chi.Router) {
		r.Get("/", h.List)
		r.Put("/{stepID}", h.Update)
		r.Delete("/{stepID}", h.Delete)
	})
}

// List returns the agent's resolved steps, inactive ones included.
func (h *StepHandler) List(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	steps, err := h.editor.Effective(r.Context(), agentID)
	if err != nil {
		slog.Error("Failed to resolve steps", "error", err, "agent_id", agentID)
		Error(w, http.StatusInternalServerError, "failed to load steps")
		return
	}
	out := make([]stepView, 0, len(steps))
	for _, s := range steps {
		out = append(out, newStepView(s.StepDefinition, s.Overridden))
	}
	JSON(w, http.StatusOK, out)
}

// Update edits a step. Editing a tenant-wide step creates or updates the
// agent's personal override.
func (h *StepHandler) Update(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	stepID := chi.URLParam(r, "stepID")

	var change sequence.Change
	if err := decode(r, &change); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	step, err := h.editor.Edit(r.Context(), agentID, stepID, change)
	if err != nil {
		writeStepError(w, err, agentID, stepID)
		return
	}
	JSON(w, http.StatusOK, newStepView(*step, false))
}

// Delete removes one of the agent's personal steps.
func (h *StepHandler) Delete(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	stepID := chi.URLParam(r, "stepID")

	if err := h.editor.Delete(r.Context(), agentID, stepID); err != nil {
		writeStepError(w, err, agentID, stepID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeStepError(w http.ResponseWriter, err error, agentID, stepID string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		Error(w, http.StatusNotFound, "step_not_found")
	case errors.Is(err, sequence.ErrForbidden):
		Error(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, sequence.ErrImmutableDefault):
		Error(w, http.StatusConflict, "tenant_wide_step")
	case errors.Is(err, store.ErrSlotTaken):
		Error(w, http.StatusConflict, "slot_taken")
	default:
		slog.Error("Step edit failed", "error", err, "agent_id", agentID, "step_id", stepID)
		Error(w, http.StatusInternalServerError, "step_edit_failed")
	}
}
