package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/followups/internal/delivery"
	"github.com/ashureev/followups/internal/dispatch"
)

// DispatchHandler handles manual passes and interactive sends.
type DispatchHandler struct {
	*Handler
}

// NewDispatchHandler creates a new dispatch handler.
func NewDispatchHandler(base *Handler) *DispatchHandler {
	return &DispatchHandler{Handler: base}
}

// RegisterRoutes registers dispatch routes.
func (h *DispatchHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/dispatch", func(r chi.Router) {
		r.Post("/run", h.Run)
		r.Post("/send", h.Send)
		r.Get("/last", h.Last)
	})
}

// Run triggers a dispatch pass, optionally scoped to one contact.
func (h *DispatchHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req dispatch.RunRequest
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// A dropped client must not cut a pass short halfway through its sends;
	// the dispatcher still bounds the pass by its lease.
	report, err := h.dispatcher.Run(context.WithoutCancel(r.Context()), req)
	switch {
	case errors.Is(err, dispatch.ErrPassInProgress):
		Error(w, http.StatusConflict, "pass_in_progress")
		return
	case errors.Is(err, dispatch.ErrLoad):
		slog.Error("Dispatch pass failed to load", "error", err)
		Error(w, http.StatusInternalServerError, "load_failed")
		return
	case err != nil:
		slog.Error("Dispatch pass failed", "error", err)
		Error(w, http.StatusInternalServerError, "dispatch_failed")
		return
	}

	JSON(w, http.StatusOK, report)
}

// Send delivers one message immediately on behalf of an agent.
func (h *DispatchHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req dispatch.SendRequest
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AgentID == "" || req.Channel == "" || req.Body == "" {
		Error(w, http.StatusBadRequest, "agentId, channel and body are required")
		return
	}

	res, err := h.dispatcher.SendNow(r.Context(), req)
	if err != nil {
		writeSendError(w, req, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

func writeSendError(w http.ResponseWriter, req dispatch.SendRequest, err error) {
	var derr *delivery.Error
	switch {
	case errors.Is(err, dispatch.ErrAgentNotFound):
		Error(w, http.StatusNotFound, "agent_not_found")
	case errors.Is(err, dispatch.ErrContactNotFound):
		Error(w, http.StatusNotFound, "contact_not_found")
	case errors.Is(err, dispatch.ErrNoRecipient):
		Error(w, http.StatusBadRequest, "no_recipient")
	case errors.Is(err, dispatch.ErrQuotaExceeded):
		Error(w, http.StatusTooManyRequests, "quota_exceeded")
	case errors.As(err, &derr):
		slog.Warn("Interactive send failed",
			"agent_id", req.AgentID,
			"channel", req.Channel,
			"kind", derr.Kind,
			"status_code", derr.StatusCode,
			"attempts", derr.Attempts)
		status := http.StatusBadGateway
		if !derr.Retryable() {
			status = http.StatusUnprocessableEntity
		}
		JSON(w, status, map[string]interface{}{
			"error":      string(derr.Kind),
			"statusCode": derr.StatusCode,
			"attempts":   derr.Attempts,
			"retryable":  derr.Retryable(),
		})
	default:
		slog.Error("Interactive send failed", "error", err, "agent_id", req.AgentID)
		Error(w, http.StatusInternalServerError, "send_failed")
	}
}

// Last returns the report of the most recent completed pass.
func (h *DispatchHandler) Last(w http.ResponseWriter, _ *http.Request) {
	report := h.dispatcher.LastReport()
	if report == nil {
		Error(w, http.StatusNotFound, "no_pass_yet")
		return
	}
	JSON(w, http.StatusOK, report)
}
