package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// HealthHandler reports service readiness.
type HealthHandler struct {
	*Handler
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(base *Handler) *HealthHandler {
	return &HealthHandler{Handler: base}
}

// RegisterHealth registers the readiness route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/status", h.Status)
}

// Status pings the database and summarizes the last pass.
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]interface{}{"database": "ok"}
	code := http.StatusOK
	if err := h.pinger.Ping(ctx); err != nil {
		status["database"] = "unavailable"
		code = http.StatusServiceUnavailable
	}
	if last := h.dispatcher.LastReport(); last != nil {
		status["lastRunId"] = last.RunID
		status["lastFinishedAt"] = last.FinishedAt
	}
	JSON(w, code, status)
}
