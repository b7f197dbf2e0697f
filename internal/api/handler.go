// Package api provides HTTP handlers for the follow-up dispatch API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ashureev/followups/internal/dispatch"
	"github.com/ashureev/followups/internal/domain"
	"github.com/ashureev/followups/internal/sequence"
)

// maxBodyBytes caps request bodies; templates are small.
const maxBodyBytes = 1 << 20

// Dispatcher is the slice of *dispatch.Dispatcher the API needs.
type Dispatcher interface {
	Run(ctx context.Context, req dispatch.RunRequest) (*dispatch.Report, error)
	SendNow(ctx context.Context, req dispatch.SendRequest) (*dispatch.SendResult, error)
	LastReport() *dispatch.Report
}

// StepEditor is the slice of *sequence.Editor the API needs.
type StepEditor interface {
	Effective(ctx context.Context, agentID string) ([]sequence.EffectiveStep, error)
	Edit(ctx context.Context, agentID, stepID string, change sequence.Change) (*domain.StepDefinition, error)
	Delete(ctx context.Context, agentID, stepID string) error
}

// Pinger reports database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler provides common handler utilities.
type Handler struct {
	dispatcher Dispatcher
	editor     StepEditor
	pinger     Pinger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(d Dispatcher, editor StepEditor, pinger Pinger) *Handler {
	return &Handler{
		dispatcher: d,
		editor:     editor,
		pinger:     pinger,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
