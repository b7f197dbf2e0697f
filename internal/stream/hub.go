// Package stream broadcasts dispatch events to websocket subscribers.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ashureev/followups/internal/dispatch"
	"github.com/ashureev/followups/internal/domain"
)

// Event types.
const (
	EventPassStarted  = "pass_started"
	EventOutcome      = "outcome"
	EventPassFinished = "pass_finished"
)

// Event is one message on the stream.
type Event struct {
	Type           string                     `json:"type"`
	RunID          string                     `json:"runId"`
	Outcome        *domain.Outcome            `json:"outcome,omitempty"`
	ProcessedCount int                        `json:"processedCount,omitempty"`
	Counts         map[domain.OutcomeKind]int `json:"counts,omitempty"`
}

// subscriberBuffer is how many events a slow subscriber may lag behind
// before events are dropped for it.
const subscriberBuffer = 64

type subscriber struct {
	agentID string
	events  chan []byte
}

// Hub fans dispatch events out to subscribers. It implements
// dispatch.Observer; publishing never blocks the pass.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	logger *slog.Logger
}

var _ dispatch.Observer = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: make(map[*subscriber]struct{}), logger: logger}
}

// subscribe registers a subscriber. An empty agentID receives every event;
// otherwise outcomes of other agents are filtered out.
func (h *Hub) subscribe(agentID string) *subscriber {
	s := &subscriber{agentID: agentID, events: make(chan []byte, subscriberBuffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) unsubscribe(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) publish(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("Failed to encode stream event", "type", ev.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if ev.Outcome != nil && s.agentID != "" && s.agentID != ev.Outcome.AgentID {
			continue
		}
		select {
		case s.events <- payload:
		default:
			h.logger.Debug("Stream subscriber lagging, event dropped", "type", ev.Type, "agent_id", s.agentID)
		}
	}
}

// PassStarted implements dispatch.Observer.
func (h *Hub) PassStarted(_ context.Context, runID string) {
	h.publish(Event{Type: EventPassStarted, RunID: runID})
}

// Outcome implements dispatch.Observer.
func (h *Hub) Outcome(_ context.Context, runID string, o domain.Outcome) {
	h.publish(Event{Type: EventOutcome, RunID: runID, Outcome: &o})
}

// PassFinished implements dispatch.Observer.
func (h *Hub) PassFinished(_ context.Context, r *dispatch.Report) {
	h.publish(Event{
		Type:           EventPassFinished,
		RunID:          r.RunID,
		ProcessedCount: r.ProcessedCount,
		Counts:         r.Counts,
	})
}
