// Package quota tracks per-agent monthly send usage during one dispatch pass.
package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ashureev/followups/internal/domain"
)

// DefaultMonthlyLimit applies to agents with no configured limit.
const DefaultMonthlyLimit = 50

// Counter is the part of the usage ledger the tracker reads.
type Counter interface {
	CountSince(ctx context.Context, agentID string, since time.Time) (int, error)
}

type entry struct {
	agent *domain.Agent
	used  int
}

// Tracker holds the usage count of every agent seen by one pass.
// Reservations are counted immediately and are never rolled back.
type Tracker struct {
	mu           sync.Mutex
	defaultLimit int
	entries      map[string]*entry
}

// NewTracker creates an empty tracker. A non-positive defaultLimit falls
// back to DefaultMonthlyLimit.
func NewTracker(defaultLimit int) *Tracker {
	if defaultLimit <= 0 {
		defaultLimit = DefaultMonthlyLimit
	}
	return &Tracker{
		defaultLimit: defaultLimit,
		entries:      make(map[string]*entry),
	}
}

// Prewarm loads the usage count of each agent since the given time with one
// query per agent.
func (t *Tracker) Prewarm(ctx context.Context, counter Counter, agents []*domain.Agent, since time.Time) error {
	for _, a := range agents {
		used, err := counter.CountSince(ctx, a.ID, since)
		if err != nil {
			return fmt.Errorf("count usage for agent %s: %w", a.ID, err)
		}
		t.Set(a, used)
	}
	return nil
}

// Set records agent with a known usage count.
func (t *Tracker) Set(agent *domain.Agent, used int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[agent.ID] = &entry{agent: agent, used: used}
}

// TryReserve claims one send for agentID. Operators always succeed; unknown
// agents never do.
func (t *Tracker) TryReserve(agentID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[agentID]
	if !ok {
		return false
	}
	if !e.agent.Unrestricted() && e.used >= e.agent.EffectiveLimit(t.defaultLimit) {
		return false
	}
	e.used++
	return true
}

// Used returns the current count for agentID including reservations.
func (t *Tracker) Used(agentID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[agentID]; ok {
		return e.used
	}
	return 0
}

// Remaining returns how many sends agentID has left, or -1 when unrestricted.
func (t *Tracker) Remaining(agentID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[agentID]
	if !ok {
		return 0
	}
	if e.agent.Unrestricted() {
		return -1
	}
	return max(0, e.agent.EffectiveLimit(t.defaultLimit)-e.used)
}
