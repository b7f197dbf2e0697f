package dispatch

import (
	"context"

	"github.com/ashureev/followups/internal/domain"
)

// Observer receives pass lifecycle events. Outcome is called from shard
// goroutines concurrently.
type Observer interface {
	PassStarted(ctx context.Context, runID string)
	Outcome(ctx context.Context, runID string, o domain.Outcome)
	PassFinished(ctx context.Context, report *Report)
}

type observers []Observer

func (obs observers) started(ctx context.Context, runID string) {
	for _, o := range obs {
		o.PassStarted(ctx, runID)
	}
}

func (obs observers) outcome(ctx context.Context, runID string, out domain.Outcome) {
	for _, o := range obs {
		o.Outcome(ctx, runID, out)
	}
}

func (obs observers) finished(ctx context.Context, r *Report) {
	for _, o := range obs {
		o.PassFinished(ctx, r)
	}
}
