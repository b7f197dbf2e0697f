package dispatch

import "errors"

var (
	// ErrLoad wraps any failure to load the step, contact, agent or usage
	// snapshots. It aborts the pass.
	ErrLoad = errors.New("dispatch: load failed")
	// ErrPassInProgress is returned when another pass holds the pass lease.
	ErrPassInProgress = errors.New("dispatch: another pass is in progress")
	// ErrQuotaExceeded is returned by SendNow when the agent has no quota left.
	ErrQuotaExceeded = errors.New("dispatch: monthly message quota exceeded")
	// ErrAgentNotFound is returned by SendNow for an unknown agent.
	ErrAgentNotFound = errors.New("dispatch: agent not found")
	// ErrContactNotFound is returned by SendNow for an unknown contact.
	ErrContactNotFound = errors.New("dispatch: contact not found")
	// ErrNoRecipient is returned by SendNow when neither the request nor the
	// contact provides an address for the channel.
	ErrNoRecipient = errors.New("dispatch: no recipient for channel")
)
