package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/followups/internal/backoff"
)

var (
	// ErrClient marks a terminal provider rejection (HTTP 4xx). It is never retried.
	ErrClient = errors.New("delivery: rejected by provider")
	// ErrTransient marks a failure that outlasted every retry (HTTP 5xx or
	// transport error).
	ErrTransient = errors.New("delivery: provider unavailable")
)

// Kind classifies a failed send.
type Kind string

const (
	KindClient    Kind = "client_error"
	KindTransient Kind = "transient_error"
)

// Error is the terminal failure of a send.
type Error struct {
	Kind       Kind
	StatusCode int
	Attempts   int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("delivery %s after %d attempt(s): status %d", e.Kind, e.Attempts, e.StatusCode)
	}
	return fmt.Sprintf("delivery %s after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches ErrClient and ErrTransient by kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrClient:
		return e.Kind == KindClient
	case ErrTransient:
		return e.Kind == KindTransient
	}
	return false
}

// Retryable reports whether a caller may reasonably try the send again later.
func (e *Error) Retryable() bool { return e.Kind == KindTransient }

// Result describes a successful send.
type Result struct {
	StatusCode int
	Attempts   int
}

// AttemptResult labels one provider call for metrics.
const (
	AttemptOK             = "ok"
	AttemptClientError    = string(KindClient)
	AttemptTransientError = string(KindTransient)
)

// AttemptHook observes every provider call.
type AttemptHook func(ctx context.Context, result string)

// DefaultMaxAttempts is the total number of provider calls per send.
const DefaultMaxAttempts = 3

// Option configures a Client.
type Option func(*Client)

// WithMaxAttempts sets the attempt ceiling.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoff sets the delay between attempts.
func WithBackoff(s backoff.Strategy) Option {
	return func(c *Client) { c.backoff = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithAttemptHook registers fn for every attempt.
func WithAttemptHook(fn AttemptHook) Option {
	return func(c *Client) { c.onAttempt = fn }
}

// Client wraps a Provider with retry and failure classification.
type Client struct {
	provider    Provider
	maxAttempts int
	backoff     backoff.Strategy
	logger      *slog.Logger
	onAttempt   AttemptHook
}

// NewClient creates a Client. Defaults: 3 attempts, 2s/4s/8s backoff.
func NewClient(p Provider, opts ...Option) *Client {
	c := &Client{
		provider:    p,
		maxAttempts: DefaultMaxAttempts,
		backoff:     backoff.Default(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send delivers msg. 2xx succeeds, 4xx fails immediately with ErrClient,
// 5xx and transport errors are retried and end in ErrTransient.
func (c *Client) Send(ctx context.Context, msg Message) (Result, error) {
	var last *Error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		status, err := c.provider.Deliver(ctx, msg)

		switch {
		case err == nil && status >= 200 && status < 300:
			c.observe(ctx, AttemptOK)
			return Result{StatusCode: status, Attempts: attempt}, nil

		case err == nil && status >= 400 && status < 500:
			c.observe(ctx, AttemptClientError)
			c.logger.Warn("Provider rejected message",
				"channel", msg.Channel,
				"status", status,
				"attempt", attempt)
			return Result{}, &Error{Kind: KindClient, StatusCode: status, Attempts: attempt}

		default:
			c.observe(ctx, AttemptTransientError)
			last = &Error{Kind: KindTransient, StatusCode: status, Attempts: attempt, Err: err}
			c.logger.Warn("Delivery attempt failed",
				"channel", msg.Channel,
				"status", status,
				"attempt", attempt,
				"max_attempts", c.maxAttempts,
				"error", err)
		}

		if attempt == c.maxAttempts {
			break
		}
		if err := sleep(ctx, c.backoff.Delay(attempt)); err != nil {
			last.Err = err
			last.StatusCode = 0
			return Result{}, last
		}
	}
	return Result{}, last
}

func (c *Client) observe(ctx context.Context, result string) {
	if c.onAttempt != nil {
		c.onAttempt(ctx, result)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
