// Package dispatch runs follow-up dispatch passes: it loads contacts and step
// definitions, finds the steps due today and delivers them within each
// agent's monthly quota.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ashureev/followups/internal/delivery"
	"github.com/ashureev/followups/internal/domain"
	"github.com/ashureev/followups/internal/eligibility"
	"github.com/ashureev/followups/internal/lease"
	"github.com/ashureev/followups/internal/quota"
	"github.com/ashureev/followups/internal/render"
	"github.com/ashureev/followups/internal/sequence"
	"github.com/ashureev/followups/internal/store"
)

const (
	passLeaseKey    = "dispatch-pass"
	defaultLeaseTTL = 30 * time.Minute
	defaultPacing   = 500 * time.Millisecond
	defaultWorkers  = 4
	snippetLength   = 120
)

// DefaultExcludeStatuses are contact statuses never dispatched to.
var DefaultExcludeStatuses = []string{"lapsed", "closed", "unsubscribed"}

// Store is the persistence the dispatcher reads and writes.
type Store interface {
	store.ContactStore
	store.StepStore
	store.AgentStore
	store.UsageLedger
}

// Sender delivers one message with retries. *delivery.Client implements it.
type Sender interface {
	Send(ctx context.Context, msg delivery.Message) (delivery.Result, error)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithPacing sets the minimum interval between distinct sends. Zero or
// negative disables pacing.
func WithPacing(interval time.Duration) Option {
	return func(d *Dispatcher) {
		if interval <= 0 {
			d.pacer = rate.NewLimiter(rate.Inf, 1)
			return
		}
		d.pacer = rate.NewLimiter(rate.Every(interval), 1)
	}
}

// WithWorkers bounds the number of agent shards processed in parallel.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithLocker sets the pass lease provider.
func WithLocker(l lease.Locker, ttl time.Duration) Option {
	return func(d *Dispatcher) {
		d.locker = l
		if ttl > 0 {
			d.leaseTTL = ttl
		}
	}
}

// WithExcludeStatuses replaces DefaultExcludeStatuses.
func WithExcludeStatuses(statuses []string) Option {
	return func(d *Dispatcher) { d.excludeStatuses = statuses }
}

// WithDefaultMonthlyLimit sets the quota for agents without a configured limit.
func WithDefaultMonthlyLimit(n int) Option {
	return func(d *Dispatcher) { d.defaultLimit = n }
}

// WithObserver adds a pass observer.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observers = append(d.observers, o) }
}

// WithTracer sets the tracer used for pass and delivery spans.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// Dispatcher runs dispatch passes and interactive sends.
type Dispatcher struct {
	store  Store
	sender Sender

	logger          *slog.Logger
	now             func() time.Time
	pacer           *rate.Limiter
	workers         int
	locker          lease.Locker
	leaseTTL        time.Duration
	excludeStatuses []string
	defaultLimit    int
	observers       observers
	tracer          trace.Tracer

	mu   sync.RWMutex
	last *Report
}

// New creates a Dispatcher.
func New(s Store, sender Sender, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:           s,
		sender:          sender,
		logger:          slog.Default(),
		now:             time.Now,
		pacer:           rate.NewLimiter(rate.Every(defaultPacing), 1),
		workers:         defaultWorkers,
		locker:          lease.NewLocalLocker(),
		leaseTTL:        defaultLeaseTTL,
		excludeStatuses: DefaultExcludeStatuses,
		defaultLimit:    quota.DefaultMonthlyLimit,
		tracer:          otel.Tracer("github.com/ashureev/followups/internal/dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RunRequest scopes a pass. An empty ContactID processes every eligible contact.
type RunRequest struct {
	ContactID string `json:"contactId,omitempty"`
}

// pass is the snapshot and per-pass caches of one Run.
type pass struct {
	runID    string
	today    time.Time
	contacts []*domain.Contact
	agents   map[string]*domain.Agent
	resolved map[string][]domain.StepDefinition
	quota    *quota.Tracker
}

// LastReport returns the report of the most recent completed pass, or nil.
func (d *Dispatcher) LastReport() *Report {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.last
}

// Run executes one dispatch pass. Only load failures and lease conflicts
// are returned as errors; everything else is reported per item.
func (d *Dispatcher) Run(ctx context.Context, req RunRequest) (*Report, error) {
	release, err := d.locker.Acquire(ctx, passLeaseKey, d.leaseTTL)
	if err != nil {
		if errors.Is(err, lease.ErrHeld) {
			return nil, ErrPassInProgress
		}
		return nil, fmt.Errorf("acquire pass lease: %w", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			d.logger.Warn("Failed to release pass lease", "error", err)
		}
	}()

	// The lease is not renewed, so the pass must end before it expires or a
	// second pass could acquire it and send the same steps again.
	ctx, cancel := context.WithTimeout(ctx, d.leaseTTL)
	defer cancel()

	runID := uuid.NewString()
	started := d.now().UTC()
	ctx, span := d.tracer.Start(ctx, "dispatch.pass", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("contact_id", req.ContactID),
	))
	defer span.End()

	logger := d.logger.With("run_id", runID)
	logger.Info("Dispatch pass started", "contact_id", req.ContactID)

	p, err := d.load(ctx, runID, started, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		logger.Error("Dispatch pass aborted", "error", err)
		return nil, err
	}

	d.observers.started(ctx, runID)

	report := newReport(runID, req.ContactID, started)
	report.ProcessedCount = len(p.contacts)
	for _, outcomes := range d.processShards(ctx, p, logger) {
		report.add(outcomes)
	}
	report.FinishedAt = d.now().UTC()

	span.SetAttributes(
		attribute.Int("processed_count", report.ProcessedCount),
		attribute.Int("sent", report.Counts[domain.OutcomeSent]),
		attribute.Int("failed", report.Counts[domain.OutcomeFailed]),
	)
	logger.Info("Dispatch pass finished",
		"processed", report.ProcessedCount,
		"counts", report.Counts,
		"duration", report.Duration())

	d.mu.Lock()
	d.last = report
	d.mu.Unlock()
	d.observers.finished(ctx, report)
	return report, nil
}

// load reads the snapshots a pass works from and resolves each agent's
// steps once.
func (d *Dispatcher) load(ctx context.Context, runID string, started time.Time, req RunRequest) (*pass, error) {
	// Only active definitions take part in resolution, so a disabled
	// personal override gives the slot back to the tenant-wide default.
	steps, err := d.store.ListActiveSteps(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: steps: %v", ErrLoad, err)
	}

	contacts, err := d.store.ListContacts(ctx, store.ContactFilter{
		ExcludeStatuses: d.excludeStatuses,
		ContactID:       req.ContactID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: contacts: %v", ErrLoad, err)
	}

	agentIDs := distinctOwners(contacts)
	agents, err := d.store.ListAgents(ctx, agentIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: agents: %v", ErrLoad, err)
	}

	tracker := quota.NewTracker(d.defaultLimit)
	if err := tracker.Prewarm(ctx, d.store, agents, domain.FirstOfMonth(started)); err != nil {
		return nil, fmt.Errorf("%w: usage: %v", ErrLoad, err)
	}

	p := &pass{
		runID:    runID,
		today:    started,
		contacts: contacts,
		agents:   make(map[string]*domain.Agent, len(agents)),
		resolved: make(map[string][]domain.StepDefinition, len(agents)),
		quota:    tracker,
	}
	for _, a := range agents {
		p.agents[a.ID] = a
		p.resolved[a.ID] = sequence.Definitions(sequence.ResolveWithLogger(steps, a.ID, d.logger))
	}
	return p, nil
}

func distinctOwners(contacts []*domain.Contact) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, c := range contacts {
		if !seen[c.OwnerID] {
			seen[c.OwnerID] = true
			ids = append(ids, c.OwnerID)
		}
	}
	sort.Strings(ids)
	return ids
}

// processShards groups contacts by owning agent and processes the groups in
// parallel. Within a group contacts are handled one at a time in id order,
// which keeps quota reservations for an agent serialized. Results are
// returned in agent id order.
func (d *Dispatcher) processShards(ctx context.Context, p *pass, logger *slog.Logger) [][]domain.Outcome {
	shards := make(map[string][]*domain.Contact)
	for _, c := range p.contacts {
		shards[c.OwnerID] = append(shards[c.OwnerID], c)
	}
	owners := make([]string, 0, len(shards))
	for owner, contacts := range shards {
		sort.SliceStable(contacts, func(i, j int) bool { return contacts[i].ID < contacts[j].ID })
		owners = append(owners, owner)
	}
	sort.Strings(owners)

	results := make([][]domain.Outcome, len(owners))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for i, owner := range owners {
		g.Go(func() error {
			var out []domain.Outcome
			for _, c := range shards[owner] {
				out = append(out, d.processContact(gctx, p, c, logger)...)
			}
			results[i] = out
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d *Dispatcher) processContact(ctx context.Context, p *pass, c *domain.Contact, logger *slog.Logger) []domain.Outcome {
	agent, ok := p.agents[c.OwnerID]
	if !ok {
		logger.Warn("Contact owner has no agent profile, skipping",
			"contact_id", c.ID,
			"agent_id", c.OwnerID)
		return []domain.Outcome{d.emit(ctx, p, domain.Outcome{
			ContactID: c.ID,
			AgentID:   c.OwnerID,
			Kind:      domain.OutcomeSkippedNoAgent,
			Reason:    "agent profile not found",
		})}
	}

	steps := p.resolved[agent.ID]
	var out []domain.Outcome
	for _, step := range eligibility.AlreadyDispatched(c, steps, p.today) {
		out = append(out, d.emit(ctx, p, domain.Outcome{
			ContactID: c.ID,
			AgentID:   agent.ID,
			StepID:    step.ID,
			Slot:      step.Slot(),
			Kind:      domain.OutcomeSkippedAlreadySent,
		}))
	}
	for _, step := range eligibility.FindDueSteps(c, steps, p.today) {
		out = append(out, d.emit(ctx, p, d.processStep(ctx, p, c, agent, step, logger)))
	}
	return out
}

// processStep runs one due step through quota, rendering, pacing and
// delivery, then records the result.
func (d *Dispatcher) processStep(ctx context.Context, p *pass, c *domain.Contact, agent *domain.Agent, step domain.StepDefinition, logger *slog.Logger) domain.Outcome {
	o := domain.Outcome{
		ContactID: c.ID,
		AgentID:   agent.ID,
		StepID:    step.ID,
		Slot:      step.Slot(),
	}
	logger = logger.With("contact_id", c.ID, "agent_id", agent.ID, "step_id", step.ID)

	ch, tmpl, to, ok := pickChannel(step, c)
	if !ok {
		o.Kind = domain.OutcomeFailed
		o.Reason = "no deliverable channel"
		logger.Warn("Step has no deliverable channel for contact")
		return o
	}
	o.Channel = ch

	if !p.quota.TryReserve(agent.ID) {
		o.Kind = domain.OutcomeSkippedQuota
		o.Reason = "monthly message limit reached"
		logger.Info("Monthly quota exhausted, skipping step")
		return o
	}

	msg := delivery.Message{
		Channel: ch,
		To:      to,
		Subject: render.Render(step.Content.Subject, c, agent),
		Body:    render.Body(ch, tmpl, c, agent),
		ReplyTo: agent.Email,
	}

	if err := d.pacer.Wait(ctx); err != nil {
		o.Kind = domain.OutcomeFailed
		o.Reason = fmt.Sprintf("pacing: %v", err)
		return o
	}

	res, err := d.deliver(ctx, msg, o)
	if err != nil {
		o.Kind = domain.OutcomeFailed
		o.Reason = err.Error()
		var derr *delivery.Error
		if errors.As(err, &derr) {
			o.Attempts = derr.Attempts
		}
		logger.Warn("Step delivery failed", "channel", ch, "error", err)
		return o
	}
	o.Kind = domain.OutcomeSent
	o.Attempts = res.Attempts

	// The message is out; persist even if the pass is being cancelled.
	wctx := context.WithoutCancel(ctx)
	if err := d.store.Append(wctx, d.usageRecord(agent.ID, msg)); err != nil {
		logger.Error("Failed to record usage", "error", err)
	}
	if !step.IsReminder() {
		offset := step.Trigger.DayOffset
		switch err := d.store.UpdateLastDispatchedDayOffset(wctx, c.ID, offset); {
		case err == nil:
		case errors.Is(err, store.ErrStaleOffset):
			logger.Warn("Contact offset already advanced by another pass", "offset", offset)
		default:
			logger.Error("Failed to advance contact offset", "offset", offset, "error", err)
		}
	}
	logger.Info("Step sent", "channel", ch, "attempts", res.Attempts)
	return o
}

func (d *Dispatcher) deliver(ctx context.Context, msg delivery.Message, o domain.Outcome) (delivery.Result, error) {
	ctx, span := d.tracer.Start(ctx, "dispatch.deliver", trace.WithAttributes(
		attribute.String("contact_id", o.ContactID),
		attribute.String("step_id", o.StepID),
		attribute.String("channel", string(msg.Channel)),
	))
	defer span.End()

	res, err := d.sender.Send(ctx, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		return res, err
	}
	span.SetAttributes(attribute.Int("attempts", res.Attempts))
	return res, nil
}

func (d *Dispatcher) emit(ctx context.Context, p *pass, o domain.Outcome) domain.Outcome {
	d.observers.outcome(ctx, p.runID, o)
	return o
}

func (d *Dispatcher) usageRecord(agentID string, msg delivery.Message) *domain.UsageRecord {
	return &domain.UsageRecord{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Channel:   msg.Channel,
		Recipient: msg.To,
		Snippet:   snippet(msg.Body),
		SentAt:    d.now().UTC(),
	}
}

// pickChannel returns the first channel in preference order with content
// and a recipient on the contact.
func pickChannel(step domain.StepDefinition, c *domain.Contact) (domain.Channel, string, string, bool) {
	for _, ch := range domain.ChannelPreference {
		tmpl := step.Content.Bodies[ch]
		if tmpl == "" {
			continue
		}
		if to := c.Recipient(ch); to != "" {
			return ch, tmpl, to, true
		}
	}
	return "", "", "", false
}

func snippet(body string) string {
	r := []rune(body)
	if len(r) <= snippetLength {
		return body
	}
	return string(r[:snippetLength])
}
