package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashureev/followups/internal/domain"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS step_definitions (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL DEFAULT '',
	sequence_kind TEXT NOT NULL,
	trigger_kind TEXT NOT NULL,
	day_offset INTEGER NOT NULL DEFAULT 0,
	trigger_date TEXT NOT NULL DEFAULT '',
	slot TEXT NOT NULL,
	content JSONB NOT NULL,
	subject TEXT NOT NULL DEFAULT '',
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (owner_id, slot)
);

CREATE TABLE IF NOT EXISTS contacts (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	role TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT '',
	joined_at TIMESTAMPTZ NOT NULL,
	last_dispatched_day_offset INTEGER NOT NULL DEFAULT -1,
	name TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	birthday TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_contacts_owner ON contacts(owner_id);

CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	role TEXT NOT NULL,
	monthly_message_limit INTEGER NOT NULL DEFAULT 0,
	full_name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT '',
	agency_name TEXT NOT NULL DEFAULT '',
	license_no TEXT NOT NULL DEFAULT '',
	bio TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS usage_records (
	id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	channel TEXT NOT NULL,
	recipient TEXT NOT NULL,
	snippet TEXT NOT NULL,
	sent_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_agent_sent ON usage_records(agent_id, sent_at);
`

// PostgresStore implements Repository on PostgreSQL using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn and applies the schema.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return s, nil
}

// Ping verifies database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	var one int
	return s.pool.QueryRow(ctx, "select 1").Scan(&one)
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// ListContacts returns contacts matching filter.
func (s *PostgresStore) ListContacts(ctx context.Context, filter ContactFilter) ([]*domain.Contact, error) {
	exclude := filter.ExcludeStatuses
	if exclude == nil {
		exclude = []string{}
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, role, status, joined_at, last_dispatched_day_offset,
		       name, title, phone, email, birthday
		FROM contacts
		WHERE ($1 = '' OR id = $1) AND NOT (status = ANY($2))
		ORDER BY owner_id, id`,
		filter.ContactID, exclude,
	)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*domain.Contact
	for rows.Next() {
		var c domain.Contact
		var role string
		if err := rows.Scan(&c.ID, &c.OwnerID, &role, &c.Status, &c.JoinedAt, &c.LastDispatchedDayOffset,
			&c.Name, &c.Title, &c.Phone, &c.Email, &c.Birthday); err != nil {
			return nil, fmt.Errorf("scan contact row: %w", err)
		}
		c.Role = domain.ContactRole(role)
		c.JoinedAt = c.JoinedAt.UTC()
		contacts = append(contacts, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}
	return contacts, nil
}

// UpdateLastDispatchedDayOffset advances a contact's offset, forward only.
func (s *PostgresStore) UpdateLastDispatchedDayOffset(ctx context.Context, contactID string, offset int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE contacts SET last_dispatched_day_offset = $2, updated_at = NOW()
		WHERE id = $1 AND last_dispatched_day_offset < $2`,
		contactID, offset,
	)
	if err != nil {
		return fmt.Errorf("update last_dispatched_day_offset: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM contacts WHERE id = $1)`, contactID).Scan(&exists); err != nil {
		return fmt.Errorf("check contact: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStaleOffset
}

// UpsertContact creates or updates a contact without moving its offset backwards.
func (s *PostgresStore) UpsertContact(ctx context.Context, c *domain.Contact) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO contacts (id, owner_id, role, status, joined_at, last_dispatched_day_offset,
			name, title, phone, email, birthday, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			role = EXCLUDED.role,
			status = EXCLUDED.status,
			joined_at = EXCLUDED.joined_at,
			last_dispatched_day_offset = GREATEST(contacts.last_dispatched_day_offset, EXCLUDED.last_dispatched_day_offset),
			name = EXCLUDED.name,
			title = EXCLUDED.title,
			phone = EXCLUDED.phone,
			email = EXCLUDED.email,
			birthday = EXCLUDED.birthday,
			updated_at = NOW()`,
		c.ID, c.OwnerID, string(c.Role), c.Status, c.JoinedAt.UTC(), c.LastDispatchedDayOffset,
		c.Name, c.Title, c.Phone, c.Email, c.Birthday,
	)
	if err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}
	return nil
}

const pgStepColumns = `id, owner_id, sequence_kind, trigger_kind, day_offset, trigger_date,
	content, subject, active, created_at, updated_at`

// ListActiveSteps returns active step definitions of every owner.
func (s *PostgresStore) ListActiveSteps(ctx context.Context) ([]domain.StepDefinition, error) {
	return s.querySteps(ctx, `SELECT `+pgStepColumns+` FROM step_definitions WHERE active ORDER BY id`)
}

// ListSteps returns every step definition.
func (s *PostgresStore) ListSteps(ctx context.Context) ([]domain.StepDefinition, error) {
	return s.querySteps(ctx, `SELECT `+pgStepColumns+` FROM step_definitions ORDER BY id`)
}

func (s *PostgresStore) querySteps(ctx context.Context, query string) ([]domain.StepDefinition, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var steps []domain.StepDefinition
	for rows.Next() {
		step, err := scanPgStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return steps, nil
}

// GetStep retrieves one step definition by id.
func (s *PostgresStore) GetStep(ctx context.Context, id string) (*domain.StepDefinition, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgStepColumns+` FROM step_definitions WHERE id = $1`, id)
	step, err := scanPgStep(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &step, nil
}

// UpsertStep inserts or updates a step definition by id.
func (s *PostgresStore) UpsertStep(ctx context.Context, step *domain.StepDefinition) error {
	content, err := json.Marshal(step.Content.Bodies)
	if err != nil {
		return fmt.Errorf("encode step content: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO step_definitions (id, owner_id, sequence_kind, trigger_kind, day_offset, trigger_date,
			slot, content, subject, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			sequence_kind = EXCLUDED.sequence_kind,
			trigger_kind = EXCLUDED.trigger_kind,
			day_offset = EXCLUDED.day_offset,
			trigger_date = EXCLUDED.trigger_date,
			slot = EXCLUDED.slot,
			content = EXCLUDED.content,
			subject = EXCLUDED.subject,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at`,
		step.ID, step.Owner.AgentID(), string(step.Kind), string(step.Trigger.Kind),
		step.Trigger.DayOffset, step.Trigger.Date, step.Slot(), string(content),
		step.Content.Subject, step.Active, step.CreatedAt.UTC(), step.UpdatedAt.UTC(),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrSlotTaken
		}
		return fmt.Errorf("upsert step: %w", err)
	}
	return nil
}

// DeleteStep removes a step definition by id.
func (s *PostgresStore) DeleteStep(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM step_definitions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete step: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAgents returns the agents whose ids are listed.
func (s *PostgresStore) ListAgents(ctx context.Context, ids []string) ([]*domain.Agent, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, role, monthly_message_limit, full_name, email, phone, agency_name, license_no, bio
		FROM agents WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer rows.Close()

	var agents []*domain.Agent
	for rows.Next() {
		var a domain.Agent
		var role string
		if err := rows.Scan(&a.ID, &role, &a.MonthlyMessageLimit, &a.FullName, &a.Email,
			&a.Phone, &a.AgencyName, &a.LicenseNo, &a.Bio); err != nil {
			return nil, fmt.Errorf("scan agent row: %w", err)
		}
		a.Role = domain.AgentRole(role)
		agents = append(agents, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}
	return agents, nil
}

// UpsertAgent creates or updates an agent profile.
func (s *PostgresStore) UpsertAgent(ctx context.Context, a *domain.Agent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agents (id, role, monthly_message_limit, full_name, email, phone, agency_name, license_no, bio)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			role = EXCLUDED.role,
			monthly_message_limit = EXCLUDED.monthly_message_limit,
			full_name = EXCLUDED.full_name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			agency_name = EXCLUDED.agency_name,
			license_no = EXCLUDED.license_no,
			bio = EXCLUDED.bio`,
		a.ID, string(a.Role), a.MonthlyMessageLimit, a.FullName, a.Email,
		a.Phone, a.AgencyName, a.LicenseNo, a.Bio,
	)
	if err != nil {
		return fmt.Errorf("upsert agent: %w", err)
	}
	return nil
}

// CountSince counts usage records for agentID sent at or after since.
func (s *PostgresStore) CountSince(ctx context.Context, agentID string, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM usage_records WHERE agent_id = $1 AND sent_at >= $2`,
		agentID, since.UTC(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count usage: %w", err)
	}
	return n, nil
}

// Append writes one usage record.
func (s *PostgresStore) Append(ctx context.Context, rec *domain.UsageRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO usage_records (id, agent_id, channel, recipient, snippet, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.AgentID, string(rec.Channel), rec.Recipient, rec.Snippet, rec.SentAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

func scanPgStep(row pgx.Row) (domain.StepDefinition, error) {
	var step domain.StepDefinition
	var ownerID, kind, triggerKind, triggerDate string
	var content []byte

	err := row.Scan(
		&step.ID, &ownerID, &kind, &triggerKind, &step.Trigger.DayOffset, &triggerDate,
		&content, &step.Content.Subject, &step.Active, &step.CreatedAt, &step.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return step, err
	}
	if err != nil {
		return step, fmt.Errorf("scan step row: %w", err)
	}
	if err := json.Unmarshal(content, &step.Content.Bodies); err != nil {
		return step, fmt.Errorf("decode content of step %s: %w", step.ID, err)
	}
	step.Owner = domain.OwnerFromID(ownerID)
	step.Kind = domain.SequenceKind(kind)
	step.Trigger.Kind = domain.TriggerKind(triggerKind)
	step.Trigger.Date = triggerDate
	step.CreatedAt = step.CreatedAt.UTC()
	step.UpdatedAt = step.UpdatedAt.UTC()
	return step, nil
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var (
	_ Repository = (*SQLiteStore)(nil)
	_ Repository = (*PostgresStore)(nil)
)
