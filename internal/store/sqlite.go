package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/followups/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode lets the API read while a pass is writing.
	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS step_definitions (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL DEFAULT '',
		sequence_kind TEXT NOT NULL,
		trigger_kind TEXT NOT NULL,
		day_offset INTEGER NOT NULL DEFAULT 0,
		trigger_date TEXT NOT NULL DEFAULT '',
		slot TEXT NOT NULL,
		content_json TEXT NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_steps_owner_slot ON step_definitions(owner_id, slot);

	CREATE TABLE IF NOT EXISTS contacts (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		role TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT '',
		joined_at INTEGER NOT NULL,
		last_dispatched_day_offset INTEGER NOT NULL DEFAULT -1,
		name TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		birthday TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL
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
		sent_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_usage_agent_sent ON usage_records(agent_id, sent_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

const contactColumns = `id, owner_id, role, status, joined_at, last_dispatched_day_offset,
	name, title, phone, email, birthday`

// ListContacts returns contacts matching filter.
func (s *SQLiteStore) ListContacts(ctx context.Context, filter ContactFilter) ([]*domain.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE 1=1`
	var args []interface{}

	if filter.ContactID != "" {
		query += ` AND id = ?`
		args = append(args, filter.ContactID)
	}
	if len(filter.ExcludeStatuses) > 0 {
		query += ` AND status NOT IN (` + placeholders(len(filter.ExcludeStatuses)) + `)`
		for _, st := range filter.ExcludeStatuses {
			args = append(args, st)
		}
	}
	query += ` ORDER BY owner_id, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close contact rows", "error", closeErr)
		}
	}()

	var contacts []*domain.Contact
	for rows.Next() {
		var c domain.Contact
		var role string
		var joinedAt int64
		if err := rows.Scan(
			&c.ID, &c.OwnerID, &role, &c.Status, &joinedAt, &c.LastDispatchedDayOffset,
			&c.Name, &c.Title, &c.Phone, &c.Email, &c.Birthday,
		); err != nil {
			return nil, fmt.Errorf("scan contact row: %w", err)
		}
		c.Role = domain.ContactRole(role)
		c.JoinedAt = time.Unix(joinedAt, 0).UTC()
		contacts = append(contacts, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}
	return contacts, nil
}

// UpdateLastDispatchedDayOffset advances a contact's offset, forward only.
func (s *SQLiteStore) UpdateLastDispatchedDayOffset(ctx context.Context, contactID string, offset int) error {
	return withBusyRetry(ctx, "update last dispatched offset", func() error {
		result, err := s.db.ExecContext(ctx,
			`UPDATE contacts SET last_dispatched_day_offset = ?, updated_at = ?
			 WHERE id = ? AND last_dispatched_day_offset < ?`,
			offset, time.Now().Unix(), contactID, offset)
		if err != nil {
			return fmt.Errorf("update last_dispatched_day_offset: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows > 0 {
			return nil
		}

		var exists int
		err = s.db.QueryRowContext(ctx, `SELECT 1 FROM contacts WHERE id = ?`, contactID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("check contact: %w", err)
		}
		return ErrStaleOffset
	})
}

// UpsertContact creates or updates a contact. The stored dispatch offset is
// never moved backwards by an upsert.
func (s *SQLiteStore) UpsertContact(ctx context.Context, c *domain.Contact) error {
	query := `
	INSERT INTO contacts (id, owner_id, role, status, joined_at, last_dispatched_day_offset,
		name, title, phone, email, birthday, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		owner_id = excluded.owner_id,
		role = excluded.role,
		status = excluded.status,
		joined_at = excluded.joined_at,
		last_dispatched_day_offset = MAX(contacts.last_dispatched_day_offset, excluded.last_dispatched_day_offset),
		name = excluded.name,
		title = excluded.title,
		phone = excluded.phone,
		email = excluded.email,
		birthday = excluded.birthday,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.OwnerID, string(c.Role), c.Status, c.JoinedAt.Unix(), c.LastDispatchedDayOffset,
		c.Name, c.Title, c.Phone, c.Email, c.Birthday, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}
	return nil
}

const stepColumns = `id, owner_id, sequence_kind, trigger_kind, day_offset, trigger_date,
	content_json, subject, active, created_at, updated_at`

// ListActiveSteps returns active step definitions of every owner.
func (s *SQLiteStore) ListActiveSteps(ctx context.Context) ([]domain.StepDefinition, error) {
	return s.querySteps(ctx, `SELECT `+stepColumns+` FROM step_definitions WHERE active = 1 ORDER BY id`)
}

// ListSteps returns every step definition.
func (s *SQLiteStore) ListSteps(ctx context.Context) ([]domain.StepDefinition, error) {
	return s.querySteps(ctx, `SELECT `+stepColumns+` FROM step_definitions ORDER BY id`)
}

func (s *SQLiteStore) querySteps(ctx context.Context, query string, args ...interface{}) ([]domain.StepDefinition, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close step rows", "error", closeErr)
		}
	}()

	var steps []domain.StepDefinition
	for rows.Next() {
		step, err := scanStep(rows)
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
func (s *SQLiteStore) GetStep(ctx context.Context, id string) (*domain.StepDefinition, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+stepColumns+` FROM step_definitions WHERE id = ?`, id)
	step, err := scanStep(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &step, nil
}

// UpsertStep inserts or updates a step definition by id.
func (s *SQLiteStore) UpsertStep(ctx context.Context, step *domain.StepDefinition) error {
	content, err := json.Marshal(step.Content.Bodies)
	if err != nil {
		return fmt.Errorf("encode step content: %w", err)
	}

	query := `
	INSERT INTO step_definitions (id, owner_id, sequence_kind, trigger_kind, day_offset, trigger_date,
		slot, content_json, subject, active, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		owner_id = excluded.owner_id,
		sequence_kind = excluded.sequence_kind,
		trigger_kind = excluded.trigger_kind,
		day_offset = excluded.day_offset,
		trigger_date = excluded.trigger_date,
		slot = excluded.slot,
		content_json = excluded.content_json,
		subject = excluded.subject,
		active = excluded.active,
		updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, query,
		step.ID, step.Owner.AgentID(), string(step.Kind), string(step.Trigger.Kind),
		step.Trigger.DayOffset, step.Trigger.Date, step.Slot(), string(content),
		step.Content.Subject, step.Active, step.CreatedAt.Unix(), step.UpdatedAt.Unix(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrSlotTaken
		}
		return fmt.Errorf("upsert step: %w", err)
	}
	return nil
}

// DeleteStep removes a step definition by id.
func (s *SQLiteStore) DeleteStep(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM step_definitions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete step: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAgents returns the agents whose ids are listed.
func (s *SQLiteStore) ListAgents(ctx context.Context, ids []string) ([]*domain.Agent, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT id, role, monthly_message_limit, full_name, email, phone, agency_name, license_no, bio
		FROM agents WHERE id IN (` + placeholders(len(ids)) + `) ORDER BY id`
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close agent rows", "error", closeErr)
		}
	}()

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
func (s *SQLiteStore) UpsertAgent(ctx context.Context, a *domain.Agent) error {
	query := `
	INSERT INTO agents (id, role, monthly_message_limit, full_name, email, phone, agency_name, license_no, bio)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		role = excluded.role,
		monthly_message_limit = excluded.monthly_message_limit,
		full_name = excluded.full_name,
		email = excluded.email,
		phone = excluded.phone,
		agency_name = excluded.agency_name,
		license_no = excluded.license_no,
		bio = excluded.bio`

	_, err := s.db.ExecContext(ctx, query,
		a.ID, string(a.Role), a.MonthlyMessageLimit, a.FullName, a.Email,
		a.Phone, a.AgencyName, a.LicenseNo, a.Bio,
	)
	if err != nil {
		return fmt.Errorf("upsert agent: %w", err)
	}
	return nil
}

// CountSince counts usage records for agentID sent at or after since.
func (s *SQLiteStore) CountSince(ctx context.Context, agentID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM usage_records WHERE agent_id = ? AND sent_at >= ?`,
		agentID, since.Unix(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count usage: %w", err)
	}
	return n, nil
}

// Append writes one usage record.
func (s *SQLiteStore) Append(ctx context.Context, rec *domain.UsageRecord) error {
	return withBusyRetry(ctx, "append usage", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO usage_records (id, agent_id, channel, recipient, snippet, sent_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.AgentID, string(rec.Channel), rec.Recipient, rec.Snippet, rec.SentAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert usage record: %w", err)
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStep(row rowScanner) (domain.StepDefinition, error) {
	var step domain.StepDefinition
	var ownerID, kind, triggerKind, triggerDate, contentJSON string
	var dayOffset int
	var createdAt, updatedAt int64

	err := row.Scan(
		&step.ID, &ownerID, &kind, &triggerKind, &dayOffset, &triggerDate,
		&contentJSON, &step.Content.Subject, &step.Active, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return step, err
	}
	if err != nil {
		return step, fmt.Errorf("scan step row: %w", err)
	}

	if err := json.Unmarshal([]byte(contentJSON), &step.Content.Bodies); err != nil {
		return step, fmt.Errorf("decode content of step %s: %w", step.ID, err)
	}
	step.Owner = domain.OwnerFromID(ownerID)
	step.Kind = domain.SequenceKind(kind)
	step.Trigger = domain.Trigger{Kind: domain.TriggerKind(triggerKind), DayOffset: dayOffset, Date: triggerDate}
	step.CreatedAt = time.Unix(createdAt, 0).UTC()
	step.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return step, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
