package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/followups/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "followups.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testStep(id string, owner domain.Owner, offset int) *domain.StepDefinition {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &domain.StepDefinition{
		ID:      id,
		Owner:   owner,
		Kind:    domain.SequenceProspect,
		Trigger: domain.DayOffsetTrigger(offset),
		Content: domain.Content{
			Bodies:  map[domain.Channel]string{domain.ChannelEmail: "Hi {contact_name}"},
			Subject: "Welcome",
		},
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSQLiteStepRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertStep(ctx, testStep("s-default", domain.TenantWide{}, 3)))
	require.NoError(t, s.UpsertStep(ctx, testStep("s-personal", domain.Personal{Agent: "agent-1"}, 3)))

	got, err := s.GetStep(ctx, "s-personal")
	require.NoError(t, err)
	assert.Equal(t, domain.Personal{Agent: "agent-1"}, got.Owner)
	assert.Equal(t, domain.DayOffsetTrigger(3), got.Trigger)
	assert.Equal(t, "Hi {contact_name}", got.Content.Bodies[domain.ChannelEmail])

	def, err := s.GetStep(ctx, "s-default")
	require.NoError(t, err)
	assert.True(t, domain.IsTenantWide(def.Owner))

	_, err = s.GetStep(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStepSlotIsUniquePerOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertStep(ctx, testStep("a", domain.TenantWide{}, 5)))
	err := s.UpsertStep(ctx, testStep("b", domain.TenantWide{}, 5))
	assert.ErrorIs(t, err, ErrSlotTaken)
}

func TestSQLiteListActiveStepsSkipsInactive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inactive := testStep("off", domain.TenantWide{}, 1)
	inactive.Active = false
	require.NoError(t, s.UpsertStep(ctx, inactive))
	require.NoError(t, s.UpsertStep(ctx, testStep("on", domain.TenantWide{}, 2)))

	active, err := s.ListActiveSteps(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "on", active[0].ID)

	all, err := s.ListSteps(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLiteDayOffsetOnlyMovesForward(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertContact(ctx, &domain.Contact{
		ID: "c1", OwnerID: "agent-1", Role: domain.RoleProspect,
		JoinedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), LastDispatchedDayOffset: -1,
	}))

	require.NoError(t, s.UpdateLastDispatchedDayOffset(ctx, "c1", 3))
	assert.ErrorIs(t, s.UpdateLastDispatchedDayOffset(ctx, "c1", 3), ErrStaleOffset)
	assert.ErrorIs(t, s.UpdateLastDispatchedDayOffset(ctx, "c1", 1), ErrStaleOffset)
	assert.ErrorIs(t, s.UpdateLastDispatchedDayOffset(ctx, "nobody", 1), ErrNotFound)

	// A re-seed with a lower offset must not rewind dispatch state.
	require.NoError(t, s.UpsertContact(ctx, &domain.Contact{
		ID: "c1", OwnerID: "agent-1", Role: domain.RoleProspect,
		JoinedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), LastDispatchedDayOffset: -1,
	}))

	contacts, err := s.ListContacts(ctx, ContactFilter{ContactID: "c1"})
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, 3, contacts[0].LastDispatchedDayOffset)
}

func TestSQLiteListContactsFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	joined := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, c := range []*domain.Contact{
		{ID: "c1", OwnerID: "a", Role: domain.RoleProspect, Status: "new", JoinedAt: joined},
		{ID: "c2", OwnerID: "a", Role: domain.RoleClient, Status: "lapsed", JoinedAt: joined},
		{ID: "c3", OwnerID: "b", Role: domain.RoleClient, Status: "active", JoinedAt: joined},
	} {
		require.NoError(t, s.UpsertContact(ctx, c))
	}

	got, err := s.ListContacts(ctx, ContactFilter{ExcludeStatuses: []string{"lapsed", "closed"}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c1", got[0].ID)
	assert.Equal(t, "c3", got[1].ID)
	assert.True(t, got[0].JoinedAt.Equal(joined))

	one, err := s.ListContacts(ctx, ContactFilter{ContactID: "c2", ExcludeStatuses: []string{"lapsed"}})
	require.NoError(t, err)
	assert.Empty(t, one)
}

func TestSQLiteUsageLedger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	monthStart := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	records := []*domain.UsageRecord{
		{ID: "u1", AgentID: "a", Channel: domain.ChannelEmail, Recipient: "x@example.com", SentAt: monthStart.Add(-time.Hour)},
		{ID: "u2", AgentID: "a", Channel: domain.ChannelEmail, Recipient: "x@example.com", SentAt: monthStart},
		{ID: "u3", AgentID: "a", Channel: domain.ChannelSMS, Recipient: "+100", SentAt: monthStart.Add(48 * time.Hour)},
		{ID: "u4", AgentID: "b", Channel: domain.ChannelSMS, Recipient: "+100", SentAt: monthStart.Add(48 * time.Hour)},
	}
	for _, r := range records {
		require.NoError(t, s.Append(ctx, r))
	}

	n, err := s.CountSince(ctx, "a", monthStart)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSQLiteListAgents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertAgent(ctx, &domain.Agent{ID: "a", Role: domain.AgentRoleAgent, MonthlyMessageLimit: 10, FullName: "Ana"}))
	require.NoError(t, s.UpsertAgent(ctx, &domain.Agent{ID: "op", Role: domain.AgentRoleOperator, FullName: "Ops"}))

	agents, err := s.ListAgents(ctx, []string{"a", "op", "missing"})
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, 10, agents[0].MonthlyMessageLimit)
	assert.True(t, agents[1].Unrestricted())

	none, err := s.ListAgents(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}
