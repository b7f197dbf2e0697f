package sequence

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/followups/internal/domain"
)

const sampleSeed = `
steps:
  - id: welcome
    kind: prospect
    day_offset: 0
    subject: Welcome {contact_name}
    bodies:
      email: "Hi {contact_name},\nI'm {agent_name}."
      sms: "Hi {contact_name}"
  - id: renewal
    kind: reminder
    date: Monthly Renewal
    bodies:
      whatsapp: "Your plan renews today"
  - id: alice-welcome
    owner: alice
    kind: prospect
    day_offset: 0
    active: false
    bodies:
      email: "Alice says hi"
agents:
  - id: alice
    role: agent
    monthly_message_limit: 2
    full_name: Alice Tan
contacts:
  - id: c1
    owner: alice
    role: prospect
    status: active
    joined: 2024-01-01
    name: Jo
    email: jo@example.com
  - id: c2
    owner: alice
    role: client
    status: active
    joined: 2023-06-15
    last_dispatched_day_offset: 30
`

func TestParseSeed(t *testing.T) {
	seed, err := ParseSeed([]byte(sampleSeed))
	if err != nil {
		t.Fatalf("ParseSeed failed: %v", err)
	}

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	steps, err := seed.StepDefinitions(now)
	if err != nil {
		t.Fatalf("StepDefinitions failed: %v", err)
	}
	if len(steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(steps))
	}
	if !domain.IsTenantWide(steps[0].Owner) || steps[0].Trigger != domain.DayOffsetTrigger(0) {
		t.Errorf("unexpected welcome step %+v", steps[0])
	}
	if !strings.Contains(steps[0].Content.Bodies[domain.ChannelEmail], "\n") {
		t.Errorf("expected an escaped newline in the email body")
	}
	if steps[1].Trigger.Kind != domain.TriggerMonthlyRenewal {
		t.Errorf("expected monthly renewal trigger, got %+v", steps[1].Trigger)
	}
	if !domain.OwnedBy(steps[2].Owner, "alice") || steps[2].Active {
		t.Errorf("unexpected override %+v", steps[2])
	}

	if len(seed.Agents) != 1 || seed.Agents[0].MonthlyMessageLimit != 2 {
		t.Errorf("unexpected agents %+v", seed.Agents)
	}

	contacts, err := seed.ContactRecords()
	if err != nil {
		t.Fatalf("ContactRecords failed: %v", err)
	}
	if contacts[0].LastDispatchedDayOffset != domain.NeverDispatched {
		t.Errorf("c1 offset = %d, want %d", contacts[0].LastDispatchedDayOffset, domain.NeverDispatched)
	}
	if contacts[1].LastDispatchedDayOffset != 30 || contacts[1].Role != domain.RoleClient {
		t.Errorf("unexpected c2 %+v", contacts[1])
	}
	if !contacts[0].JoinedAt.Equal(now) {
		t.Errorf("c1 joined = %v", contacts[0].JoinedAt)
	}
}

func TestParseSeed_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"empty", "   ", "empty"},
		{"missing offset", "steps:\n  - id: x\n    kind: prospect\n", "day_offset is required"},
		{"bad date", "steps:\n  - id: x\n    kind: reminder\n    date: someday\n", "YYYY-MM-DD or MM-DD"},
		{"bad kind", "steps:\n  - id: x\n    kind: lead\n    day_offset: 1\n", "unknown sequence kind"},
		{"bad joined", "contacts:\n  - id: c\n    joined: yesterday\n", "joined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSeed([]byte(tt.data))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(sampleSeed), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	seed, err := LoadSeedFile(path)
	if err != nil {
		t.Fatalf("LoadSeedFile failed: %v", err)
	}
	if len(seed.Contacts) != 2 {
		t.Errorf("expected 2 contacts, got %d", len(seed.Contacts))
	}

	if _, err := LoadSeedFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
