package eligibility

import (
	"testing"
	"time"

	"github.com/ashureev/followups/internal/domain"
)

func date(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func dayStep(id string, kind domain.SequenceKind, day int) domain.StepDefinition {
	return domain.StepDefinition{ID: id, Owner: domain.TenantWide{}, Kind: kind, Trigger: domain.DayOffsetTrigger(day), Active: true}
}

func reminder(id, value string) domain.StepDefinition {
	return domain.StepDefinition{ID: id, Owner: domain.TenantWide{}, Kind: domain.SequenceReminder, Trigger: domain.CalendarTrigger(value), Active: true}
}

func stepIDs(steps []domain.StepDefinition) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.ID
	}
	return out
}

func TestDaysSince(t *testing.T) {
	tests := []struct {
		joined time.Time
		today  time.Time
		want   int
	}{
		{date("2024-01-01"), date("2024-01-01"), 0},
		{date("2024-01-01"), date("2024-01-04"), 3},
		{time.Date(2024, 1, 1, 23, 59, 0, 0, time.UTC), time.Date(2024, 1, 2, 0, 1, 0, 0, time.UTC), 1},
		{time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC), time.Date(2024, 1, 1, 23, 59, 0, 0, time.UTC), 0},
		{date("2024-02-01"), date("2024-03-01"), 29},
		{date("2024-01-10"), date("2024-01-05"), -5},
		// 2024-01-01 20:00 in UTC-5 is 2024-01-02 01:00 UTC.
		{time.Date(2024, 1, 1, 20, 0, 0, 0, time.FixedZone("EST", -5*3600)), date("2024-01-03"), 1},
	}
	for _, tt := range tests {
		if got := DaysSince(tt.joined, tt.today); got != tt.want {
			t.Errorf("DaysSince(%v, %v) = %d, want %d", tt.joined, tt.today, got, tt.want)
		}
	}
}

func TestFindDueSteps_Idempotency(t *testing.T) {
	c := &domain.Contact{ID: "c1", Role: domain.RoleProspect, JoinedAt: date("2024-01-01"), LastDispatchedDayOffset: 5}
	steps := []domain.StepDefinition{
		dayStep("d3", domain.SequenceProspect, 3),
		dayStep("d7", domain.SequenceProspect, 7),
	}

	if got := FindDueSteps(c, steps, date("2024-01-04")); len(got) != 0 {
		t.Errorf("day 3 step must not match past offset 5, got %v", stepIDs(got))
	}

	today := date("2024-01-08")
	for i := 0; i < 3; i++ {
		got := FindDueSteps(c, steps, today)
		if len(got) != 1 || got[0].ID != "d7" {
			t.Fatalf("evaluation %d: expected [d7], got %v", i, stepIDs(got))
		}
	}

	c.LastDispatchedDayOffset = 7
	if got := FindDueSteps(c, steps, today); len(got) != 0 {
		t.Errorf("after advancing to 7 nothing must match, got %v", stepIDs(got))
	}
}

func TestFindDueSteps_DayZeroForNewContact(t *testing.T) {
	c := &domain.Contact{ID: "c1", Role: domain.RoleProspect, JoinedAt: date("2024-01-01"), LastDispatchedDayOffset: domain.NeverDispatched}
	got := FindDueSteps(c, []domain.StepDefinition{dayStep("d0", domain.SequenceProspect, 0)}, date("2024-01-01"))
	if len(got) != 1 {
		t.Fatalf("expected the day 0 step, got %v", stepIDs(got))
	}
}

func TestFindDueSteps_TrackMatching(t *testing.T) {
	steps := []domain.StepDefinition{
		dayStep("p1", domain.SequenceProspect, 1),
		dayStep("c1", domain.SequenceClient, 1),
	}
	today := date("2024-01-02")

	client := &domain.Contact{Role: domain.RoleClient, JoinedAt: date("2024-01-01"), LastDispatchedDayOffset: domain.NeverDispatched}
	if got := stepIDs(FindDueSteps(client, steps, today)); len(got) != 1 || got[0] != "c1" {
		t.Errorf("client: got %v", got)
	}

	other := &domain.Contact{Role: "lead", JoinedAt: date("2024-01-01"), LastDispatchedDayOffset: domain.NeverDispatched}
	if got := stepIDs(FindDueSteps(other, steps, today)); len(got) != 1 || got[0] != "p1" {
		t.Errorf("non-client roles follow the prospect track, got %v", got)
	}
}

func TestFindDueSteps_InactiveNeverMatches(t *testing.T) {
	c := &domain.Contact{Role: domain.RoleProspect, JoinedAt: date("2024-01-01"), LastDispatchedDayOffset: domain.NeverDispatched}
	step := dayStep("d0", domain.SequenceProspect, 0)
	step.Active = false
	if got := FindDueSteps(c, []domain.StepDefinition{step}, date("2024-01-01")); len(got) != 0 {
		t.Errorf("inactive step matched: %v", stepIDs(got))
	}
}

func TestFindDueSteps_CalendarDates(t *testing.T) {
	c := &domain.Contact{Role: domain.RoleClient, JoinedAt: date("2020-05-05"), LastDispatchedDayOffset: 9999}
	steps := []domain.StepDefinition{
		reminder("exact", "2024-12-25"),
		reminder("annual", "12-25"),
		reminder("other", "12-24"),
		reminder("auto", "auto"),
	}

	got := stepIDs(FindDueSteps(c, steps, date("2024-12-25")))
	if len(got) != 2 || got[0] != "exact" || got[1] != "annual" {
		t.Errorf("2024-12-25: got %v", got)
	}

	got = stepIDs(FindDueSteps(c, steps, date("2025-12-25")))
	if len(got) != 1 || got[0] != "annual" {
		t.Errorf("2025-12-25: got %v", got)
	}
}

func TestFindDueSteps_AutoNeverMatches(t *testing.T) {
	c := &domain.Contact{Role: domain.RoleProspect, JoinedAt: date("2024-01-01"), Birthday: "1990-01-01"}
	for d := date("2024-01-01"); d.Year() == 2024; d = d.AddDate(0, 0, 1) {
		if got := FindDueSteps(c, []domain.StepDefinition{reminder("auto", "auto")}, d); len(got) != 0 {
			t.Fatalf("auto trigger matched on %v", d)
		}
	}
}

func TestFindDueSteps_MonthlyRenewal(t *testing.T) {
	renewal := []domain.StepDefinition{reminder("renewal", domain.MonthlyRenewalName)}
	tests := []struct {
		name   string
		joined string
		today  string
		want   bool
	}{
		{"join day", "2024-01-15", "2024-01-15", false},
		{"first anniversary", "2024-01-15", "2024-02-15", true},
		{"wrong day", "2024-01-15", "2024-02-16", false},
		{"under 30 days", "2024-02-01", "2024-03-01", false},
		{"later month", "2024-01-15", "2024-06-15", true},
		{"31st in a 31 day month", "2024-01-31", "2024-03-31", true},
		{"31st skipped in april", "2024-01-31", "2024-04-30", false},
		{"31st not moved to may 1", "2024-01-31", "2024-05-01", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &domain.Contact{Role: domain.RoleClient, JoinedAt: date(tt.joined), LastDispatchedDayOffset: 9999}
			got := len(FindDueSteps(c, renewal, date(tt.today))) == 1
			if got != tt.want {
				t.Errorf("renewal due = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFindDueSteps_RenewalNotGatedByOffset(t *testing.T) {
	c := &domain.Contact{Role: domain.RoleClient, JoinedAt: date("2024-01-10"), LastDispatchedDayOffset: 1000}
	steps := []domain.StepDefinition{reminder("renewal", domain.MonthlyRenewalName)}
	for _, today := range []string{"2024-02-10", "2024-03-10"} {
		if got := FindDueSteps(c, steps, date(today)); len(got) != 1 {
			t.Errorf("%s: expected the renewal to fire, got %v", today, stepIDs(got))
		}
	}
}

func TestFindDueSteps_MultipleMatches(t *testing.T) {
	c := &domain.Contact{Role: domain.RoleClient, JoinedAt: date("2024-01-01"), LastDispatchedDayOffset: 10}
	steps := []domain.StepDefinition{
		dayStep("c31", domain.SequenceClient, 31),
		reminder("renewal", domain.MonthlyRenewalName),
		reminder("feb", "02-01"),
	}
	got := stepIDs(FindDueSteps(c, steps, date("2024-02-01")))
	if len(got) != 3 {
		t.Fatalf("expected all three steps, got %v", got)
	}
}

// The scenario from the product brief: day 0 fires on the join day and day 3
// three days later.
func TestFindDueSteps_JoinScenario(t *testing.T) {
	c := &domain.Contact{Role: domain.RoleProspect, JoinedAt: date("2024-01-01"), LastDispatchedDayOffset: domain.NeverDispatched}
	steps := []domain.StepDefinition{
		dayStep("d0", domain.SequenceProspect, 0),
		dayStep("d3", domain.SequenceProspect, 3),
	}

	if got := stepIDs(FindDueSteps(c, steps, date("2024-01-01"))); len(got) != 1 || got[0] != "d0" {
		t.Errorf("2024-01-01: got %v", got)
	}
	c.LastDispatchedDayOffset = 0
	if got := stepIDs(FindDueSteps(c, steps, date("2024-01-04"))); len(got) != 1 || got[0] != "d3" {
		t.Errorf("2024-01-04: got %v", got)
	}
}

func TestAlreadyDispatched(t *testing.T) {
	c := &domain.Contact{Role: domain.RoleProspect, JoinedAt: date("2024-01-01"), LastDispatchedDayOffset: 3}
	steps := []domain.StepDefinition{
		dayStep("d3", domain.SequenceProspect, 3),
		dayStep("c3", domain.SequenceClient, 3),
		reminder("jan4", "01-04"),
	}
	today := date("2024-01-04")

	got := stepIDs(AlreadyDispatched(c, steps, today))
	if len(got) != 1 || got[0] != "d3" {
		t.Errorf("expected [d3], got %v", got)
	}
	if due := stepIDs(FindDueSteps(c, steps, today)); len(due) != 1 || due[0] != "jan4" {
		t.Errorf("expected only the reminder to be due, got %v", due)
	}
}
