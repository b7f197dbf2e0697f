// Package eligibility decides which resolved steps are due for a contact on
// a given day. Everything here is pure date arithmetic over UTC calendar days.
package eligibility

import (
	"time"

	"github.com/ashureev/followups/internal/domain"
)

// renewalMinDays is the earliest elapsed day count at which a monthly
// renewal can fire.
const renewalMinDays = 30

// DaysSince returns the number of whole UTC calendar days between joined and
// today. Times of day are ignored.
func DaysSince(joined, today time.Time) int {
	j := midnightUTC(joined)
	t := midnightUTC(today)
	return int(t.Sub(j).Hours() / 24)
}

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FindDueSteps returns the steps of steps that are due for c on today, in
// input order. Inactive steps never match. Day-offset steps at or below the
// contact's last dispatched offset are dropped; reminder steps are not gated
// by that offset and may fire again on their next occurrence.
func FindDueSteps(c *domain.Contact, steps []domain.StepDefinition, today time.Time) []domain.StepDefinition {
	days := DaysSince(c.JoinedAt, today)
	track := c.Track()

	var due []domain.StepDefinition
	for _, step := range steps {
		if !step.Active {
			continue
		}
		if matches(step, c, track, days, today) {
			due = append(due, step)
		}
	}
	return due
}

func matches(step domain.StepDefinition, c *domain.Contact, track domain.SequenceKind, days int, today time.Time) bool {
	switch step.Trigger.Kind {
	case domain.TriggerDayOffset:
		if step.Kind != track || step.Trigger.DayOffset != days {
			return false
		}
		return c.LastDispatchedDayOffset < step.Trigger.DayOffset

	case domain.TriggerCalendarDate:
		return step.Kind == domain.SequenceReminder && dateMatches(step.Trigger.Date, today)

	case domain.TriggerMonthlyRenewal:
		return step.Kind == domain.SequenceReminder && renewalDue(c.JoinedAt, today, days)

	default:
		// TriggerAuto has no computation rule and never self-matches.
		return false
	}
}

// dateMatches compares a YYYY-MM-DD date exactly, or an MM-DD date against
// the month and day of today.
func dateMatches(date string, today time.Time) bool {
	today = today.UTC()
	if d, err := time.Parse(time.DateOnly, date); err == nil {
		return d.Year() == today.Year() && d.Month() == today.Month() && d.Day() == today.Day()
	}
	if d, err := time.Parse("01-02", date); err == nil {
		return d.Month() == today.Month() && d.Day() == today.Day()
	}
	return false
}

// renewalDue fires on the join day-of-month once the contact is at least 30
// days old. Contacts joined on the 29th-31st skip months that lack that day.
func renewalDue(joined, today time.Time, days int) bool {
	if days <= 0 || days < renewalMinDays {
		return false
	}
	return today.UTC().Day() == joined.UTC().Day()
}

// AlreadyDispatched returns the active day-offset steps that match the
// contact's track and elapsed days today but are gated by its last
// dispatched offset.
func AlreadyDispatched(c *domain.Contact, steps []domain.StepDefinition, today time.Time) []domain.StepDefinition {
	days := DaysSince(c.JoinedAt, today)
	track := c.Track()

	var gated []domain.StepDefinition
	for _, step := range steps {
		if !step.Active || step.Trigger.Kind != domain.TriggerDayOffset {
			continue
		}
		if step.Kind == track && step.Trigger.DayOffset == days && c.LastDispatchedDayOffset >= days {
			gated = append(gated, step)
		}
	}
	return gated
}
