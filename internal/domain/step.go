package domain

import (
	"fmt"
	"strings"
	"time"
)

// SequenceKind identifies the contact track a step belongs to.
type SequenceKind string

const (
	SequenceProspect SequenceKind = "prospect"
	SequenceClient   SequenceKind = "client"
	SequenceReminder SequenceKind = "reminder"
)

// Valid reports whether k is a known sequence kind.
func (k SequenceKind) Valid() bool {
	switch k {
	case SequenceProspect, SequenceClient, SequenceReminder:
		return true
	}
	return false
}

// Channel is a delivery channel.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
)

// ChannelPreference is the order in which a step's channels are tried.
var ChannelPreference = []Channel{ChannelEmail, ChannelWhatsApp, ChannelSMS}

// TriggerKind distinguishes how a step becomes due.
type TriggerKind string

const (
	// TriggerDayOffset fires N days after the contact joined.
	TriggerDayOffset TriggerKind = "day_offset"
	// TriggerCalendarDate fires on a fixed date (YYYY-MM-DD) or every year
	// on a month-day (MM-DD).
	TriggerCalendarDate TriggerKind = "calendar_date"
	// TriggerMonthlyRenewal fires on the join day-of-month, from day 30 on.
	TriggerMonthlyRenewal TriggerKind = "monthly_renewal"
	// TriggerAuto is computed from contact fields elsewhere. It never matches here.
	TriggerAuto TriggerKind = "auto"
)

// Named trigger values as they appear in stored definitions.
const (
	AutoDate           = "auto"
	MonthlyRenewalName = "Monthly Renewal"
)

// Trigger describes when a step is due.
type Trigger struct {
	Kind      TriggerKind `json:"kind" yaml:"kind"`
	DayOffset int         `json:"day_offset,omitempty" yaml:"day_offset,omitempty"`
	Date      string      `json:"date,omitempty" yaml:"date,omitempty"`
}

// DayOffsetTrigger returns a day-offset trigger.
func DayOffsetTrigger(days int) Trigger {
	return Trigger{Kind: TriggerDayOffset, DayOffset: days}
}

// CalendarTrigger builds a reminder trigger from its stored date value.
// "auto" and "Monthly Renewal" map to their named kinds.
func CalendarTrigger(date string) Trigger {
	switch {
	case strings.EqualFold(date, AutoDate):
		return Trigger{Kind: TriggerAuto, Date: AutoDate}
	case strings.EqualFold(date, MonthlyRenewalName):
		return Trigger{Kind: TriggerMonthlyRenewal, Date: MonthlyRenewalName}
	default:
		return Trigger{Kind: TriggerCalendarDate, Date: date}
	}
}

// Event returns the event part of the trigger slot.
func (t Trigger) Event() string {
	switch t.Kind {
	case TriggerDayOffset:
		return fmt.Sprintf("day:%d", t.DayOffset)
	case TriggerMonthlyRenewal:
		return "event:" + MonthlyRenewalName
	case TriggerAuto:
		return "event:" + AutoDate
	default:
		return "date:" + t.Date
	}
}

// Validate checks that the trigger is internally consistent.
func (t Trigger) Validate() error {
	switch t.Kind {
	case TriggerDayOffset:
		if t.DayOffset < 0 {
			return fmt.Errorf("day offset must be >= 0, got %d", t.DayOffset)
		}
	case TriggerCalendarDate:
		if _, err := time.Parse(time.DateOnly, t.Date); err == nil {
			return nil
		}
		if _, err := time.Parse("01-02", t.Date); err == nil {
			return nil
		}
		return fmt.Errorf("calendar date %q must be YYYY-MM-DD or MM-DD", t.Date)
	case TriggerMonthlyRenewal, TriggerAuto:
	default:
		return fmt.Errorf("unknown trigger kind %q", t.Kind)
	}
	return nil
}

// Content holds per-channel message bodies for one step.
type Content struct {
	Bodies  map[Channel]string `json:"bodies" yaml:"bodies"`
	Subject string             `json:"subject,omitempty" yaml:"subject,omitempty"`
}

// Clone returns a deep copy of c.
func (c Content) Clone() Content {
	out := Content{Subject: c.Subject, Bodies: make(map[Channel]string, len(c.Bodies))}
	for ch, body := range c.Bodies {
		out.Bodies[ch] = body
	}
	return out
}

// StepDefinition is one scheduled message template slot.
type StepDefinition struct {
	ID        string       `json:"id"`
	Owner     Owner        `json:"-"`
	Kind      SequenceKind `json:"sequence_kind"`
	Trigger   Trigger      `json:"trigger"`
	Content   Content      `json:"content"`
	Active    bool         `json:"active"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Slot returns the trigger-slot key. Two definitions of the same owner may
// never share a slot, and a personal definition shadows the tenant-wide one
// occupying the same slot.
func (s StepDefinition) Slot() string {
	return string(s.Kind) + "/" + s.Trigger.Event()
}

// IsReminder reports whether the step belongs to the reminder track.
func (s StepDefinition) IsReminder() bool {
	return s.Kind == SequenceReminder
}

// Validate checks kind, trigger and content.
func (s StepDefinition) Validate() error {
	if s.Owner == nil {
		return fmt.Errorf("step %s: owner is required", s.ID)
	}
	if !s.Kind.Valid() {
		return fmt.Errorf("step %s: unknown sequence kind %q", s.ID, s.Kind)
	}
	if err := s.Trigger.Validate(); err != nil {
		return fmt.Errorf("step %s: %w", s.ID, err)
	}
	if s.Kind != SequenceReminder && s.Trigger.Kind != TriggerDayOffset {
		return fmt.Errorf("step %s: %s steps require a day offset trigger", s.ID, s.Kind)
	}
	if s.Kind == SequenceReminder && s.Trigger.Kind == TriggerDayOffset {
		return fmt.Errorf("step %s: reminder steps require a date trigger", s.ID)
	}
	return nil
}
