package sequence

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/followups/internal/domain"
	"github.com/ashureev/followups/internal/store"
)

// Seed is the YAML document loaded by the seed command.
type Seed struct {
	Steps    []SeedStep     `yaml:"steps"`
	Agents   []domain.Agent `yaml:"agents"`
	Contacts []SeedContact  `yaml:"contacts"`
}

// SeedStep is a step definition as written in a seed file. An empty owner
// makes it tenant-wide. Reminder steps set date; the others set day_offset.
type SeedStep struct {
	ID        string                    `yaml:"id"`
	Owner     string                    `yaml:"owner"`
	Kind      domain.SequenceKind       `yaml:"kind"`
	DayOffset *int                      `yaml:"day_offset"`
	Date      string                    `yaml:"date"`
	Subject   string                    `yaml:"subject"`
	Bodies    map[domain.Channel]string `yaml:"bodies"`
	Active    *bool                     `yaml:"active"`
}

// SeedContact is a contact as written in a seed file. Joined is YYYY-MM-DD.
type SeedContact struct {
	ID         string             `yaml:"id"`
	Owner      string             `yaml:"owner"`
	Role       domain.ContactRole `yaml:"role"`
	Status     string             `yaml:"status"`
	Joined     string             `yaml:"joined"`
	LastOffset *int               `yaml:"last_dispatched_day_offset"`
	Name       string             `yaml:"name"`
	Title      string             `yaml:"title"`
	Phone      string             `yaml:"phone"`
	Email      string             `yaml:"email"`
	Birthday   string             `yaml:"birthday"`
}

// ParseSeed decodes and validates a seed document.
func ParseSeed(data []byte) (*Seed, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("sequence: seed payload is empty")
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("sequence: decode seed: %w", err)
	}
	if _, err := seed.StepDefinitions(time.Now().UTC()); err != nil {
		return nil, err
	}
	if _, err := seed.ContactRecords(); err != nil {
		return nil, err
	}
	return &seed, nil
}

// LoadSeedFile reads and parses a seed file.
func LoadSeedFile(path string) (*Seed, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sequence: read %s: %w", path, err)
	}
	seed, err := ParseSeed(content)
	if err != nil {
		return nil, fmt.Errorf("sequence: %s: %w", path, err)
	}
	return seed, nil
}

// StepDefinitions converts the seed steps into validated definitions.
func (s *Seed) StepDefinitions(now time.Time) ([]domain.StepDefinition, error) {
	out := make([]domain.StepDefinition, 0, len(s.Steps))
	for _, st := range s.Steps {
		def := domain.StepDefinition{
			ID:        st.ID,
			Owner:     domain.OwnerFromID(st.Owner),
			Kind:      st.Kind,
			Content:   domain.Content{Bodies: st.Bodies, Subject: st.Subject},
			Active:    st.Active == nil || *st.Active,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if st.ID == "" {
			return nil, fmt.Errorf("sequence: seed step without id")
		}
		if st.Kind == domain.SequenceReminder {
			def.Trigger = domain.CalendarTrigger(st.Date)
		} else {
			if st.DayOffset == nil {
				return nil, fmt.Errorf("sequence: seed step %s: day_offset is required", st.ID)
			}
			def.Trigger = domain.DayOffsetTrigger(*st.DayOffset)
		}
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("sequence: seed %w", err)
		}
		out = append(out, def)
	}
	return out, nil
}

// ContactRecords converts the seed contacts, defaulting the dispatch offset
// to "never dispatched".
func (s *Seed) ContactRecords() ([]*domain.Contact, error) {
	out := make([]*domain.Contact, 0, len(s.Contacts))
	for _, sc := range s.Contacts {
		joined, err := time.Parse(time.DateOnly, sc.Joined)
		if err != nil {
			return nil, fmt.Errorf("sequence: seed contact %s: joined: %w", sc.ID, err)
		}
		c := domain.Contact{
			ID:                      sc.ID,
			OwnerID:                 sc.Owner,
			Role:                    sc.Role,
			Status:                  sc.Status,
			JoinedAt:                joined.UTC(),
			LastDispatchedDayOffset: domain.NeverDispatched,
			Name:                    sc.Name,
			Title:                   sc.Title,
			Phone:                   sc.Phone,
			Email:                   sc.Email,
			Birthday:                sc.Birthday,
		}
		if sc.LastOffset != nil {
			c.LastDispatchedDayOffset = *sc.LastOffset
		}
		out = append(out, &c)
	}
	return out, nil
}

// Apply upserts every record of the seed into repo.
func (s *Seed) Apply(ctx context.Context, repo store.Repository) error {
	steps, err := s.StepDefinitions(time.Now().UTC())
	if err != nil {
		return err
	}
	for i := range steps {
		if err := repo.UpsertStep(ctx, &steps[i]); err != nil {
			return fmt.Errorf("seed step %s: %w", steps[i].ID, err)
		}
	}
	for i := range s.Agents {
		if err := repo.UpsertAgent(ctx, &s.Agents[i]); err != nil {
			return fmt.Errorf("seed agent %s: %w", s.Agents[i].ID, err)
		}
	}
	contacts, err := s.ContactRecords()
	if err != nil {
		return err
	}
	for _, c := range contacts {
		if err := repo.UpsertContact(ctx, c); err != nil {
			return fmt.Errorf("seed contact %s: %w", c.ID, err)
		}
	}
	return nil
}
