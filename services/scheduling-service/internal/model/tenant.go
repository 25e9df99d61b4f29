package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chairbook/chairbook/services/scheduling-service/internal/interval"
)

type Tenant struct {
	ID       string
	Name     string
	Active   bool
	Timezone string
	Policy   SchedulePolicy
}

// Location resolves the tenant's IANA timezone, falling back to UTC.
func (t Tenant) Location() *time.Location {
	if t.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type SchedulePolicy struct {
	Opening             interval.Clock
	Closing             interval.Clock
	SlotGranularity     time.Duration
	OpenWeekdays        WeekdaySet
	MinBookingLead      time.Duration
	MinCancellationLead time.Duration
}

func DefaultPolicy() SchedulePolicy {
	return SchedulePolicy{
		Opening:             interval.Clock{Hour: 8},
		Closing:             interval.Clock{Hour: 18},
		SlotGranularity:     30 * time.Minute,
		OpenWeekdays:        NewWeekdaySet(time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday),
		MinBookingLead:      time.Hour,
		MinCancellationLead: 2 * time.Hour,
	}
}

func (p SchedulePolicy) Validate() error {
	if !p.Opening.Before(p.Closing) {
		return fmt.Errorf("opening %s must be before closing %s", p.Opening, p.Closing)
	}
	if p.SlotGranularity <= 0 {
		return errors.New("slot granularity must be positive")
	}
	if p.MinBookingLead < 0 || p.MinCancellationLead < 0 {
		return errors.New("lead times must not be negative")
	}
	return nil
}

func (p SchedulePolicy) OpenOn(d time.Weekday) bool {
	return p.OpenWeekdays.Has(d)
}

// Hours returns the default working range from opening to closing.
func (p SchedulePolicy) Hours() interval.ClockRange {
	return interval.ClockRange{Start: p.Opening, End: p.Closing}
}

type WeekdaySet uint8

func NewWeekdaySet(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s |= 1 << uint(d)
	}
	return s
}

func (s WeekdaySet) Has(d time.Weekday) bool {
	return s&(1<<uint(d)) != 0
}

func (s WeekdaySet) Days() []time.Weekday {
	var out []time.Weekday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

func (s WeekdaySet) String() string {
	parts := make([]string, 0, 7)
	for _, d := range s.Days() {
		parts = append(parts, weekdayCodes[d])
	}
	return strings.Join(parts, ",")
}

var weekdayCodes = [...]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

var weekdayAliases = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
	"dom": time.Sunday, "seg": time.Monday, "ter": time.Tuesday, "qua": time.Wednesday,
	"qui": time.Thursday, "sex": time.Friday, "sab": time.Saturday, "sáb": time.Saturday,
}

// ParseWeekdays parses a comma separated list such as "mon,tue,wed".
// English and Portuguese three letter codes are accepted.
func ParseWeekdays(raw string) (WeekdaySet, error) {
	var s WeekdaySet
	for _, part := range strings.Split(raw, ",") {
		code := strings.ToLower(strings.TrimSpace(part))
		if code == "" {
			continue
		}
		d, ok := weekdayAliases[code]
		if !ok {
			return 0, fmt.Errorf("unknown weekday %q", part)
		}
		s |= NewWeekdaySet(d)
	}
	return s, nil
}

type Professional struct {
	ID       string
	TenantID string
	Name     string
	Phone    string
	Active   bool
}

type OverrideKind string

const (
	OverrideWork   OverrideKind = "work"
	OverrideBreak  OverrideKind = "break"
	OverrideLunch  OverrideKind = "lunch"
	OverrideDayOff OverrideKind = "day_off"
	OverrideOther  OverrideKind = "other"
)

func (k OverrideKind) Valid() bool {
	switch k {
	case OverrideWork, OverrideBreak, OverrideLunch, OverrideDayOff, OverrideOther:
		return true
	}
	return false
}

// Blocking reports whether the override removes time from the professional's day.
func (k OverrideKind) Blocking() bool {
	return k == OverrideBreak || k == OverrideLunch || k == OverrideOther
}

// Override adjusts one professional's schedule on one calendar date.
type Override struct {
	ID             string
	ProfessionalID string
	Date           time.Time
	Range          interval.ClockRange
	Kind           OverrideKind
	Note           string
}

func (o Override) Validate() error {
	if !o.Kind.Valid() {
		return fmt.Errorf("invalid override kind %q", o.Kind)
	}
	if !o.Range.Valid() {
		return fmt.Errorf("override start %s must be before end %s", o.Range.Start, o.Range.End)
	}
	return nil
}
