package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DayPart is one of the three partitions of the day used as check-in granularity.
type DayPart int

const (
	Morning DayPart = iota
	Afternoon
	Evening
)

// DayParts lists all parts in day order.
var DayParts = [3]DayPart{Morning, Afternoon, Evening}

func (p DayPart) String() string {
	switch p {
	case Morning:
		return "morning"
	case Afternoon:
		return "afternoon"
	case Evening:
		return "evening"
	default:
		return fmt.Sprintf("daypart(%d)", int(p))
	}
}

// Valid reports whether p is one of the three known parts.
func (p DayPart) Valid() bool {
	return p >= Morning && p <= Evening
}

// ParseDayPart accepts the lowercase names returned by String.
func ParseDayPart(s string) (DayPart, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "morning":
		return Morning, nil
	case "afternoon":
		return Afternoon, nil
	case "evening":
		return Evening, nil
	}
	return 0, fmt.Errorf("unknown day part %q", s)
}

func (p DayPart) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid day part %d", int(p))
	}
	return []byte(p.String()), nil
}

func (p *DayPart) UnmarshalText(b []byte) error {
	v, err := ParseDayPart(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Slot is the check-in state of one day part.
type Slot struct {
	CheckedIn bool       `json:"checked_in"`
	Time      *time.Time `json:"time,omitempty"`
}

// CheckInRecord holds the three day-part slots of one identity for one date.
type CheckInRecord struct {
	Date       time.Time `json:"date"`
	IdentityID uuid.UUID `json:"identity_id"`
	Slots      [3]Slot   `json:"slots"`
}

// Slot returns the slot for part.
func (r CheckInRecord) Slot(part DayPart) Slot {
	return r.Slots[part]
}

// AnyCheckedIn reports whether at least one slot is checked in.
func (r CheckInRecord) AnyCheckedIn() bool {
	for _, s := range r.Slots {
		if s.CheckedIn {
			return true
		}
	}
	return false
}

// AllCheckedIn reports whether every slot is checked in.
func (r CheckInRecord) AllCheckedIn() bool {
	for _, s := range r.Slots {
		if !s.CheckedIn {
			return false
		}
	}
	return true
}

// DateOf truncates t to its calendar date in t's location, returned as UTC midnight.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
