package models

import (
	"fmt"
	"time"
)

const day = 24 * time.Hour

// DaySchedule partitions the 24h day into three contiguous parts.
// Each boundary is an offset from midnight; Evening wraps past midnight
// up to the Morning boundary, so every clock time belongs to exactly one part.
type DaySchedule struct {
	Starts   [3]time.Duration
	Location *time.Location
}

// NewDaySchedule validates boundaries: 0 <= morning < afternoon < evening < 24h.
func NewDaySchedule(morning, afternoon, evening time.Duration, loc *time.Location) (DaySchedule, error) {
	if morning < 0 || morning >= afternoon || afternoon >= evening || evening >= day {
		return DaySchedule{}, fmt.Errorf("boundaries must satisfy 00:00 <= morning < afternoon < evening < 24:00, got %s %s %s",
			FormatClock(morning), FormatClock(afternoon), FormatClock(evening))
	}
	if loc == nil {
		loc = time.Local
	}
	return DaySchedule{Starts: [3]time.Duration{morning, afternoon, evening}, Location: loc}, nil
}

// PartOf maps a clock offset from midnight to its day part.
func (s DaySchedule) PartOf(clock time.Duration) DayPart {
	clock %= day
	if clock < 0 {
		clock += day
	}
	switch {
	case clock >= s.Starts[Evening] || clock < s.Starts[Morning]:
		return Evening
	case clock >= s.Starts[Afternoon]:
		return Afternoon
	default:
		return Morning
	}
}

// At returns the day part and calendar date of t in the schedule location.
func (s DaySchedule) At(t time.Time) (DayPart, time.Time) {
	local := t.In(s.loc())
	return s.PartOf(ClockOf(local)), DateOf(local)
}

// Now returns the current time in the schedule location.
func (s DaySchedule) Now() time.Time {
	return time.Now().In(s.loc())
}

func (s DaySchedule) loc() *time.Location {
	if s.Location == nil {
		return time.Local
	}
	return s.Location
}

// ClockOf returns the offset of t from its local midnight.
func ClockOf(t time.Time) time.Duration {
	h, m, sec := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(sec)*time.Second + time.Duration(t.Nanosecond())
}

// ParseClock parses HH:MM into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// FormatClock renders an offset from midnight as HH:MM.
func FormatClock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d/time.Hour), int(d%time.Hour/time.Minute))
}
