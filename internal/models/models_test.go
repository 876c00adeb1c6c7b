package models

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDayScheduleRejectsBadBoundaries(t *testing.T) {
	tests := []struct {
		name    string
		m, a, e time.Duration
	}{
		{"equal", 8 * time.Hour, 8 * time.Hour, 18 * time.Hour},
		{"decreasing", 12 * time.Hour, 8 * time.Hour, 18 * time.Hour},
		{"past midnight", 8 * time.Hour, 12 * time.Hour, 24 * time.Hour},
		{"negative", -time.Hour, 12 * time.Hour, 18 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDaySchedule(tt.m, tt.a, tt.e, time.UTC)
			assert.Error(t, err)
		})
	}
}

func TestPartOfWrapsEvening(t *testing.T) {
	s, err := NewDaySchedule(6*time.Hour, 12*time.Hour, 18*time.Hour, time.UTC)
	require.NoError(t, err)

	tests := []struct {
		clock string
		want  DayPart
	}{
		{"00:00", Evening},
		{"05:59", Evening},
		{"06:00", Morning},
		{"11:59", Morning},
		{"12:00", Afternoon},
		{"17:59", Afternoon},
		{"18:00", Evening},
		{"23:59", Evening},
	}
	for _, tt := range tests {
		c, err := ParseClock(tt.clock)
		require.NoError(t, err)
		assert.Equal(t, tt.want, s.PartOf(c), tt.clock)
	}
}

func TestAtUsesScheduleLocation(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	s, err := NewDaySchedule(0, 12*time.Hour, 18*time.Hour, loc)
	require.NoError(t, err)

	// 22:30 UTC is 01:30 the next day in UTC+3.
	part, date := s.At(time.Date(2026, 3, 2, 22, 30, 0, 0, time.UTC))
	assert.Equal(t, Morning, part)
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), date)
}

func TestClockRoundTrip(t *testing.T) {
	d, err := ParseClock("07:45")
	require.NoError(t, err)
	assert.Equal(t, 7*time.Hour+45*time.Minute, d)
	assert.Equal(t, "07:45", FormatClock(d))

	_, err = ParseClock("7.45")
	assert.Error(t, err)
}

func TestDayPartText(t *testing.T) {
	for _, p := range DayParts {
		b, err := p.MarshalText()
		require.NoError(t, err)
		var got DayPart
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, p, got)
	}
	_, err := DayPart(7).MarshalText()
	assert.Error(t, err)
	_, err = ParseDayPart("noon")
	assert.Error(t, err)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, ErrorKindNone},
		{fmt.Errorf("open camera: %w", ErrDeviceUnavailable), ErrorKindDeviceUnavailable},
		{ErrNoFaceDetected, ErrorKindNoFaceDetected},
		{fmt.Errorf("encode: %w", ErrEncodingFailed), ErrorKindEncodingFailed},
		{ErrEmptyEnrollmentSet, ErrorKindEmptyEnrollmentSet},
		{ErrDimensionMismatch, ErrorKindDimensionMismatch},
		{ErrUnknownIdentity, ErrorKindUnknownIdentity},
		{context.Canceled, ErrorKindCancelled},
		{ErrTimeout, ErrorKindTimeout},
		{context.DeadlineExceeded, ErrorKindTimeout},
		{errors.New("boom"), ErrorKindInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.err))
	}
	assert.True(t, ErrorKindNoFaceDetected.Transient())
	assert.False(t, ErrorKindDeviceUnavailable.Transient())
}

func TestRecordSlots(t *testing.T) {
	now := time.Now()
	var r CheckInRecord
	assert.False(t, r.AnyCheckedIn())

	r.Slots[Afternoon] = Slot{CheckedIn: true, Time: &now}
	assert.True(t, r.AnyCheckedIn())
	assert.False(t, r.AllCheckedIn())
	assert.True(t, r.Slot(Afternoon).CheckedIn)

	r.Slots[Morning] = Slot{CheckedIn: true, Time: &now}
	r.Slots[Evening] = Slot{CheckedIn: true, Time: &now}
	assert.True(t, r.AllCheckedIn())
}

func TestIdentityLabel(t *testing.T) {
	i := Identity{DisplayName: "alice"}
	assert.Equal(t, "alice", i.Label())
	i.DisplayName = ""
	assert.Equal(t, i.ID.String(), i.Label())
}
