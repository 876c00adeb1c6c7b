// Package session drives the detection loop in continuous check-in or
// gated authorization mode.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/attend/internal/models"
)

var (
	ErrSessionActive      = errors.New("a session is already running")
	ErrNoActiveSession    = errors.New("no active session")
	ErrResolutionNotFound = errors.New("resolution not found or expired")
	ErrNotACandidate      = errors.New("identity is not a candidate of this resolution")
	ErrNoPreview          = errors.New("no preview available")
	ErrInvalidOptions     = errors.New("invalid session options")

	errStopped = errors.New("session stopped")
)

type Mode string

const (
	ModeCheckIn Mode = "checkin"
	ModeGated   Mode = "gated"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case "", ModeCheckIn:
		return ModeCheckIn, nil
	case ModeGated:
		return ModeGated, nil
	}
	return "", fmt.Errorf("unknown session mode %q", s)
}

// State is the controller state machine: Idle, then Detecting and Matching
// alternate until the session reaches Resolved.
type State string

const (
	StateIdle      State = "idle"
	StateDetecting State = "detecting"
	StateMatching  State = "matching"
	StateResolved  State = "resolved"
)

// Options configure one session. Zero values take the controller defaults.
type Options struct {
	Mode        Mode
	MultiPerson bool
	// KeepScanning keeps a check-in session running after a successful match.
	KeepScanning *bool
	// Target restricts a gated session to one identity.
	Target         *uuid.UUID
	Timeout        time.Duration // gated only; negative disables
	RequiredFrames int
	// DayParts overrides the ledger's day-part boundaries for check-ins
	// made by this session.
	DayParts *models.DaySchedule
}

// Session is one run of the controller.
type Session struct {
	ID        uuid.UUID
	Mode      Mode
	Options   Options
	StartedAt time.Time

	cancel context.CancelCauseFunc
	done   chan struct{}
	frames atomic.Int64

	mu      sync.Mutex
	outcome *models.AuthOutcome
	err     error
}

func newSession(opts Options, now time.Time) *Session {
	return &Session{
		ID:        uuid.New(),
		Mode:      opts.Mode,
		Options:   opts,
		StartedAt: now,
		cancel:    func(error) {},
		done:      make(chan struct{}),
	}
}

// Done is closed when the session has ended.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session ends or ctx is done and returns the
// session error. A session ended by Stop returns nil.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Outcome is the terminal result of a gated session, nil until it ends.
func (s *Session) Outcome() *models.AuthOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// FramesProcessed counts frames run through detection.
func (s *Session) FramesProcessed() int64 { return s.frames.Load() }

// setOutcome records the first outcome only.
func (s *Session) setOutcome(o models.AuthOutcome) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome != nil {
		return false
	}
	s.outcome = &o
	return true
}

func (s *Session) end(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.done)
}
