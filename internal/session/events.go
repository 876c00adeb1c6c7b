package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/attend/internal/ledger"
	"github.com/your-org/attend/internal/models"
	"github.com/your-org/attend/internal/observability"
)

type EventType string

const (
	EventStatus    EventType = "status"
	EventUnmatched EventType = "unmatched"
	EventCheckedIn EventType = "checked_in"
	EventAmbiguous EventType = "ambiguous"
	EventDenied    EventType = "denied"
	EventOutcome   EventType = "outcome"
	EventError     EventType = "error"
	EventEnded     EventType = "ended"
)

// Event is an immutable notification for presentation layers.
type Event struct {
	Type          EventType               `json:"type"`
	SessionID     uuid.UUID               `json:"session_id"`
	State         State                   `json:"state"`
	Message       string                  `json:"message,omitempty"`
	FacesDetected int                     `json:"faces_detected"`
	Consecutive   int                     `json:"consecutive,omitempty"`
	Required      int                     `json:"required,omitempty"`
	Matched       []models.Identity       `json:"matched,omitempty"`
	Ambiguous     bool                    `json:"ambiguous"`
	Candidates    []models.MatchCandidate `json:"candidates,omitempty"`
	ResolutionID  string                  `json:"resolution_id,omitempty"`
	CheckIns      []ledger.Result         `json:"checkins,omitempty"`
	Outcome       *models.AuthOutcome     `json:"outcome,omitempty"`
	ErrorKind     models.ErrorKind        `json:"error_kind,omitempty"`
	Timestamp     time.Time               `json:"timestamp"`
}

// bus fans events out to subscribers. Slow subscribers lose events.
type bus struct {
	mu   sync.RWMutex
	next int
	subs map[int]chan Event
}

func newBus() *bus {
	return &bus{subs: make(map[int]chan Event)}
}

func (b *bus) subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

func (b *bus) publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			observability.EventsDropped.Inc()
		}
	}
}
