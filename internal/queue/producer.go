package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/attend/internal/session"
)

const (
	EventsStreamName    = "EVENTS"
	EventsSubjectBase   = "events"
	CheckInsStreamName  = "CHECKINS"
	CheckInsSubjectBase = "checkins"
)

// Producer publishes session events to JetStream.
type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func connect(natsURL string) (*nats.Conn, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return nc, nil
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, err := connect(natsURL)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Producer{nc: nc, js: js}, nil
}

// EnsureStreams creates JetStream streams if they don't exist.
// Retries up to 30 times (1s apart) to handle NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	streams := []jetstream.StreamConfig{
		{
			Name:        EventsStreamName,
			Subjects:    []string{EventsSubjectBase + ".>"},
			Retention:   jetstream.InterestPolicy,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     1000000,
			Storage:     jetstream.FileStorage,
			Description: "Session events: matches, denials, outcomes",
		},
		{
			Name:        CheckInsStreamName,
			Subjects:    []string{CheckInsSubjectBase + ".>"},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      30 * 24 * time.Hour,
			Storage:     jetstream.FileStorage,
			Duplicates:  time.Hour,
			Description: "Persisted check-ins by date",
		},
	}

	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		allOK := true
		for _, cfg := range streams {
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
			cancel()
			if err != nil {
				allOK = false
				if attempt == maxAttempts {
					return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
				}
				slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
				break
			}
			slog.Info("ensured NATS stream", "name", cfg.Name)
		}
		if allOK {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// PublishEvent publishes a session event on events.<session-id>.
func (p *Producer) PublishEvent(ctx context.Context, ev session.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", EventsSubjectBase, ev.SessionID)
	if _, err := p.js.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// PublishCheckIns publishes each new check-in on checkins.<date>. The
// message id makes redelivery of the same slot a no-op.
func (p *Producer) PublishCheckIns(ctx context.Context, ev session.Event) error {
	for _, r := range ev.CheckIns {
		if !r.Changed {
			continue
		}
		payload, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal check-in: %w", err)
		}
		subject := fmt.Sprintf("%s.%s", CheckInsSubjectBase, r.Date.Format(time.DateOnly))
		msgID := fmt.Sprintf("%s/%s/%s", r.Date.Format(time.DateOnly), r.IdentityID, r.Part)
		if _, err := p.js.Publish(ctx, subject, payload, jetstream.WithMsgID(msgID)); err != nil {
			return fmt.Errorf("publish check-in: %w", err)
		}
	}
	return nil
}

// Forward publishes events until the channel closes or ctx is done.
// Per-frame status events stay local.
func (p *Producer) Forward(ctx context.Context, events <-chan session.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if !forwarded(ev) {
				continue
			}
			if err := p.PublishEvent(ctx, ev); err != nil {
				slog.Warn("forward event", "type", ev.Type, "session_id", ev.SessionID, "error", err)
			}
			if ev.Type == session.EventCheckedIn {
				if err := p.PublishCheckIns(ctx, ev); err != nil {
					slog.Warn("forward check-ins", "session_id", ev.SessionID, "error", err)
				}
			}
		}
	}
}

func forwarded(ev session.Event) bool {
	return ev.Type != session.EventStatus
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
