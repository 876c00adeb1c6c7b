package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/your-org/attend/internal/config"
	"github.com/your-org/attend/internal/session"
)

// ControlSubject carries remote start/stop/cancel commands over core NATS.
const ControlSubject = "attend.control"

// Command is a control message. Options apply to start only.
type Command struct {
	Action         string                 `json:"action"` // start, stop, cancel
	Mode           string                 `json:"mode,omitempty"`
	MultiPerson    bool                   `json:"multi_person,omitempty"`
	KeepScanning   *bool                  `json:"keep_scanning,omitempty"`
	Target         *uuid.UUID             `json:"target,omitempty"`
	Timeout        string                 `json:"timeout,omitempty"`
	RequiredFrames int                    `json:"required_frames,omitempty"`
	DayParts       *config.DayPartsConfig `json:"day_parts,omitempty"`
}

// ControlReply is sent back when the command carries a reply subject.
type ControlReply struct {
	OK        bool       `json:"ok"`
	SessionID *uuid.UUID `json:"session_id,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// SessionControl is the part of the session controller commands drive.
type SessionControl interface {
	Start(ctx context.Context, opts session.Options) (*session.Session, error)
	Stop() error
	Cancel() error
}

func ParseCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return cmd, fmt.Errorf("decode command: %w", err)
	}
	switch cmd.Action {
	case "start", "stop", "cancel":
	default:
		return cmd, fmt.Errorf("unknown action %q", cmd.Action)
	}
	return cmd, nil
}

// Options converts a start command into session options.
func (cmd Command) Options() (session.Options, error) {
	mode, err := session.ParseMode(cmd.Mode)
	if err != nil {
		return session.Options{}, err
	}
	opts := session.Options{
		Mode:           mode,
		MultiPerson:    cmd.MultiPerson,
		KeepScanning:   cmd.KeepScanning,
		Target:         cmd.Target,
		RequiredFrames: cmd.RequiredFrames,
	}
	if cmd.Timeout != "" {
		d, err := time.ParseDuration(cmd.Timeout)
		if err != nil {
			return session.Options{}, fmt.Errorf("parse timeout: %w", err)
		}
		opts.Timeout = d
	}
	if cmd.DayParts != nil {
		sched, err := cmd.DayParts.Schedule()
		if err != nil {
			return session.Options{}, fmt.Errorf("parse day parts: %w", err)
		}
		opts.DayParts = &sched
	}
	return opts, nil
}

// Consumer subscribes to control commands.
type Consumer struct {
	nc *nats.Conn
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc}, nil
}

// ServeControl dispatches commands to ctrl until ctx is done.
func (c *Consumer) ServeControl(ctx context.Context, ctrl SessionControl) error {
	sub, err := c.nc.Subscribe(ControlSubject, func(msg *nats.Msg) {
		reply := Dispatch(ctx, ctrl, msg.Data)
		if msg.Reply == "" {
			return
		}
		data, err := json.Marshal(reply)
		if err != nil {
			slog.Error("marshal control reply", "error", err)
			return
		}
		if err := msg.Respond(data); err != nil {
			slog.Warn("respond to control command", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", ControlSubject, err)
	}
	slog.Info("control consumer started", "subject", ControlSubject)

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil {
		slog.Warn("unsubscribe control", "error", err)
	}
	return nil
}

// Dispatch runs one encoded command against ctrl.
func Dispatch(ctx context.Context, ctrl SessionControl, data []byte) ControlReply {
	cmd, err := ParseCommand(data)
	if err != nil {
		slog.Warn("invalid control command", "error", err)
		return ControlReply{Error: err.Error()}
	}
	slog.Info("control command", "action", cmd.Action, "mode", cmd.Mode)

	switch cmd.Action {
	case "start":
		opts, err := cmd.Options()
		if err != nil {
			return ControlReply{Error: err.Error()}
		}
		s, err := ctrl.Start(ctx, opts)
		if err != nil {
			return ControlReply{Error: err.Error()}
		}
		return ControlReply{OK: true, SessionID: &s.ID}
	case "stop":
		err = ctrl.Stop()
	case "cancel":
		err = ctrl.Cancel()
	}
	if err != nil {
		return ControlReply{Error: err.Error()}
	}
	return ControlReply{OK: true}
}

func (c *Consumer) Close() {
	c.nc.Close()
}
