package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/your-org/attend/internal/config"
	"github.com/your-org/attend/internal/debounce"
	"github.com/your-org/attend/internal/ingest"
	"github.com/your-org/attend/internal/ledger"
	"github.com/your-org/attend/internal/matcher"
	"github.com/your-org/attend/internal/models"
	"github.com/your-org/attend/internal/observability"
	"github.com/your-org/attend/internal/vision"
)

// Enrollment supplies a point-in-time snapshot of enrolled identities.
type Enrollment interface {
	Snapshot(ctx context.Context) ([]models.Identity, error)
}

// CheckInWriter accepts check-in requests without waiting for persistence.
type CheckInWriter interface {
	Submit(ctx context.Context, req ledger.Request) error
}

type Deps struct {
	Sources  ingest.SourceFactory
	Adapter  vision.Adapter
	Matcher  *matcher.Matcher
	Enrolled Enrollment
	Writer   CheckInWriter
}

// Status is the latest observable controller state.
type Status struct {
	SessionID       *uuid.UUID          `json:"session_id,omitempty"`
	Mode            Mode                `json:"mode,omitempty"`
	MultiPerson     bool                `json:"multi_person"`
	State           State               `json:"state"`
	Running         bool                `json:"running"`
	FacesDetected   int                 `json:"faces_detected"`
	Consecutive     int                 `json:"consecutive"`
	Required        int                 `json:"required"`
	Message         string              `json:"message"`
	Notice          string              `json:"notice,omitempty"`
	LastError       string              `json:"last_error,omitempty"`
	Outcome         *models.AuthOutcome `json:"outcome,omitempty"`
	FramesProcessed int64               `json:"frames_processed"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// Controller runs at most one session at a time.
type Controller struct {
	deps        Deps
	cfg         config.SessionConfig
	bus         *bus
	resolutions *cache.Cache
	resolveMu   sync.Mutex

	mu          sync.Mutex
	active      *Session
	status      Status
	noticeUntil time.Time
	preview     image.Image

	now    func() time.Time
	logger *slog.Logger
}

func NewController(deps Deps, cfg config.SessionConfig) *Controller {
	if cfg.ResolutionTTL <= 0 {
		cfg.ResolutionTTL = 5 * time.Minute
	}
	if cfg.NoticeDuration <= 0 {
		cfg.NoticeDuration = 2 * time.Second
	}
	return &Controller{
		deps:        deps,
		cfg:         cfg,
		bus:         newBus(),
		resolutions: cache.New(cfg.ResolutionTTL, 2*cfg.ResolutionTTL),
		status:      Status{State: StateIdle, Message: "idle"},
		now:         time.Now,
		logger:      slog.Default().With("component", "session"),
	}
}

// Subscribe returns a channel of events and a function that closes it.
// Events are dropped when the channel is full.
func (c *Controller) Subscribe(buffer int) (<-chan Event, func()) {
	return c.bus.subscribe(buffer)
}

// Start begins a session. A gated session with nothing enrolled ends before
// the camera is opened and is returned already finished.
func (c *Controller) Start(ctx context.Context, opts Options) (*Session, error) {
	opts, err := c.withDefaults(opts)
	if err != nil {
		return nil, err
	}

	s := newSession(opts, c.now())
	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	s.cancel = cancel
	if opts.Mode == ModeGated && opts.Timeout > 0 {
		var stop context.CancelFunc
		runCtx, stop = context.WithTimeoutCause(runCtx, opts.Timeout, models.ErrTimeout)
		s.cancel = func(cause error) {
			cancel(cause)
			stop()
		}
	}

	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		s.cancel(errStopped)
		return nil, ErrSessionActive
	}
	c.active = s
	c.status = Status{
		SessionID:   &s.ID,
		Mode:        opts.Mode,
		MultiPerson: opts.MultiPerson,
		State:       StateDetecting,
		Running:     true,
		Required:    opts.RequiredFrames,
		Message:     "starting",
		UpdatedAt:   c.now(),
	}
	c.preview = nil
	c.mu.Unlock()

	observability.ActiveSessions.Inc()
	c.logger.Info("session started", "session_id", s.ID, "mode", opts.Mode,
		"multi_person", opts.MultiPerson, "required_frames", opts.RequiredFrames)

	if opts.Mode == ModeGated {
		if err := c.precheckGated(runCtx, opts); err != nil {
			c.finish(s, err)
			s.cancel(errStopped)
			return s, nil
		}
	}

	go c.run(runCtx, s)
	return s, nil
}

// Stop ends the active session between frames.
func (c *Controller) Stop() error {
	return c.interrupt(errStopped)
}

// Cancel aborts the active session. A gated session ends with a Cancelled outcome.
func (c *Controller) Cancel() error {
	return c.interrupt(models.ErrCancelled)
}

func (c *Controller) interrupt(cause error) error {
	c.mu.Lock()
	s := c.active
	c.mu.Unlock()
	if s == nil {
		return ErrNoActiveSession
	}
	s.cancel(cause)
	return nil
}

// Active returns the running session, if any.
func (c *Controller) Active() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Close cancels the active session and waits for it to end.
func (c *Controller) Close(ctx context.Context) error {
	s := c.Active()
	if s == nil {
		return nil
	}
	s.cancel(errStopped)
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the latest state. Notices clear after the notice duration.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.status
	if st.Notice != "" && c.now().After(c.noticeUntil) {
		st.Notice = ""
	}
	if c.active != nil {
		st.FramesProcessed = c.active.FramesProcessed()
	}
	return st
}

// Preview returns the latest annotated frame as JPEG.
func (c *Controller) Preview() ([]byte, error) {
	c.mu.Lock()
	img := c.preview
	c.mu.Unlock()
	if img == nil {
		return nil, ErrNoPreview
	}
	return vision.EncodeJPEG(img, 80)
}

func (c *Controller) withDefaults(opts Options) (Options, error) {
	switch opts.Mode {
	case "":
		opts.Mode = ModeCheckIn
	case ModeCheckIn, ModeGated:
	default:
		return opts, fmt.Errorf("%w: unknown mode %q", ErrInvalidOptions, opts.Mode)
	}
	if opts.Mode == ModeGated && opts.MultiPerson {
		return opts, fmt.Errorf("%w: gated sessions are single-person", ErrInvalidOptions)
	}
	if opts.RequiredFrames <= 0 {
		opts.RequiredFrames = c.cfg.CheckInFrames
		if opts.Mode == ModeGated {
			opts.RequiredFrames = c.cfg.AuthFrames
		}
	}
	if opts.KeepScanning == nil {
		keep := c.cfg.KeepScanning
		opts.KeepScanning = &keep
	}
	if opts.Timeout == 0 {
		opts.Timeout = c.cfg.AuthTimeout
	}
	if d := opts.DayParts; d != nil {
		checked, err := models.NewDaySchedule(d.Starts[models.Morning], d.Starts[models.Afternoon], d.Starts[models.Evening], d.Location)
		if err != nil {
			return opts, fmt.Errorf("%w: day parts: %v", ErrInvalidOptions, err)
		}
		opts.DayParts = &checked
	}
	return opts, nil
}

// precheckGated fails a gated session before any frame is read.
func (c *Controller) precheckGated(ctx context.Context, opts Options) error {
	enrolled, err := c.deps.Enrolled.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot enrollment: %w", err)
	}
	if len(enrolled) == 0 {
		return models.ErrEmptyEnrollmentSet
	}
	if opts.Target == nil {
		return nil
	}
	for _, id := range enrolled {
		if id.ID == *opts.Target {
			return nil
		}
	}
	return fmt.Errorf("target %s: %w", *opts.Target, models.ErrUnknownIdentity)
}

func (c *Controller) run(ctx context.Context, s *Session) {
	defer s.cancel(errStopped)

	src, err := c.deps.Sources(ctx)
	if err != nil {
		if !errors.Is(err, models.ErrDeviceUnavailable) {
			err = fmt.Errorf("%v: %w", err, models.ErrDeviceUnavailable)
		}
		c.finish(s, c.causeOf(ctx, fmt.Errorf("open frame source: %w", err)))
		return
	}

	loop := debounce.NewLoop(src, c.deps.Adapter, debounce.Config{
		RequiredFrames: s.Options.RequiredFrames,
		FrameInterval:  c.cfg.FrameInterval,
		Annotate:       true,
	}, func(fs debounce.FrameStatus) { c.onFrame(s, fs) })

	var handler debounce.TripHandler
	switch {
	case s.Mode == ModeGated:
		handler = func(ctx context.Context, t debounce.Trip) (bool, error) { return c.handleGated(ctx, s, t) }
	case s.Options.MultiPerson:
		handler = func(ctx context.Context, t debounce.Trip) (bool, error) { return c.handleMulti(ctx, s, t) }
	default:
		handler = func(ctx context.Context, t debounce.Trip) (bool, error) { return c.handleSingle(ctx, s, t) }
	}

	err = loop.Run(ctx, func(ctx context.Context, t debounce.Trip) (bool, error) {
		observability.DebounceTrips.WithLabelValues(string(s.Mode)).Inc()
		c.setState(s, StateMatching)
		stop, err := handler(ctx, t)
		if !stop && err == nil {
			c.setState(s, StateDetecting)
		}
		return stop, err
	})
	if cerr := src.Close(); cerr != nil {
		c.logger.Warn("close frame source", "session_id", s.ID, "error", cerr)
	}
	c.finish(s, c.causeOf(ctx, err))
}

// causeOf replaces a context error with the reason the context ended.
func (c *Controller) causeOf(ctx context.Context, err error) error {
	if err == nil || ctx.Err() == nil {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return context.Cause(ctx)
	}
	return err
}

// finish records the terminal result and releases the controller.
func (c *Controller) finish(s *Session, err error) {
	if errors.Is(err, errStopped) {
		if s.Mode == ModeGated {
			err = models.ErrCancelled
		} else {
			err = nil
		}
	}
	kind := models.KindOf(err)

	if s.Mode == ModeGated {
		if s.setOutcome(models.AuthOutcome{SessionID: s.ID, ErrorKind: kind, Timestamp: c.now()}) {
			observability.AuthOutcomes.WithLabelValues(string(kind)).Inc()
		}
	}

	switch kind {
	case models.ErrorKindNone:
		c.logger.Info("session ended", "session_id", s.ID)
	case models.ErrorKindCancelled:
		c.logger.Info("session cancelled", "session_id", s.ID)
	case models.ErrorKindTimeout, models.ErrorKindEmptyEnrollmentSet, models.ErrorKindUnknownIdentity:
		c.logger.Warn("session ended", "session_id", s.ID, "reason", kind, "error", err)
	default:
		c.logger.Error("session failed", "session_id", s.ID, "reason", kind, "error", err)
	}

	c.mu.Lock()
	if c.active == s {
		c.active = nil
	}
	c.status.State = StateResolved
	c.status.Running = false
	c.status.Outcome = s.Outcome()
	c.status.FramesProcessed = s.FramesProcessed()
	c.status.UpdatedAt = c.now()
	if err != nil {
		c.status.LastError = err.Error()
		c.status.Message = string(kind)
	} else {
		c.status.Message = "stopped"
	}
	c.mu.Unlock()
	observability.ActiveSessions.Dec()

	if o := s.Outcome(); o != nil {
		c.emit(s, Event{Type: EventOutcome, Outcome: o, ErrorKind: o.ErrorKind, Message: outcomeMessage(o)})
	}
	c.emit(s, Event{Type: EventEnded, ErrorKind: kind})
	s.end(err)
}

func outcomeMessage(o *models.AuthOutcome) string {
	if o.Success {
		return "granted: " + o.MatchedIdentity.Label()
	}
	return "failed: " + string(o.ErrorKind)
}

func (c *Controller) onFrame(s *Session, fs debounce.FrameStatus) {
	s.frames.Add(1)
	mode := string(s.Mode)
	observability.FramesProcessed.WithLabelValues(mode).Inc()
	observability.FacesDetected.WithLabelValues(mode).Add(float64(fs.FacesDetected))

	msg := fmt.Sprintf("face present: %d/%d", fs.Consecutive, fs.Required)
	if fs.FacesDetected == 0 {
		msg = "no face"
	}
	if fs.DetectErr != nil {
		msg = "detector error: " + fs.DetectErr.Error()
	}

	c.mu.Lock()
	changed := c.status.FacesDetected != fs.FacesDetected || c.status.Consecutive != fs.Consecutive ||
		c.status.Message != msg
	c.status.FacesDetected = fs.FacesDetected
	c.status.Consecutive = fs.Consecutive
	c.status.Required = fs.Required
	c.status.Message = msg
	c.status.UpdatedAt = fs.At
	if fs.Preview != nil {
		c.preview = fs.Preview
	}
	c.mu.Unlock()

	if changed {
		c.emit(s, Event{
			Type:          EventStatus,
			Message:       msg,
			FacesDetected: fs.FacesDetected,
			Consecutive:   fs.Consecutive,
			Required:      fs.Required,
		})
	}
}

func (c *Controller) setState(s *Session, st State) {
	c.mu.Lock()
	if c.active == s {
		c.status.State = st
	}
	c.mu.Unlock()
}

func (c *Controller) setNotice(msg string) {
	c.mu.Lock()
	c.status.Notice = msg
	c.noticeUntil = c.now().Add(c.cfg.NoticeDuration)
	c.mu.Unlock()
}

func (c *Controller) emit(s *Session, ev Event) {
	ev.SessionID = s.ID
	if ev.State == "" {
		c.mu.Lock()
		ev.State = c.status.State
		c.mu.Unlock()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = c.now()
	}
	c.bus.publish(ev)
}
