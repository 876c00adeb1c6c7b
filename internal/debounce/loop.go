package debounce

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/your-org/attend/internal/ingest"
	"github.com/your-org/attend/internal/models"
	"github.com/your-org/attend/internal/vision"
)

// DefaultFrameInterval caps processing at 20 frames per second.
const DefaultFrameInterval = 50 * time.Millisecond

// FrameStatus is an immutable snapshot published after every processed frame.
type FrameStatus struct {
	Seq           uint64
	FacesDetected int
	Consecutive   int
	Required      int
	Preview       image.Image
	// DetectErr is set when the detector failed on this frame.
	DetectErr error
	At        time.Time
}

// Trip is handed to the trip handler with the frame that completed the run.
// The frame is released when the handler returns.
type Trip struct {
	Frame     *ingest.Frame
	Detection models.DetectionResult
}

// TripHandler processes a trip. Returning stop=true ends the loop cleanly.
type TripHandler func(ctx context.Context, trip Trip) (stop bool, err error)

type Config struct {
	RequiredFrames int
	FrameInterval  time.Duration
	// Annotate enables the boxed preview image on each status.
	Annotate bool
}

// Loop runs detection on a frame source and trips after RequiredFrames
// consecutive frames with at least one face.
type Loop struct {
	source   ingest.FrameSource
	detector vision.FaceDetector
	cfg      Config
	onStatus func(FrameStatus)
	logger   *slog.Logger
}

// NewLoop builds a loop. onStatus is called synchronously on the loop
// goroutine and must not block.
func NewLoop(source ingest.FrameSource, detector vision.FaceDetector, cfg Config, onStatus func(FrameStatus)) *Loop {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultFrameInterval
	}
	if onStatus == nil {
		onStatus = func(FrameStatus) {}
	}
	return &Loop{
		source:   source,
		detector: detector,
		cfg:      cfg,
		onStatus: onStatus,
		logger:   slog.Default().With("component", "debounce"),
	}
}

// Run processes frames until ctx is done, the handler asks to stop, the
// handler fails, or the source fails. Source failures are returned wrapping
// models.ErrDeviceUnavailable and are never retried.
func (l *Loop) Run(ctx context.Context, onTrip TripHandler) error {
	counter := NewCounter(l.cfg.RequiredFrames)
	limiter := rate.NewLimiter(rate.Every(l.cfg.FrameInterval), 1)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("frame limiter: %w", err)
		}

		frame, err := l.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !errors.Is(err, models.ErrDeviceUnavailable) {
				err = fmt.Errorf("%v: %w", err, models.ErrDeviceUnavailable)
			}
			return fmt.Errorf("read frame: %w", err)
		}

		stop, err := l.step(ctx, counter, frame, onTrip)
		if err != nil || stop {
			return err
		}
	}
}

// step handles one frame. The frame is released on every path.
func (l *Loop) step(ctx context.Context, counter *Counter, frame *ingest.Frame, onTrip TripHandler) (bool, error) {
	defer frame.Release()

	regions, detectErr := l.detector.DetectFaces(frame.Image)
	if detectErr != nil {
		l.logger.Warn("face detection failed", "seq", frame.Seq, "error", detectErr)
		regions = nil
	}
	detection := models.NewDetectionResult(regions)
	tripped := counter.Observe(detection.FaceCount)

	status := FrameStatus{
		Seq:           frame.Seq,
		FacesDetected: detection.FaceCount,
		Consecutive:   counter.Value(),
		Required:      counter.Required(),
		DetectErr:     detectErr,
		At:            time.Now(),
	}
	if l.cfg.Annotate && frame.Image != nil {
		status.Preview = vision.Annotate(frame.Image, regions)
	}
	l.onStatus(status)

	if !tripped {
		return false, nil
	}

	// Reset before matching so a denied or ambiguous result needs a fresh run.
	counter.Reset()
	return onTrip(ctx, Trip{Frame: frame, Detection: detection})
}
