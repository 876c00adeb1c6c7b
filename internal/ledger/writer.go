package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/attend/internal/models"
)

var ErrWriterClosed = errors.New("ledger writer closed")

// SnapshotStore keeps the frame that produced a check-in.
type SnapshotStore interface {
	PutSnapshot(ctx context.Context, key string, jpeg []byte) error
}

// Request checks in every identity with the same timestamp. Snapshot is an
// optional JPEG owned by the request. Schedule overrides the ledger's
// day-part boundaries when set. Done runs on the writer goroutine.
type Request struct {
	At          time.Time
	IdentityIDs []uuid.UUID
	Snapshot    []byte
	Schedule    *models.DaySchedule
	Done        func([]Result)
}

// Writer is the single writer stream in front of the ledger. Matching
// workers hand off requests and never wait for persistence.
type Writer struct {
	ledger    *Ledger
	snapshots SnapshotStore
	reqs      chan Request
	done      chan struct{}
	logger    *slog.Logger

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// NewWriter builds a writer; snapshots may be nil.
func NewWriter(ledger *Ledger, snapshots SnapshotStore, buffer int) *Writer {
	if buffer < 1 {
		buffer = 64
	}
	return &Writer{
		ledger:    ledger,
		snapshots: snapshots,
		reqs:      make(chan Request, buffer),
		done:      make(chan struct{}),
		logger:    slog.Default().With("component", "ledger-writer"),
	}
}

// Submit queues req. It only blocks when the queue is full. A request
// accepted here is always processed, even when Run is shutting down.
func (w *Writer) Submit(ctx context.Context, req Request) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWriterClosed
	}
	w.inflight.Add(1)
	w.mu.Unlock()
	defer w.inflight.Done()

	select {
	case w.reqs <- req:
		return nil
	case <-w.done:
		return ErrWriterClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes requests until ctx is done, then drains what is queued.
func (w *Writer) Run(ctx context.Context) error {
	w.logger.Info("ledger writer started")
	for {
		select {
		case req := <-w.reqs:
			w.process(ctx, req)
		case <-ctx.Done():
			w.mu.Lock()
			w.closed = true
			w.mu.Unlock()
			close(w.done)
			w.drain(context.WithoutCancel(ctx))
			w.logger.Info("ledger writer stopped")
			return nil
		}
	}
}

// drain processes queued requests until no Submit is still in flight and
// the queue is empty.
func (w *Writer) drain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	idle := make(chan struct{})
	go func() {
		w.inflight.Wait()
		close(idle)
	}()
	for {
		select {
		case req := <-w.reqs:
			w.process(ctx, req)
		case <-idle:
			for {
				select {
				case req := <-w.reqs:
					w.process(ctx, req)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) process(ctx context.Context, req Request) {
	results := make([]Result, 0, len(req.IdentityIDs))
	for _, id := range req.IdentityIDs {
		schedule := w.ledger.Schedule()
		if req.Schedule != nil {
			schedule = *req.Schedule
		}
		res, err := w.ledger.CheckInWith(ctx, schedule, req.At, id)
		if err != nil {
			w.logger.Error("check-in failed", "identity_id", id, "error", err)
			res.Err = err
		} else if res.Changed && len(req.Snapshot) > 0 && w.snapshots != nil {
			key := SnapshotKey(res.Date, id, req.At)
			if err := w.snapshots.PutSnapshot(ctx, key, req.Snapshot); err != nil {
				w.logger.Warn("snapshot upload failed", "key", key, "error", err)
			} else {
				res.SnapshotKey = key
			}
		}
		results = append(results, res)
	}
	if req.Done != nil {
		req.Done(results)
	}
}

// SnapshotKey is snapshots/<date>/<identity>_<hhmmss>.jpg.
func SnapshotKey(date time.Time, id uuid.UUID, at time.Time) string {
	return fmt.Sprintf("snapshots/%s/%s_%s.jpg", date.Format(time.DateOnly), id, at.Format("150405"))
}
