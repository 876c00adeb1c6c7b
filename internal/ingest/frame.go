package ingest

import (
	"bytes"
	"context"
	"image"
	"sync"
	"time"
)

// Frame is one captured image. JPEG, when set, aliases a pooled buffer and is
// only valid until Release.
type Frame struct {
	Seq        uint64
	CapturedAt time.Time
	Image      image.Image
	JPEG       []byte

	once    sync.Once
	release func()
}

// NewFrame wraps an already decoded image. release may be nil.
func NewFrame(seq uint64, img image.Image, jpegData []byte, release func()) *Frame {
	return &Frame{
		Seq:        seq,
		CapturedAt: time.Now(),
		Image:      img,
		JPEG:       jpegData,
		release:    release,
	}
}

// Release returns the frame's buffers. Safe to call more than once.
func (f *Frame) Release() {
	if f == nil {
		return
	}
	f.once.Do(func() {
		f.JPEG = nil
		if f.release != nil {
			f.release()
		}
	})
}

// FrameSource supplies frames from a capture device.
type FrameSource interface {
	// Next blocks until a frame is available. It returns an error wrapping
	// models.ErrDeviceUnavailable when the device fails or stops producing.
	Next(ctx context.Context) (*Frame, error)
	Close() error
}

// SourceFactory opens a new frame source for a session.
type SourceFactory func(ctx context.Context) (FrameSource, error)

var bufPool = sync.Pool{
	New: func() any { return bytes.NewBuffer(make([]byte, 0, 256*1024)) },
}

func getBuffer() *bytes.Buffer {
	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func putBuffer(buf *bytes.Buffer) {
	// Oversized buffers are left to the GC.
	if buf.Cap() > 4*1024*1024 {
		return
	}
	bufPool.Put(buf)
}
