package debounce

import (
	"context"
	"errors"
	"image"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/your-org/attend/internal/ingest"
	"github.com/your-org/attend/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedSource yields one frame per script entry, then either fails or
// blocks until cancelled.
type scriptedSource struct {
	n        int
	next     int
	block    bool
	released atomic.Int32
}

func (s *scriptedSource) Next(ctx context.Context) (*ingest.Frame, error) {
	if s.next >= s.n {
		if s.block {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return nil, errors.New("camera unplugged")
	}
	s.next++
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	return ingest.NewFrame(uint64(s.next), img, nil, func() { s.released.Add(1) }), nil
}

func (s *scriptedSource) Close() error { return nil }

var errDetect = errors.New("model crashed")

// scriptedDetector returns counts[i] regions for frame i; -1 means an error.
type scriptedDetector struct {
	counts []int
	i      int
}

func (d *scriptedDetector) DetectFaces(image.Image) ([]models.BBox, error) {
	c := d.counts[d.i]
	d.i++
	if c < 0 {
		return nil, errDetect
	}
	return make([]models.BBox, c), nil
}

func newTestLoop(counts []int, required int, onStatus func(FrameStatus)) (*Loop, *scriptedSource) {
	src := &scriptedSource{n: len(counts)}
	det := &scriptedDetector{counts: counts}
	return NewLoop(src, det, Config{RequiredFrames: required, FrameInterval: time.Millisecond}, onStatus), src
}

func TestCounterResetsOnEmptyFrame(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	const n = 5
	c := NewCounter(n)
	run := 0

	for i := 0; i < 5000; i++ {
		faces := rng.Intn(3) // 0 about a third of the time
		tripped := c.Observe(faces)
		if faces == 0 {
			run = 0
			assert.Zero(t, c.Value())
			assert.False(t, tripped)
			continue
		}
		run++
		assert.Equal(t, run >= n, tripped, "trip only after %d consecutive positives", n)
		if tripped {
			c.Reset()
			run = 0
		}
	}
}

func TestCounterExactlyN(t *testing.T) {
	c := NewCounter(3)
	assert.False(t, c.Observe(1))
	assert.False(t, c.Observe(2))
	assert.True(t, c.Observe(1))
	assert.Equal(t, 3, c.Value())
	assert.False(t, c.Observe(0))
	assert.Zero(t, c.Value())
}

func TestLoopTripsOnCurrentFrame(t *testing.T) {
	loop, src := newTestLoop([]int{1, 1, 0, 1, 2, 1}, 3, nil)

	var trips []uint64
	err := loop.Run(context.Background(), func(_ context.Context, trip Trip) (bool, error) {
		trips = append(trips, trip.Frame.Seq)
		assert.NotNil(t, trip.Frame.Image, "frame alive during handler")
		return true, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []uint64{6}, trips)
	assert.EqualValues(t, 6, src.released.Load())
}

func TestLoopResetsAfterTripRegardlessOfOutcome(t *testing.T) {
	loop, _ := newTestLoop([]int{1, 1, 1, 1, 1, 1, 1}, 3, nil)

	var trips []uint64
	err := loop.Run(context.Background(), func(_ context.Context, trip Trip) (bool, error) {
		trips = append(trips, trip.Frame.Seq)
		return false, nil // denied, keep scanning
	})

	assert.ErrorIs(t, err, models.ErrDeviceUnavailable)
	assert.Equal(t, []uint64{3, 6}, trips)
}

func TestLoopDetectorErrorCountsAsNoFace(t *testing.T) {
	var statuses []FrameStatus
	loop, _ := newTestLoop([]int{1, 1, -1, 1, 1, 1}, 3, func(s FrameStatus) {
		statuses = append(statuses, s)
	})

	var trips []uint64
	err := loop.Run(context.Background(), func(_ context.Context, trip Trip) (bool, error) {
		trips = append(trips, trip.Frame.Seq)
		return true, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []uint64{6}, trips)
	require.Len(t, statuses, 6)
	assert.ErrorIs(t, statuses[2].DetectErr, errDetect)
	assert.Zero(t, statuses[2].Consecutive)
	assert.Equal(t, 3, statuses[5].Consecutive)
}

func TestLoopSourceFailureIsDeviceUnavailable(t *testing.T) {
	loop, _ := newTestLoop(nil, 3, nil)

	called := false
	err := loop.Run(context.Background(), func(context.Context, Trip) (bool, error) {
		called = true
		return false, nil
	})

	assert.ErrorIs(t, err, models.ErrDeviceUnavailable)
	assert.False(t, called)
}

func TestLoopHandlerErrorStopsAndReleases(t *testing.T) {
	loop, src := newTestLoop([]int{1, 1, 1, 1}, 2, nil)
	boom := errors.New("boom")

	err := loop.Run(context.Background(), func(context.Context, Trip) (bool, error) {
		return false, boom
	})

	assert.ErrorIs(t, err, boom)
	assert.EqualValues(t, 2, src.released.Load())
}

func TestLoopCancellationBetweenFrames(t *testing.T) {
	src := &scriptedSource{n: 0, block: true}
	loop := NewLoop(src, &scriptedDetector{}, Config{RequiredFrames: 3, FrameInterval: time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- loop.Run(ctx, func(context.Context, Trip) (bool, error) { return false, nil })
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop after cancel")
	}
}

func TestLoopPreviewWhenAnnotating(t *testing.T) {
	src := &scriptedSource{n: 1}
	det := &scriptedDetector{counts: []int{1}}
	var got FrameStatus
	loop := NewLoop(src, det, Config{RequiredFrames: 5, FrameInterval: time.Millisecond, Annotate: true},
		func(s FrameStatus) { got = s })

	_ = loop.Run(context.Background(), func(context.Context, Trip) (bool, error) { return false, nil })

	assert.NotNil(t, got.Preview)
	assert.Equal(t, 1, got.FacesDetected)
	assert.Equal(t, 5, got.Required)
}
