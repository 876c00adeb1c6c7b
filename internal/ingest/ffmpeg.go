package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/your-org/attend/internal/config"
	"github.com/your-org/attend/internal/models"
)

// maxFrameSize bounds a single JPEG frame.
const maxFrameSize = 10 * 1024 * 1024

// FFmpegSource reads JPEG frames from an ffmpeg image2pipe.
// Only the most recent undelivered frame is kept; older ones are dropped.
type FFmpegSource struct {
	cancel context.CancelFunc
	cmd    *exec.Cmd
	latest chan *bytes.Buffer
	done   chan struct{}

	mu  sync.Mutex
	err error
	seq uint64
}

// NewFFmpegFactory returns a SourceFactory for the configured camera.
func NewFFmpegFactory(cfg config.CameraConfig) SourceFactory {
	return func(ctx context.Context) (FrameSource, error) {
		return OpenFFmpeg(ctx, cfg)
	}
}

// OpenFFmpeg starts ffmpeg against the camera device or stream URL.
func OpenFFmpeg(ctx context.Context, cfg config.CameraConfig) (*FFmpegSource, error) {
	ctx, cancel := context.WithCancel(ctx)

	cmd := exec.CommandContext(ctx, "ffmpeg", ffmpegArgs(cfg)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start ffmpeg: %v: %w", err, models.ErrDeviceUnavailable)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			slog.Warn("ffmpeg stderr", "device", cfg.Device, "output", scanner.Text())
		}
	}()

	s := &FFmpegSource{
		cancel: cancel,
		cmd:    cmd,
		latest: make(chan *bytes.Buffer, 1),
		done:   make(chan struct{}),
	}
	go s.readLoop(ctx, stdout)
	return s, nil
}

func ffmpegArgs(cfg config.CameraConfig) []string {
	args := []string{"-hide_banner", "-loglevel", "warning"}

	switch {
	case cfg.Format != "":
		args = append(args, "-f", cfg.Format)
	case strings.HasPrefix(cfg.Device, "rtsp://"), strings.HasPrefix(cfg.Device, "rtsps://"):
		args = append(args,
			"-rtsp_transport", "tcp",
			"-timeout", "5000000", // microseconds
		)
	}

	return append(args,
		"-i", cfg.Device,
		"-vf", fmt.Sprintf("fps=%d,scale=%d:-1", cfg.FPS, cfg.Width),
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"pipe:1",
	)
}

func (s *FFmpegSource) readLoop(ctx context.Context, r io.Reader) {
	defer close(s.done)

	err := readJPEGFrames(ctx, r, func(buf *bytes.Buffer) {
		// Replace any undelivered frame with the newest one.
		select {
		case old := <-s.latest:
			putBuffer(old)
		default:
		}
		s.latest <- buf
	})
	if err == nil {
		err = io.EOF
	}
	if waitErr := s.cmd.Wait(); waitErr != nil && ctx.Err() == nil {
		err = fmt.Errorf("%v: ffmpeg exited: %w", err, waitErr)
	}

	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Next returns the newest frame, decoding it on demand. Frames that fail to
// decode are dropped and the following one is returned instead.
func (s *FFmpegSource) Next(ctx context.Context) (*Frame, error) {
	for {
		buf, err := s.receive(ctx)
		if err != nil {
			return nil, err
		}
		img, err := jpeg.Decode(bytes.NewReader(buf.Bytes()))
		if err != nil {
			slog.Debug("dropping undecodable frame", "size", buf.Len(), "error", err)
			putBuffer(buf)
			continue
		}
		return s.frame(img, buf), nil
	}
}

func (s *FFmpegSource) receive(ctx context.Context) (*bytes.Buffer, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case buf := <-s.latest:
		return buf, nil
	case <-s.done:
		// Drain a final frame that raced with shutdown.
		select {
		case buf := <-s.latest:
			return buf, nil
		default:
			s.mu.Lock()
			err := s.err
			s.mu.Unlock()
			return nil, fmt.Errorf("frame stream ended: %v: %w", err, models.ErrDeviceUnavailable)
		}
	}
}

func (s *FFmpegSource) frame(img image.Image, buf *bytes.Buffer) *Frame {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	return NewFrame(seq, img, buf.Bytes(), func() { putBuffer(buf) })
}

// Close terminates ffmpeg and waits for the reader to exit.
func (s *FFmpegSource) Close() error {
	s.cancel()
	<-s.done
	select {
	case buf := <-s.latest:
		putBuffer(buf)
	default:
	}
	return nil
}

// readJPEGFrames reads a stream of concatenated JPEG images.
// Tolerates initial EOF while ffmpeg is still connecting (up to 5 seconds).
func readJPEGFrames(ctx context.Context, r io.Reader, emit func(*bytes.Buffer)) error {
	reader := bufio.NewReaderSize(r, 512*1024)
	framesRead := 0
	const maxStartupRetries = 50 // 50 * 100ms
	startupRetries := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := findJPEGStart(reader); err != nil {
			if errors.Is(err, io.EOF) {
				if framesRead == 0 && startupRetries < maxStartupRetries {
					startupRetries++
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(100 * time.Millisecond):
					}
					continue
				}
				if framesRead > 0 {
					return nil
				}
				return fmt.Errorf("no frames received (waited %.1fs)", float64(startupRetries)*0.1)
			}
			return err
		}

		buf := getBuffer()
		if err := readUntilJPEGEnd(reader, buf); err != nil {
			putBuffer(buf)
			if errors.Is(err, io.EOF) && framesRead > 0 {
				return nil // stream ended mid-frame
			}
			return err
		}

		framesRead++
		emit(buf)
	}
}

func findJPEGStart(r *bufio.Reader) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if b != 0xFF {
			continue
		}
		b, err = r.ReadByte()
		if err != nil {
			return err
		}
		if b == 0xD8 {
			return nil
		}
	}
}

func readUntilJPEGEnd(r *bufio.Reader, buf *bytes.Buffer) error {
	buf.Write([]byte{0xFF, 0xD8})

	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		buf.WriteByte(b)

		if b == 0xFF {
			next, err := r.ReadByte()
			if err != nil {
				return err
			}
			buf.WriteByte(next)
			if next == 0xD9 {
				return nil
			}
		}

		if buf.Len() > maxFrameSize {
			return fmt.Errorf("jpeg frame too large: %d bytes", buf.Len())
		}
	}
}
