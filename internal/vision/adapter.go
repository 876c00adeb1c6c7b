package vision

import (
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/your-org/attend/internal/config"
	"github.com/your-org/attend/internal/models"
	"github.com/your-org/attend/internal/observability"
)

// FaceDetector finds face regions in a frame. Order is not significant.
type FaceDetector interface {
	DetectFaces(img image.Image) ([]models.BBox, error)
}

// FaceEncoder turns a cropped face into a fixed-length encoding.
// It fails with models.ErrEncodingFailed when the crop holds no usable face.
type FaceEncoder interface {
	Encode(face image.Image) (models.Encoding, error)
}

// Adapter is the detection and encoding capability consumed by the pipeline.
type Adapter interface {
	FaceDetector
	FaceEncoder
}

// Profile selects the speed/accuracy trade-off of the detector.
type Profile string

const (
	ProfileFast     Profile = "fast"
	ProfileAccurate Profile = "accurate"
)

func (p Profile) detectorSize() int {
	if p == ProfileFast {
		return 320
	}
	return 640
}

// ONNXAdapter runs RetinaFace and ArcFace through ONNX Runtime.
// The runtime sessions share tensors, so calls are serialized.
type ONNXAdapter struct {
	mu       sync.Mutex
	detector *Detector
	embedder *Embedder
}

// NewONNXAdapter loads both models from cfg.ModelsDir.
// ort.InitializeEnvironment must have been called.
func NewONNXAdapter(cfg config.VisionConfig) (*ONNXAdapter, error) {
	profile := Profile(cfg.Profile)
	detPath := filepath.Join(cfg.ModelsDir, "det_10g.onnx")
	embPath := filepath.Join(cfg.ModelsDir, "w600k_r50.onnx")

	slog.Info("loading detection model", "path", detPath, "profile", profile)
	det, err := NewDetector(detPath, profile.detectorSize(), float32(cfg.DetectionThreshold))
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath, "dim", cfg.EncodingDim)
	emb, err := NewEmbedder(embPath, cfg.EncodingDim)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	return &ONNXAdapter{detector: det, embedder: emb}, nil
}

func (a *ONNXAdapter) DetectFaces(img image.Image) ([]models.BBox, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := time.Now()
	b := img.Bounds()
	w, h := a.detector.InputSize()
	dets, err := a.detector.Detect(preprocessForDetection(img, w, h), b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	regions := make([]models.BBox, len(dets))
	for i, d := range dets {
		// Detector coordinates are relative to the image origin.
		regions[i] = models.BBox{
			d.BBox[0] + float32(b.Min.X), d.BBox[1] + float32(b.Min.Y),
			d.BBox[2] + float32(b.Min.X), d.BBox[3] + float32(b.Min.Y),
		}
	}
	return regions, nil
}

func (a *ONNXAdapter) Encode(face image.Image) (models.Encoding, error) {
	if face == nil {
		return nil, fmt.Errorf("empty crop: %w", models.ErrEncodingFailed)
	}
	if b := face.Bounds(); b.Dx() < minFaceSide || b.Dy() < minFaceSide {
		return nil, fmt.Errorf("crop %dx%d too small: %w", b.Dx(), b.Dy(), models.ErrEncodingFailed)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	start := time.Now()
	w, h := a.embedder.InputSize()
	enc, err := a.embedder.Extract(preprocessForEmbedding(face, w, h))
	if err != nil {
		return nil, err
	}
	observability.InferenceDuration.WithLabelValues("encode").Observe(time.Since(start).Seconds())
	return enc, nil
}

// Dim returns the encoding dimensionality.
func (a *ONNXAdapter) Dim() int {
	return a.embedder.EmbeddingDim()
}

// Close releases all ONNX sessions.
func (a *ONNXAdapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.detector.Close()
	a.embedder.Close()
}

// EncodeLargest detects faces in img and encodes the largest one.
// Used at enrollment time.
func EncodeLargest(a Adapter, img image.Image) (models.Encoding, error) {
	regions, err := a.DetectFaces(img)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	best, ok := models.NewDetectionResult(regions).Largest()
	if !ok {
		return nil, models.ErrNoFaceDetected
	}
	enc, err := a.Encode(CropFace(img, best))
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return enc, nil
}
