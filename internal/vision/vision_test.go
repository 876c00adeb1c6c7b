package vision

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/attend/internal/models"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestIoU(t *testing.T) {
	tests := []struct {
		name string
		a, b models.BBox
		want float32
	}{
		{"identical", models.BBox{0, 0, 10, 10}, models.BBox{0, 0, 10, 10}, 1},
		{"disjoint", models.BBox{0, 0, 10, 10}, models.BBox{20, 20, 30, 30}, 0},
		{"partial", models.BBox{0, 0, 10, 10}, models.BBox{5, 5, 15, 15}, 25.0 / 175.0},
		{"degenerate", models.BBox{0, 0, 0, 0}, models.BBox{0, 0, 0, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, IoU(tt.a, tt.b), 1e-5)
		})
	}
}

func TestMergeOverlappingKeepsLargest(t *testing.T) {
	regions := []models.BBox{
		{0, 0, 50, 50},
		{100, 100, 200, 200},
		{102, 101, 201, 199}, // same face reported twice, slightly smaller
	}

	merged := MergeOverlapping(regions, 0.6)

	require.Len(t, merged, 2)
	assert.Equal(t, models.BBox{100, 100, 200, 200}, merged[0], "larger duplicate wins")
	assert.Equal(t, models.BBox{0, 0, 50, 50}, merged[1])
}

func TestCropFacePadsAndClamps(t *testing.T) {
	img := solid(100, 100, color.White)

	crop := CropFace(img, models.BBox{10, 10, 60, 60})
	require.NotNil(t, crop)
	assert.Equal(t, 60, crop.Bounds().Dx(), "50px box plus 5px padding per side")

	edge := CropFace(img, models.BBox{80, 80, 140, 140})
	require.NotNil(t, edge)
	assert.Equal(t, 22, edge.Bounds().Dx(), "padding clamped to image")

	assert.Nil(t, CropFace(img, models.BBox{200, 200, 300, 300}))
}

func TestAnnotateDoesNotMutateSource(t *testing.T) {
	img := solid(40, 40, color.Black)

	out := Annotate(img, []models.BBox{{5, 5, 30, 30}})

	r, g, _, _ := out.At(5, 10).RGBA()
	assert.Zero(t, r)
	assert.NotZero(t, g, "box edge drawn")
	_, g, _, _ = img.At(5, 10).RGBA()
	assert.Zero(t, g, "source untouched")
}

func TestImageToFloat32CHW(t *testing.T) {
	img := solid(8, 8, color.RGBA{R: 255, G: 0, B: 128, A: 255})

	data := imageToFloat32CHW(img, 4, 4, [3]float32{0, 0, 0}, [3]float32{1, 1, 1})

	require.Len(t, data, 3*16)
	assert.InDelta(t, 255, data[0], 0.5)
	assert.InDelta(t, 0, data[16], 0.5)
	assert.InDelta(t, 128, data[32], 0.5)
}

func TestNormalize(t *testing.T) {
	v := []float32{3, 4}
	require.True(t, normalize(v))
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	assert.False(t, normalize([]float32{0, 0}))
	assert.False(t, normalize([]float32{float32(math.NaN()), 1}))
}

type stubAdapter struct {
	regions []models.BBox
	encoded image.Image
}

func (s *stubAdapter) DetectFaces(image.Image) ([]models.BBox, error) { return s.regions, nil }

func (s *stubAdapter) Encode(face image.Image) (models.Encoding, error) {
	s.encoded = face
	return models.Encoding{1, 0}, nil
}

func TestEncodeLargest(t *testing.T) {
	img := solid(200, 200, color.White)
	a := &stubAdapter{regions: []models.BBox{{0, 0, 20, 20}, {50, 50, 150, 150}}}

	enc, err := EncodeLargest(a, img)
	require.NoError(t, err)
	assert.Equal(t, models.Encoding{1, 0}, enc)
	assert.Equal(t, 120, a.encoded.Bounds().Dx(), "largest region cropped with padding")

	_, err = EncodeLargest(&stubAdapter{}, img)
	assert.True(t, errors.Is(err, models.ErrNoFaceDetected))
}
