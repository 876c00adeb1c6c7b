package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"

	"github.com/your-org/attend/internal/models"
)

// minFaceSide is the smallest crop side the encoder will accept.
const minFaceSide = 16

func preprocessForDetection(img image.Image, targetW, targetH int) []float32 {
	return imageToFloat32CHW(img, targetW, targetH, [3]float32{127.5, 127.5, 127.5}, [3]float32{128.0, 128.0, 128.0})
}

func preprocessForEmbedding(img image.Image, targetW, targetH int) []float32 {
	return imageToFloat32CHW(img, targetW, targetH, [3]float32{127.5, 127.5, 127.5}, [3]float32{127.5, 127.5, 127.5})
}

// imageToFloat32CHW resizes img and converts it to CHW float32:
//
//	pixel = (pixel - mean) / std
func imageToFloat32CHW(img image.Image, targetW, targetH int, mean, std [3]float32) []float32 {
	resized := imaging.Resize(img, targetW, targetH, imaging.Linear)
	w, h := targetW, targetH
	plane := w * h

	data := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < w; x++ {
			px := row[x*4:]
			idx := y*w + x
			data[idx] = (float32(px[0]) - mean[0]) / std[0]
			data[plane+idx] = (float32(px[1]) - mean[1]) / std[1]
			data[2*plane+idx] = (float32(px[2]) - mean[2]) / std[2]
		}
	}
	return data
}

// CropFace extracts a face region padded by 10% on each side, clamped to the image.
// It returns nil when the clamped region is empty.
func CropFace(img image.Image, box models.BBox) image.Image {
	bounds := img.Bounds()
	rect := image.Rect(int(box[0]), int(box[1]), int(box[2]), int(box[3])).Intersect(bounds)
	if rect.Empty() {
		return nil
	}

	padW := rect.Dx() / 10
	padH := rect.Dy() / 10
	rect = image.Rect(rect.Min.X-padW, rect.Min.Y-padH, rect.Max.X+padW, rect.Max.Y+padH).Intersect(bounds)

	return imaging.Crop(img, rect)
}

var boxColor = color.NRGBA{R: 0, G: 220, B: 90, A: 255}

// Annotate returns a copy of img with every region outlined.
func Annotate(img image.Image, regions []models.BBox) image.Image {
	out := imaging.Clone(img)
	b := out.Bounds()
	const thickness = 2
	for _, r := range regions {
		rect := image.Rect(int(r[0]), int(r[1]), int(r[2]), int(r[3])).Intersect(b)
		if rect.Empty() {
			continue
		}
		edges := []image.Rectangle{
			image.Rect(rect.Min.X, rect.Min.Y, rect.Max.X, rect.Min.Y+thickness),
			image.Rect(rect.Min.X, rect.Max.Y-thickness, rect.Max.X, rect.Max.Y),
			image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+thickness, rect.Max.Y),
			image.Rect(rect.Max.X-thickness, rect.Min.Y, rect.Max.X, rect.Max.Y),
		}
		for _, e := range edges {
			draw.Draw(out, e.Intersect(rect), image.NewUniform(boxColor), image.Point{}, draw.Src)
		}
	}
	return out
}

// EncodeJPEG encodes an image as JPEG with the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
