package vision

import (
	"fmt"
	"sort"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/attend/internal/models"
)

// Detection represents a detected face.
type Detection struct {
	BBox       models.BBox
	Confidence float32
}

// Detector runs RetinaFace face detection using ONNX Runtime.
type Detector struct {
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	threshold     float32
	inputW        int
	inputH        int
}

// stride configuration for RetinaFace det_10g
var strides = []int{8, 16, 32}

// anchorsPerStride is the number of anchors per pixel at each stride
const anchorsPerStride = 2

// det_10g output names: scores, bboxes, landmarks for strides 8, 16, 32.
var (
	scoreOutputs    = []string{"448", "471", "494"}
	bboxOutputs     = []string{"451", "474", "497"}
	landmarkOutputs = []string{"454", "477", "500"}
)

// NewDetector loads the RetinaFace ONNX model with a square input of size x size.
// The model has a dynamic input shape, so size only has to be a multiple of 32.
func NewDetector(modelPath string, size int, threshold float32) (*Detector, error) {
	if size <= 0 || size%32 != 0 {
		return nil, fmt.Errorf("detector input size %d is not a multiple of 32", size)
	}
	inputW, inputH := size, size

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(inputH), int64(inputW)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// Output shapes have no batch dimension: anchors = (W/stride)*(H/stride)*2.
	var (
		outputNames   []string
		outputTensors []*ort.Tensor[float32]
		outputValues  []ort.Value
	)
	destroy := func() {
		inputTensor.Destroy()
		for _, t := range outputTensors {
			t.Destroy()
		}
	}

	groups := []struct {
		names []string
		width int64
	}{
		{scoreOutputs, 1},
		{bboxOutputs, 4},
		{landmarkOutputs, 10},
	}
	for _, g := range groups {
		for si, stride := range strides {
			anchors := int64((inputW / stride) * (inputH / stride) * anchorsPerStride)
			t, err := ort.NewEmptyTensor[float32](ort.NewShape(anchors, g.width))
			if err != nil {
				destroy()
				return nil, fmt.Errorf("create output tensor %s: %w", g.names[si], err)
			}
			outputNames = append(outputNames, g.names[si])
			outputTensors = append(outputTensors, t)
			outputValues = append(outputValues, t)
		}
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		outputNames,
		[]ort.Value{inputTensor},
		outputValues,
		nil,
	)
	if err != nil {
		destroy()
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &Detector{
		session:       session,
		inputTensor:   inputTensor,
		outputTensors: outputTensors,
		threshold:     threshold,
		inputW:        inputW,
		inputH:        inputH,
	}, nil
}

// Detect runs face detection on a preprocessed image.
// imgData should be CHW format [3, inputH, inputW], normalized.
// origW/origH are the original image dimensions for coordinate scaling.
func (d *Detector) Detect(imgData []float32, origW, origH int) ([]Detection, error) {
	copy(d.inputTensor.GetData(), imgData)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	return nms(d.parseDetections(origW, origH), 0.4), nil
}

// parseDetections decodes anchor-based RetinaFace outputs at strides 8, 16, 32.
func (d *Detector) parseDetections(origW, origH int) []Detection {
	var detections []Detection

	scaleW := float32(origW) / float32(d.inputW)
	scaleH := float32(origH) / float32(d.inputH)

	for si, stride := range strides {
		scores := d.outputTensors[si].GetData()
		bboxes := d.outputTensors[si+len(strides)].GetData()

		fmW := d.inputW / stride
		fmH := d.inputH / stride
		st := float32(stride)

		idx := 0
		for cy := 0; cy < fmH; cy++ {
			for cx := 0; cx < fmW; cx++ {
				for a := 0; a < anchorsPerStride; a++ {
					if score := scores[idx]; score >= d.threshold {
						anchorX := float32(cx) * st
						anchorY := float32(cy) * st

						// Distances from the anchor to each edge, in stride units.
						box := models.BBox{
							clampF((anchorX-bboxes[idx*4+0]*st)*scaleW, 0, float32(origW)),
							clampF((anchorY-bboxes[idx*4+1]*st)*scaleH, 0, float32(origH)),
							clampF((anchorX+bboxes[idx*4+2]*st)*scaleW, 0, float32(origW)),
							clampF((anchorY+bboxes[idx*4+3]*st)*scaleH, 0, float32(origH)),
						}
						detections = append(detections, Detection{BBox: box, Confidence: score})
					}
					idx++
				}
			}
		}
	}

	return detections
}

// InputSize returns the model's expected input dimensions.
func (d *Detector) InputSize() (int, int) {
	return d.inputW, d.inputH
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.outputTensors {
		if t != nil {
			t.Destroy()
		}
	}
}

// nms performs Non-Maximum Suppression on detections.
func nms(detections []Detection, iouThreshold float32) []Detection {
	if len(detections) == 0 {
		return detections
	}

	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})

	keep := make([]bool, len(detections))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(detections); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(detections); j++ {
			if keep[j] && IoU(detections[i].BBox, detections[j].BBox) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var result []Detection
	for i, d := range detections {
		if keep[i] {
			result = append(result, d)
		}
	}
	return result
}

// MergeOverlapping drops regions that overlap an earlier, larger region by
// more than iouThreshold. Detectors occasionally report the same face twice.
func MergeOverlapping(regions []models.BBox, iouThreshold float32) []models.BBox {
	dets := make([]Detection, len(regions))
	for i, r := range regions {
		dets[i] = Detection{BBox: r, Confidence: r.Area()}
	}
	kept := nms(dets, iouThreshold)
	out := make([]models.BBox, len(kept))
	for i, d := range kept {
		out[i] = d.BBox
	}
	return out
}

// IoU returns the intersection over union of two boxes.
func IoU(a, b models.BBox) float32 {
	x1 := max(a[0], b[0])
	y1 := max(a[1], b[1])
	x2 := min(a[2], b[2])
	y2 := min(a[3], b[3])

	intersection := max(0, x2-x1) * max(0, y2-y1)
	union := a.Area() + b.Area() - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

func clampF(v, lo, hi float32) float32 {
	return max(lo, min(hi, v))
}
