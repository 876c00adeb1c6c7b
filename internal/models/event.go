package models

import (
	"time"

	"github.com/google/uuid"
)

// BBox is a face region in pixel coordinates: x1, y1, x2, y2.
type BBox [4]float32

// Area returns the box area, zero for degenerate boxes.
func (b BBox) Area() float32 {
	w := b[2] - b[0]
	h := b[3] - b[1]
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// DetectionResult is the per-frame detector output. It is never persisted.
type DetectionResult struct {
	FaceCount int    `json:"face_count"`
	Regions   []BBox `json:"regions"`
}

// NewDetectionResult wraps detector regions.
func NewDetectionResult(regions []BBox) DetectionResult {
	return DetectionResult{FaceCount: len(regions), Regions: regions}
}

// Largest returns the region with the biggest area.
func (d DetectionResult) Largest() (BBox, bool) {
	if len(d.Regions) == 0 {
		return BBox{}, false
	}
	best := d.Regions[0]
	for _, r := range d.Regions[1:] {
		if r.Area() > best.Area() {
			best = r
		}
	}
	return best, true
}

// AuthOutcome is the terminal result of a gated authorization session.
type AuthOutcome struct {
	SessionID       uuid.UUID `json:"session_id"`
	Success         bool      `json:"success"`
	MatchedIdentity *Identity `json:"matched_identity,omitempty"`
	ErrorKind       ErrorKind `json:"error_kind,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}
