// Package matcher compares face encodings against the enrolled set.
package matcher

import (
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/your-org/attend/internal/models"
)

// DefaultThreshold is the distance below which two encodings are the same person.
const DefaultThreshold = 0.4

// DistanceFunc returns a non-negative distance between equal-length encodings.
type DistanceFunc func(a, b models.Encoding) float64

// Euclidean is the L2 distance.
func Euclidean(a, b models.Encoding) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Cosine is 1 - cosine similarity, in [0, 2].
func Cosine(a, b models.Encoding) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	sim := math.Max(-1, math.Min(1, dot/math.Sqrt(na*nb)))
	return 1 - sim
}

// DistanceByName resolves a configured distance name.
func DistanceByName(name string) (DistanceFunc, error) {
	switch name {
	case "euclidean":
		return Euclidean, nil
	case "cosine", "":
		return Cosine, nil
	}
	return nil, fmt.Errorf("unknown distance %q", name)
}

// Matcher applies one global threshold to every comparison.
type Matcher struct {
	threshold float64
	dim       int
	distance  DistanceFunc
}

// New returns a Matcher. dim is the expected encoding length; 0 means the
// length of the first enrolled encoding is taken as authoritative.
func New(threshold float64, dim int, distance DistanceFunc) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if distance == nil {
		distance = Cosine
	}
	return &Matcher{threshold: threshold, dim: dim, distance: distance}
}

func (m *Matcher) Threshold() float64 { return m.threshold }

// CompareOne returns enrolled identities strictly closer than the threshold
// to target, closest first. Equal distances keep enrolled order.
func (m *Matcher) CompareOne(enrolled []models.Identity, target models.Encoding) ([]models.MatchCandidate, error) {
	dim, err := m.checkEnrolled(enrolled)
	if err != nil {
		return nil, err
	}
	if len(target) != dim {
		return nil, fmt.Errorf("target has %d values, want %d: %w", len(target), dim, models.ErrDimensionMismatch)
	}
	return m.compare(enrolled, target), nil
}

// CompareMany runs CompareOne for each target and concatenates the results.
// An identity appears once per target it matches.
func (m *Matcher) CompareMany(enrolled []models.Identity, targets []models.Encoding) ([]models.MatchCandidate, error) {
	groups, err := m.CompareEach(enrolled, targets)
	if err != nil {
		return nil, err
	}
	var out []models.MatchCandidate
	for _, g := range groups {
		out = append(out, g...)
	}
	return out, nil
}

// CompareEach is CompareMany keeping one candidate list per target, in
// target order.
func (m *Matcher) CompareEach(enrolled []models.Identity, targets []models.Encoding) ([][]models.MatchCandidate, error) {
	dim, err := m.checkEnrolled(enrolled)
	if err != nil {
		return nil, err
	}
	for i, t := range targets {
		if len(t) != dim {
			return nil, fmt.Errorf("target %d has %d values, want %d: %w", i, len(t), dim, models.ErrDimensionMismatch)
		}
	}

	out := make([][]models.MatchCandidate, len(targets))
	for i, t := range targets {
		out[i] = m.compare(enrolled, t)
	}
	return out, nil
}

func (m *Matcher) compare(enrolled []models.Identity, target models.Encoding) []models.MatchCandidate {
	var out []models.MatchCandidate
	for _, id := range enrolled {
		if d := m.distance(id.Encoding, target); d < m.threshold {
			out = append(out, models.MatchCandidate{Identity: id, Distance: d})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out
}

func (m *Matcher) checkEnrolled(enrolled []models.Identity) (int, error) {
	if len(enrolled) == 0 {
		return 0, models.ErrEmptyEnrollmentSet
	}
	dim := m.dim
	if dim == 0 {
		dim = len(enrolled[0].Encoding)
	}
	for _, id := range enrolled {
		if len(id.Encoding) != dim {
			return 0, fmt.Errorf("identity %s has %d values, want %d: %w",
				id.ID, len(id.Encoding), dim, models.ErrDimensionMismatch)
		}
	}
	return dim, nil
}

// Dedupe keeps the closest candidate per identity, preserving ascending distance order.
func Dedupe(candidates []models.MatchCandidate) []models.MatchCandidate {
	seen := make(map[uuid.UUID]int, len(candidates))
	var out []models.MatchCandidate
	for _, c := range candidates {
		if i, ok := seen[c.Identity.ID]; ok {
			if c.Distance < out[i].Distance {
				out[i] = c
			}
			continue
		}
		seen[c.Identity.ID] = len(out)
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out
}
