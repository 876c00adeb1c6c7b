// Package debounce gates expensive face matching behind a run of
// consecutive frames that contain at least one face.
package debounce

// Counter counts consecutive positive frames. It is owned by a single goroutine.
type Counter struct {
	required int
	current  int
}

// NewCounter returns a counter that trips after required consecutive positives.
func NewCounter(required int) *Counter {
	if required < 1 {
		required = 1
	}
	return &Counter{required: required}
}

// Observe records one frame and reports whether the gate tripped.
// A frame with no faces resets the run immediately.
func (c *Counter) Observe(faceCount int) bool {
	if faceCount <= 0 {
		c.current = 0
		return false
	}
	if c.current < c.required {
		c.current++
	}
	return c.current >= c.required
}

// Reset clears the run, e.g. after a trip has been consumed.
func (c *Counter) Reset() { c.current = 0 }

func (c *Counter) Value() int    { return c.current }
func (c *Counter) Required() int { return c.required }
