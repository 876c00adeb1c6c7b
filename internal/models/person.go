package models

import (
	"time"

	"github.com/google/uuid"
)

// Encoding is the fixed-length face signature produced by the encoder.
type Encoding []float32

// Identity is an enrolled subject.
type Identity struct {
	ID          uuid.UUID `json:"id" db:"id"`
	DisplayName string    `json:"display_name,omitempty" db:"display_name"`
	ClassID     *uint16   `json:"class_id,omitempty" db:"class_id"`
	Encoding    Encoding  `json:"-" db:"encoding"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Label returns the display name, falling back to the id.
func (i Identity) Label() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	return i.ID.String()
}

// MatchCandidate is one enrolled identity within the distance threshold of a target.
type MatchCandidate struct {
	Identity Identity `json:"identity"`
	Distance float64  `json:"distance"`
}
