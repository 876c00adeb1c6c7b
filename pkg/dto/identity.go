package dto

import (
	"github.com/google/uuid"
)

type IdentityResponse struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name,omitempty"`
	ClassID     *uint16   `json:"class_id,omitempty"`
	EncodingDim int       `json:"encoding_dim"`
	CreatedAt   string    `json:"created_at"`
	UpdatedAt   string    `json:"updated_at"`
}

// UpdateIdentityRequest changes labels only. ClearClass removes the class id.
type UpdateIdentityRequest struct {
	DisplayName *string `json:"display_name"`
	ClassID     *uint16 `json:"class_id"`
	ClearClass  bool    `json:"clear_class"`
}

type CandidateResponse struct {
	Identity IdentityResponse `json:"identity"`
	Distance float64          `json:"distance"`
}
