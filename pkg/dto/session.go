package dto

import (
	"github.com/google/uuid"
)

type StartSessionRequest struct {
	Mode           string     `json:"mode"` // checkin, gated
	MultiPerson    bool       `json:"multi_person"`
	KeepScanning   *bool      `json:"keep_scanning"`
	Target         *uuid.UUID `json:"target"`
	Timeout        string     `json:"timeout"` // Go duration; negative disables
	RequiredFrames int        `json:"required_frames"`
	DayParts       *DayParts  `json:"day_parts,omitempty"`
}

// DayParts overrides the day-part boundaries for one session. Times are
// HH:MM; an empty timezone means the server's local zone.
type DayParts struct {
	Morning   string `json:"morning"`
	Afternoon string `json:"afternoon"`
	Evening   string `json:"evening"`
	Timezone  string `json:"timezone,omitempty"`
}

type SessionResponse struct {
	ID             uuid.UUID `json:"id"`
	Mode           string    `json:"mode"`
	MultiPerson    bool      `json:"multi_person"`
	RequiredFrames int       `json:"required_frames"`
	StartedAt      string    `json:"started_at"`
}

type ResolveRequest struct {
	IdentityID uuid.UUID `json:"identity_id" binding:"required"`
}

type ResolutionResponse struct {
	ID         string              `json:"id"`
	SessionID  uuid.UUID           `json:"session_id"`
	At         string              `json:"at"`
	Candidates []CandidateResponse `json:"candidates"`
}
