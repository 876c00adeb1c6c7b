package dto

import (
	"github.com/google/uuid"
)

type SlotResponse struct {
	CheckedIn bool   `json:"checked_in"`
	Time      string `json:"time,omitempty"`
}

type CheckInRecordResponse struct {
	IdentityID  uuid.UUID               `json:"identity_id"`
	DisplayName string                  `json:"display_name,omitempty"`
	Slots       map[string]SlotResponse `json:"slots"`
}

type CheckInsResponse struct {
	Date    string                  `json:"date"`
	Records []CheckInRecordResponse `json:"records"`
	Total   int                     `json:"total"`
}

type CheckInResultResponse struct {
	IdentityID  uuid.UUID `json:"identity_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Date        string    `json:"date"`
	DayPart     string    `json:"day_part"`
	Changed     bool      `json:"changed"`
	SnapshotKey string    `json:"snapshot_key,omitempty"`
}
