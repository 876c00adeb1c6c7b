package dto

import (
	"encoding/json"

	"github.com/google/uuid"
)

// WSEvent is the envelope pushed to websocket clients.
type WSEvent struct {
	Type      string          `json:"type"`
	SessionID uuid.UUID       `json:"session_id"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}
