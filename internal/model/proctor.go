package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ProctorEvent is a single proctoring observation (tab blur, copy attempt,
// devtools open, ...) reported by the client during an attempt. Events are
// informational at this layer: they bump the session's violation_count but
// never gate grading.
type ProctorEvent struct {
	ID         uuid.UUID       `json:"id"`
	SessionID  uuid.UUID       `json:"session_id"`
	EventType  string          `json:"event_type"`
	Details    json.RawMessage `json:"details,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
}
