package websocket

import "encoding/json"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionProctor  Action = "proctor_event"
	ActionPing     Action = "ping"
)

// RequestPayload is the client message. Action discriminates which of the
// optional fields are meaningful.
type RequestPayload struct {
	Action Action `json:"action"`

	// autosave
	QID    string          `json:"q_id,omitempty"`
	Answer json.RawMessage `json:"ans,omitempty"`

	// proctor_event
	EventType string          `json:"event_type,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError    Event = "error"
	EventAccepted Event = "accepted"
	EventSession  Event = "session_event"
	EventPong     Event = "pong"
)

// AcceptedResponse acknowledges a queued autosave or proctor event.
type AcceptedResponse struct {
	Event  Event  `json:"event"`
	Action Action `json:"action"`
}

// SessionEventResponse forwards one broadcast stream event (tick,
// progress, graded, violation) to the client.
type SessionEventResponse struct {
	Event   Event `json:"event"`
	Payload any   `json:"payload"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
