package broadcast

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType labels a session stream event.
type EventType string

const (
	// EventTick is the periodic time-remaining countdown from the
	// session timer.
	EventTick EventType = "tick"
	// EventProgress is the answered/total snapshot published after
	// every successful answer save.
	EventProgress EventType = "progress"
	// EventGraded announces the final score once the session is frozen
	// and graded.
	EventGraded EventType = "graded"
	// EventViolation echoes the updated proctoring violation count.
	EventViolation EventType = "violation"
)

// Event is one message on a session's progress stream.
type Event struct {
	Type             EventType `json:"type"`
	SessionID        uuid.UUID `json:"session_id"`
	At               time.Time `json:"at"`
	RemainingSeconds float64   `json:"remaining_seconds,omitempty"`
	Answered         int       `json:"answered,omitempty"`
	Total            int       `json:"total,omitempty"`
	Percent          float64   `json:"percent,omitempty"`
	AutoScore        float64   `json:"auto_score,omitempty"`
	PossibleScore    float64   `json:"possible_score,omitempty"`
	Graded           bool      `json:"graded,omitempty"`
	ViolationCount   int       `json:"violation_count,omitempty"`
}

// Broadcaster pushes session events to any interested observer. Publish
// must never block the caller.
type Broadcaster interface {
	Publish(ctx context.Context, sessionID uuid.UUID, ev Event)
}
