package model

import "encoding/json"

// AnswerQueueItem is the wire form of an autosave pushed through the
// Redis persistence queue by the WebSocket channel.
type AnswerQueueItem struct {
	SessionID  string          `json:"session_id"`
	UserID     string          `json:"user_id"`
	QuestionID string          `json:"question_id"`
	Answer     json.RawMessage `json:"answer"`
	Timestamp  int64           `json:"timestamp"`
}

// ProctorQueueItem is the wire form of a proctoring event awaiting batch
// persistence.
type ProctorQueueItem struct {
	SessionID string          `json:"session_id"`
	EventType string          `json:"event_type"`
	Details   json.RawMessage `json:"details,omitempty"`
	Timestamp int64           `json:"timestamp"`
}
