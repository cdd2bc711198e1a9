package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Answer is the latest saved answer for one (session, question) pair.
// Saves are upserts: re-saving the same question overwrites, never duplicates.
// Value holds the canonical (codec-normalized) form, not the raw client input.
type Answer struct {
	SessionID  uuid.UUID       `json:"session_id"`
	QuestionID uuid.UUID       `json:"question_id"`
	Value      json.RawMessage `json:"value"`
	SavedAt    time.Time       `json:"saved_at"`
	IsFinal    bool            `json:"is_final"`
}
