package model

import (
	"time"

	"github.com/google/uuid"
)

// QuestionScore is one entry of a Result's detailed breakdown.
type QuestionScore struct {
	QuestionID  uuid.UUID `json:"question_id"`
	Awarded     float64   `json:"awarded"`
	Possible    float64   `json:"possible"`
	NeedsManual bool      `json:"needs_manual"`
	Reason      string    `json:"reason,omitempty"`
}

// Result is the graded outcome of one session. Created empty at session
// start, filled in exactly once by the freeze-and-grade routine, and later
// augmented (never reopened) by manual grading.
type Result struct {
	ID            uuid.UUID       `json:"id"`
	SessionID     uuid.UUID       `json:"session_id"`
	ExamID        uuid.UUID       `json:"exam_id"`
	StudentCode   string          `json:"student_code"`
	Status        SessionStatus   `json:"status"`
	AutoScore     float64         `json:"auto_score"`
	PossibleScore float64         `json:"possible_score"`
	Graded        bool            `json:"graded"`
	Detailed      []QuestionScore `json:"detailed,omitempty"`
	GradedAt      *time.Time      `json:"graded_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// NeedsManualCount returns how many breakdown entries still await human
// scoring.
func (r *Result) NeedsManualCount() int {
	n := 0
	for _, d := range r.Detailed {
		if d.NeedsManual {
			n++
		}
	}
	return n
}
