package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamRegistration records that a verified user may attempt an exam.
// Registrations are issued by an external collaborator; this core only
// reads them to authorize start() and to pick up the display student code.
type ExamRegistration struct {
	ExamID      uuid.UUID `json:"exam_id"`
	UserID      uuid.UUID `json:"user_id"`
	StudentCode string    `json:"student_code"`
	CreatedAt   time.Time `json:"created_at"`
}
