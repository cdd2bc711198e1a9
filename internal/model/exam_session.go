package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam attempt states.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusPaused     SessionStatus = "paused"
	SessionStatusSubmitted  SessionStatus = "submitted"
	SessionStatusExpired    SessionStatus = "expired"
	SessionStatusGraded     SessionStatus = "graded"
)

// Terminal reports whether the status is final. A terminal session accepts
// no further answers or lifecycle calls and is graded exactly once.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionStatusSubmitted, SessionStatusExpired, SessionStatusGraded:
		return true
	}
	return false
}

// ExamSession is one timed attempt by one student at one exam.
//
// ExpireAt is computed once at start from the exam duration and never
// mutates afterwards. Pausing does not stop the clock: a paused session
// still expires at ExpireAt.
type ExamSession struct {
	ID             uuid.UUID     `json:"id"`
	ExamID         uuid.UUID     `json:"exam_id"`
	UserID         uuid.UUID     `json:"user_id"`
	StudentCode    string        `json:"student_code"`
	Status         SessionStatus `json:"status"`
	StartedAt      time.Time     `json:"started_at"`
	ExpireAt       time.Time     `json:"expire_at"`
	EndedAt        *time.Time    `json:"ended_at,omitempty"`
	ViolationCount int           `json:"violation_count"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Remaining returns the time left on the attempt clock at the given instant,
// floored at zero.
func (s *ExamSession) Remaining(now time.Time) time.Duration {
	d := s.ExpireAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
