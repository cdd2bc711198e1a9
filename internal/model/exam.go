package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the lifecycle states of an exam definition.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "draft"
	ExamStatusPublished ExamStatus = "published"
	ExamStatusClosed    ExamStatus = "closed"
	ExamStatusDisabled  ExamStatus = "disabled"
)

// ExamSettings holds per-exam behavior flags. Stored as JSONB.
type ExamSettings struct {
	AllowPause            bool `json:"allow_pause"`
	Proctoring            bool `json:"proctoring"`
	StrictMode            bool `json:"strict_mode"`
	MaxTabSwitches        int  `json:"max_tab_switches"`
	AutoSubmitOnViolation bool `json:"auto_submit_on_violation"`
}

// Exam is the published exam definition consumed by the session core.
// Authoring happens elsewhere; this core treats it as read-only once published.
type Exam struct {
	ID              uuid.UUID    `json:"id"`
	Title           string       `json:"title"`
	Description     string       `json:"description,omitempty"`
	DurationSeconds int          `json:"duration_seconds"`
	Status          ExamStatus   `json:"status"`
	Settings        ExamSettings `json:"settings"`
	QuestionCount   int          `json:"question_count"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Duration returns the exam duration as a time.Duration.
func (e *Exam) Duration() time.Duration {
	return time.Duration(e.DurationSeconds) * time.Second
}
