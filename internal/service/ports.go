package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/whisperexam/whisper-backend/internal/model"
)

// Storage ports consumed by the services. The repository package provides
// the production implementations; tests substitute in-memory fakes so
// lifecycle logic is exercised without a database.

// ExamStore reads published exam definitions.
type ExamStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
}

// QuestionStore reads questions and their key material.
type QuestionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Question, error)
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
}

// SessionStore owns the session state machine rows.
type SessionStore interface {
	Create(ctx context.Context, s *model.ExamSession) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.ExamSession, error)
	GetOpenByExamAndUser(ctx context.Context, examID, userID uuid.UUID) (*model.ExamSession, error)
	SetStatus(ctx context.Context, id uuid.UUID, from, to model.SessionStatus) (*model.ExamSession, error)
	ClaimTerminal(ctx context.Context, id uuid.UUID, to model.SessionStatus, endedAt time.Time) (*model.ExamSession, error)
	MarkGraded(ctx context.Context, id uuid.UUID) error
	IncrementViolations(ctx context.Context, id uuid.UUID, delta int) (int, error)
	ListActive(ctx context.Context) ([]model.ExamSession, error)
}

// AnswerStore owns saved answers. Upsert writes only while the session is
// still in_progress and reports a blocked write as repository.ErrNotFound.
type AnswerStore interface {
	Upsert(ctx context.Context, sessionID, questionID uuid.UUID, value json.RawMessage, savedAt time.Time) error
	MarkFinal(ctx context.Context, sessionID uuid.UUID) error
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.Answer, error)
	CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error)
}

// ResultStore owns result rows: the empty shell created at session start,
// the grading pass fill-in, and manual-score updates. Finalize refuses to
// touch a row that already left the in_progress state and reports it as
// repository.ErrNotFound.
type ResultStore interface {
	Create(ctx context.Context, res *model.Result) error
	Finalize(ctx context.Context, res *model.Result) error
	GetBySession(ctx context.Context, sessionID uuid.UUID) (*model.Result, error)
	Update(ctx context.Context, res *model.Result) error
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Result, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Result, error)
}

// RegistrationStore reads enrollment records.
type RegistrationStore interface {
	Get(ctx context.Context, examID, userID uuid.UUID) (*model.ExamRegistration, error)
}

// ProctorStore reads persisted proctoring events.
type ProctorStore interface {
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.ProctorEvent, error)
}

// ExpiryCache mirrors session deadlines into fast storage.
type ExpiryCache interface {
	SetExpiry(ctx context.Context, sessionID uuid.UUID, expireAt time.Time) error
	GetExpiry(ctx context.Context, sessionID uuid.UUID) (time.Time, error)
	Drop(ctx context.Context, sessionID uuid.UUID) error
}

// TimerControl arms and disarms per-session expiry timers. Implemented by
// the worker package; injected after construction to break the
// service/worker cycle.
type TimerControl interface {
	Watch(s *model.ExamSession)
	Stop(sessionID uuid.UUID)
}
