package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/whisperexam/whisper-backend/internal/model"
)

// SessionRepository handles exam session data access.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

const sessionColumns = `id, exam_id, user_id, student_code, status, started_at,
	expire_at, ended_at, violation_count, created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }, s *model.ExamSession) error {
	return row.Scan(&s.ID, &s.ExamID, &s.UserID, &s.StudentCode, &s.Status, &s.StartedAt,
		&s.ExpireAt, &s.EndedAt, &s.ViolationCount, &s.CreatedAt, &s.UpdatedAt)
}

// Create inserts a new session row.
func (r *SessionRepository) Create(ctx context.Context, s *model.ExamSession) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exam_sessions (exam_id, user_id, student_code, status, started_at, expire_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		s.ExamID, s.UserID, s.StudentCode, s.Status, s.StartedAt, s.ExpireAt,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}

// GetByID retrieves a session by its UUID.
func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE id = $1`, id), s)
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// GetOpenByExamAndUser retrieves the user's non-terminal session for an
// exam, if one exists. Used to make start() idempotent.
func (r *SessionRepository) GetOpenByExamAndUser(ctx context.Context, examID, userID uuid.UUID) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM exam_sessions
		 WHERE exam_id = $1 AND user_id = $2 AND status IN ('in_progress', 'paused')
		 ORDER BY started_at DESC
		 LIMIT 1`, examID, userID), s)
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// SetStatus transitions a session between the two live states. The update
// is conditional on the current status; a stale transition reports
// ErrNotFound and changes nothing.
func (r *SessionRepository) SetStatus(ctx context.Context, id uuid.UUID, from, to model.SessionStatus) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	err := scanSession(r.pool.QueryRow(ctx,
		`UPDATE exam_sessions
		 SET status = $1, updated_at = NOW()
		 WHERE id = $2 AND status = $3
		 RETURNING `+sessionColumns, to, id, from), s)
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// ClaimTerminal atomically moves a live session into a terminal state.
// Exactly one caller wins the claim; every later caller gets ErrNotFound
// and must read the already-frozen row instead. This is the only path
// into submitted/expired.
func (r *SessionRepository) ClaimTerminal(ctx context.Context, id uuid.UUID, to model.SessionStatus, endedAt time.Time) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	err := scanSession(r.pool.QueryRow(ctx,
		`UPDATE exam_sessions
		 SET status = $1, ended_at = $2, updated_at = NOW()
		 WHERE id = $3 AND status IN ('in_progress', 'paused')
		 RETURNING `+sessionColumns, to, endedAt, id), s)
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// MarkGraded promotes a submitted or expired session to graded once every
// question has a final score.
func (r *SessionRepository) MarkGraded(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET status = $1, updated_at = NOW()
		 WHERE id = $2 AND status IN ('submitted', 'expired')`,
		model.SessionStatusGraded, id)
	return err
}

// IncrementViolations bumps the proctoring violation counter and returns
// the new total.
func (r *SessionRepository) IncrementViolations(ctx context.Context, id uuid.UUID, delta int) (int, error) {
	var total int
	err := r.pool.QueryRow(ctx,
		`UPDATE exam_sessions
		 SET violation_count = violation_count + $1, updated_at = NOW()
		 WHERE id = $2
		 RETURNING violation_count`, delta, id,
	).Scan(&total)
	if err != nil {
		return 0, notFound(err)
	}
	return total, nil
}

// ListActive retrieves every non-terminal session. Used on boot to rearm
// expiry timers after a restart.
func (r *SessionRepository) ListActive(ctx context.Context) ([]model.ExamSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+`
		 FROM exam_sessions
		 WHERE status IN ('in_progress', 'paused')
		 ORDER BY expire_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.ExamSession
	for rows.Next() {
		var s model.ExamSession
		if err := scanSession(rows, &s); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
