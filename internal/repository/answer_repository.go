package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/whisperexam/whisper-backend/internal/model"
)

// AnswerRepository handles saved-answer data access.
type AnswerRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository(pool *pgxpool.Pool) *AnswerRepository {
	return &AnswerRepository{pool: pool}
}

// Upsert saves the latest answer for a (session, question) pair. Last
// write wins. The write is conditional on the session row still being
// in_progress: the share lock on the session orders it against the
// terminal claim, so a save racing finalization either commits before the
// flip (and is graded) or touches nothing. Zero rows means the session is
// no longer writable; returned as ErrNotFound for the caller to map.
func (r *AnswerRepository) Upsert(ctx context.Context, sessionID, questionID uuid.UUID, value json.RawMessage, savedAt time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO answers (session_id, question_id, value, saved_at)
		 SELECT s.id, $2, $3, $4
		 FROM (
		     SELECT id FROM exam_sessions
		     WHERE id = $1 AND status = $5
		     FOR SHARE
		 ) s
		 ON CONFLICT (session_id, question_id)
		 DO UPDATE SET value = EXCLUDED.value, saved_at = EXCLUDED.saved_at`,
		sessionID, questionID, value, savedAt, model.SessionStatusInProgress)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFinal freezes a session's answers at terminalization. Frozen rows
// are what grading reads; no later write can change them because the
// session is already terminal.
func (r *AnswerRepository) MarkFinal(ctx context.Context, sessionID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE answers SET is_final = TRUE WHERE session_id = $1`, sessionID)
	return err
}

// ListBySession retrieves all of a session's saved answers.
func (r *AnswerRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.Answer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT session_id, question_id, value, saved_at, is_final
		 FROM answers
		 WHERE session_id = $1`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []model.Answer
	for rows.Next() {
		var a model.Answer
		if err := rows.Scan(&a.SessionID, &a.QuestionID, &a.Value, &a.SavedAt, &a.IsFinal); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// CountBySession returns how many questions have a saved answer.
func (r *AnswerRepository) CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM answers WHERE session_id = $1`, sessionID,
	).Scan(&n)
	return n, err
}
