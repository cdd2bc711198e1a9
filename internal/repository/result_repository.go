package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/whisperexam/whisper-backend/internal/model"
)

// ResultRepository handles graded-result data access.
type ResultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

const resultColumns = `id, session_id, exam_id, student_code, status, auto_score,
	possible_score, graded, detailed, graded_at, created_at, updated_at`

func scanResult(row interface{ Scan(...any) error }) (*model.Result, error) {
	res := &model.Result{}
	var detailed []byte
	err := row.Scan(&res.ID, &res.SessionID, &res.ExamID, &res.StudentCode, &res.Status,
		&res.AutoScore, &res.PossibleScore, &res.Graded, &detailed, &res.GradedAt,
		&res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(detailed) > 0 {
		if err := json.Unmarshal(detailed, &res.Detailed); err != nil {
			return nil, fmt.Errorf("result %s: invalid breakdown: %w", res.ID, err)
		}
	}
	return res, nil
}

// Create inserts the empty result shell when a session starts. The
// grading pass later fills it in through Finalize.
func (r *ResultRepository) Create(ctx context.Context, res *model.Result) error {
	detailed, err := json.Marshal(res.Detailed)
	if err != nil {
		return err
	}
	return r.pool.QueryRow(ctx,
		`INSERT INTO results (session_id, exam_id, student_code, status, auto_score,
		                      possible_score, graded, detailed, graded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (session_id) DO NOTHING
		 RETURNING id, created_at, updated_at`,
		res.SessionID, res.ExamID, res.StudentCode, res.Status, res.AutoScore,
		res.PossibleScore, res.Graded, detailed, res.GradedAt,
	).Scan(&res.ID, &res.CreatedAt, &res.UpdatedAt)
}

// Finalize writes the grading pass output into the session's result row,
// inserting it when the start-time shell is missing. A row that already
// left the in_progress state is never touched, which keeps grading
// effectively-once and protects applied manual scores from a late rescue
// pass; that case is reported as ErrNotFound.
func (r *ResultRepository) Finalize(ctx context.Context, res *model.Result) error {
	detailed, err := json.Marshal(res.Detailed)
	if err != nil {
		return err
	}
	err = r.pool.QueryRow(ctx,
		`INSERT INTO results (session_id, exam_id, student_code, status, auto_score,
		                      possible_score, graded, detailed, graded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (session_id) DO UPDATE
		 SET status = EXCLUDED.status, auto_score = EXCLUDED.auto_score,
		     possible_score = EXCLUDED.possible_score, graded = EXCLUDED.graded,
		     detailed = EXCLUDED.detailed, graded_at = EXCLUDED.graded_at,
		     updated_at = NOW()
		 WHERE results.status = $10
		 RETURNING id, created_at, updated_at`,
		res.SessionID, res.ExamID, res.StudentCode, res.Status, res.AutoScore,
		res.PossibleScore, res.Graded, detailed, res.GradedAt,
		model.SessionStatusInProgress,
	).Scan(&res.ID, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return notFound(err)
	}
	return nil
}

// GetBySession retrieves the result for one session.
func (r *ResultRepository) GetBySession(ctx context.Context, sessionID uuid.UUID) (*model.Result, error) {
	res, err := scanResult(r.pool.QueryRow(ctx,
		`SELECT `+resultColumns+` FROM results WHERE session_id = $1`, sessionID))
	if err != nil {
		return nil, notFound(err)
	}
	return res, nil
}

// Update rewrites the score fields after manual grading.
func (r *ResultRepository) Update(ctx context.Context, res *model.Result) error {
	detailed, err := json.Marshal(res.Detailed)
	if err != nil {
		return err
	}
	now := time.Now()
	_, err = r.pool.Exec(ctx,
		`UPDATE results
		 SET status = $1, auto_score = $2, graded = $3, detailed = $4,
		     graded_at = $5, updated_at = $6
		 WHERE id = $7`,
		res.Status, res.AutoScore, res.Graded, detailed, res.GradedAt, now, res.ID)
	return err
}

// ListByExam retrieves all results for one exam, newest first.
func (r *ResultRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Result, error) {
	return r.list(ctx,
		`SELECT `+resultColumns+`
		 FROM results
		 WHERE exam_id = $1
		 ORDER BY created_at DESC`, examID)
}

// ListByUser retrieves a student's own results across exams.
func (r *ResultRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Result, error) {
	return r.list(ctx,
		`SELECT `+resultColumns+`
		 FROM results res
		 WHERE EXISTS (
		     SELECT 1 FROM exam_sessions s
		     WHERE s.id = res.session_id AND s.user_id = $1
		 )
		 ORDER BY res.created_at DESC`, userID)
}

func (r *ResultRepository) list(ctx context.Context, query string, args ...any) ([]model.Result, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.Result
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *res)
	}
	return results, rows.Err()
}
