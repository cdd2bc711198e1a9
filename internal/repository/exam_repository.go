package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/whisperexam/whisper-backend/internal/model"
)

// ExamRepository handles exam definition data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetByID retrieves an exam by its UUID, including the live question count.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	var settings []byte
	err := r.pool.QueryRow(ctx,
		`SELECT e.id, e.title, e.description, e.duration_seconds, e.status, e.settings,
		        (SELECT COUNT(*) FROM questions q WHERE q.exam_id = e.id),
		        e.created_at, e.updated_at
		 FROM exams e WHERE e.id = $1`, id,
	).Scan(&e.ID, &e.Title, &e.Description, &e.DurationSeconds, &e.Status, &settings,
		&e.QuestionCount, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if err := json.Unmarshal(settings, &e.Settings); err != nil {
		return nil, fmt.Errorf("exam %s: invalid settings: %w", id, err)
	}
	return e, nil
}

// Create inserts a new exam definition.
func (r *ExamRepository) Create(ctx context.Context, e *model.Exam) error {
	settings, err := json.Marshal(e.Settings)
	if err != nil {
		return err
	}
	return r.pool.QueryRow(ctx,
		`INSERT INTO exams (title, description, duration_seconds, status, settings)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at, updated_at`,
		e.Title, e.Description, e.DurationSeconds, e.Status, settings,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

// UpdateStatus updates an exam's lifecycle status.
func (r *ExamRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.ExamStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exams SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, id)
	return err
}
