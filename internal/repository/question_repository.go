package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/whisperexam/whisper-backend/internal/model"
)

// QuestionRepository handles question data access.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// GetByID retrieves a single question with its key material.
func (r *QuestionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Question, error) {
	q := &model.Question{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, type, prompt, options, points, allow_partial,
		        fuzzy_match, answer_fingerprint, answer_cipher, order_num
		 FROM questions WHERE id = $1`, id,
	).Scan(&q.ID, &q.ExamID, &q.Type, &q.Prompt, &q.Options, &q.Points, &q.AllowPartial,
		&q.FuzzyMatch, &q.AnswerFingerprint, &q.AnswerCipher, &q.OrderNum)
	if err != nil {
		return nil, notFound(err)
	}
	return q, nil
}

// ListByExam retrieves all of an exam's questions in presentation order.
func (r *QuestionRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, type, prompt, options, points, allow_partial,
		        fuzzy_match, answer_fingerprint, answer_cipher, order_num
		 FROM questions
		 WHERE exam_id = $1
		 ORDER BY order_num ASC`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.ExamID, &q.Type, &q.Prompt, &q.Options, &q.Points,
			&q.AllowPartial, &q.FuzzyMatch, &q.AnswerFingerprint, &q.AnswerCipher, &q.OrderNum); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// Create inserts a question with its key material.
func (r *QuestionRepository) Create(ctx context.Context, q *model.Question) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO questions (exam_id, type, prompt, options, points, allow_partial,
		                        fuzzy_match, answer_fingerprint, answer_cipher, order_num)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id`,
		q.ExamID, q.Type, q.Prompt, q.Options, q.Points, q.AllowPartial,
		q.FuzzyMatch, q.AnswerFingerprint, q.AnswerCipher, q.OrderNum,
	).Scan(&q.ID)
}
