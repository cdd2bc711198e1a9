package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/whisperexam/whisper-backend/internal/model"
)

// RegistrationRepository reads exam registrations issued by the enrollment
// system.
type RegistrationRepository struct {
	pool *pgxpool.Pool
}

// NewRegistrationRepository creates a new RegistrationRepository.
func NewRegistrationRepository(pool *pgxpool.Pool) *RegistrationRepository {
	return &RegistrationRepository{pool: pool}
}

// Get retrieves the registration for one (exam, user) pair.
func (r *RegistrationRepository) Get(ctx context.Context, examID, userID uuid.UUID) (*model.ExamRegistration, error) {
	reg := &model.ExamRegistration{}
	err := r.pool.QueryRow(ctx,
		`SELECT exam_id, user_id, student_code, created_at
		 FROM exam_registrations
		 WHERE exam_id = $1 AND user_id = $2`, examID, userID,
	).Scan(&reg.ExamID, &reg.UserID, &reg.StudentCode, &reg.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return reg, nil
}

// Create inserts a registration. Used by the seeding tool.
func (r *RegistrationRepository) Create(ctx context.Context, reg *model.ExamRegistration) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO exam_registrations (exam_id, user_id, student_code)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (exam_id, user_id) DO UPDATE SET student_code = EXCLUDED.student_code`,
		reg.ExamID, reg.UserID, reg.StudentCode)
	return err
}
