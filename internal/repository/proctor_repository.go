package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/whisperexam/whisper-backend/internal/model"
)

// ProctorRepository persists proctoring observations.
type ProctorRepository struct {
	pool *pgxpool.Pool
}

// NewProctorRepository creates a new ProctorRepository.
func NewProctorRepository(pool *pgxpool.Pool) *ProctorRepository {
	return &ProctorRepository{pool: pool}
}

// InsertBatch writes a drained queue batch in one round trip.
func (r *ProctorRepository) InsertBatch(ctx context.Context, events []model.ProctorEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(
			`INSERT INTO proctor_events (session_id, event_type, details, recorded_at)
			 VALUES ($1, $2, $3, $4)`,
			ev.SessionID, ev.EventType, ev.Details, ev.RecordedAt)
	}
	return r.pool.SendBatch(ctx, batch).Close()
}

// ListBySession retrieves a session's proctoring timeline.
func (r *ProctorRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.ProctorEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, event_type, details, recorded_at
		 FROM proctor_events
		 WHERE session_id = $1
		 ORDER BY recorded_at ASC`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.ProctorEvent
	for rows.Next() {
		var ev model.ProctorEvent
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.EventType, &ev.Details, &ev.RecordedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
