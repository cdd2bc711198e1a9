package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/whisperexam/whisper-backend/internal/broadcast"
	"github.com/whisperexam/whisper-backend/internal/config"
	"github.com/whisperexam/whisper-backend/internal/model"
)

// Finalizer force-closes a session. Implemented by ExamSessionService.
type Finalizer interface {
	Expire(ctx context.Context, sessionID uuid.UUID) error
}

// ProctorService ingests proctoring events. The violation counter is
// bumped synchronously so strict-mode enforcement sees a consistent total;
// the event detail row is queued for batch persistence off the hot path.
type ProctorService struct {
	sessionRepo SessionStore
	examRepo    ExamStore
	rdb         *redis.Client
	broadcaster broadcast.Broadcaster
	finalizer   Finalizer
	log         zerolog.Logger
}

// NewProctorService creates a new ProctorService. Call SetFinalizer before
// serving traffic.
func NewProctorService(
	sessionRepo SessionStore,
	examRepo ExamStore,
	rdb *redis.Client,
	broadcaster broadcast.Broadcaster,
	log zerolog.Logger,
) *ProctorService {
	return &ProctorService{
		sessionRepo: sessionRepo,
		examRepo:    examRepo,
		rdb:         rdb,
		broadcaster: broadcaster,
		log:         log.With().Str("component", "proctor_service").Logger(),
	}
}

// SetFinalizer injects the session finalizer used for strict-mode
// auto-submit. Wired after construction alongside the timer supervisor.
func (s *ProctorService) SetFinalizer(f Finalizer) {
	s.finalizer = f
}

// ViolationReceipt reports the updated counter after an accepted event.
type ViolationReceipt struct {
	SessionID      uuid.UUID `json:"session_id"`
	ViolationCount int       `json:"violation_count"`
	AutoSubmitted  bool      `json:"auto_submitted"`
}

// RecordViolation accepts one proctoring event for a live session owned by
// the caller. Events against terminal sessions are rejected.
func (s *ProctorService) RecordViolation(ctx context.Context, sessionID, userID uuid.UUID, req model.ViolationRequest) (*ViolationReceipt, error) {
	sess, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	if userID != uuid.Nil && sess.UserID != userID {
		return nil, ErrSessionNotFound
	}
	if sess.Status.Terminal() {
		return nil, ErrSessionClosed
	}

	total, err := s.sessionRepo.IncrementViolations(ctx, sessionID, 1)
	if err != nil {
		return nil, fmt.Errorf("increment violations: %w", err)
	}

	s.enqueue(ctx, sessionID, req)

	if s.broadcaster != nil {
		s.broadcaster.Publish(ctx, sessionID, broadcast.Event{
			Type:           broadcast.EventViolation,
			ViolationCount: total,
		})
	}

	receipt := &ViolationReceipt{SessionID: sessionID, ViolationCount: total}

	exam, err := s.examRepo.GetByID(ctx, sess.ExamID)
	if err == nil && exam.Settings.AutoSubmitOnViolation &&
		exam.Settings.MaxTabSwitches > 0 && total > exam.Settings.MaxTabSwitches {
		if s.finalizer != nil {
			if err := s.finalizer.Expire(ctx, sessionID); err != nil {
				s.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Strict-mode finalize failed")
			} else {
				receipt.AutoSubmitted = true
				s.log.Warn().
					Str("session_id", sessionID.String()).
					Int("violations", total).
					Msg("Session force-closed by violation limit")
			}
		}
	}
	return receipt, nil
}

// enqueue pushes the event detail onto the persistence queue drained by
// the proctor worker. Queue failure loses the detail row, never the count.
func (s *ProctorService) enqueue(ctx context.Context, sessionID uuid.UUID, req model.ViolationRequest) {
	item := model.ProctorQueueItem{
		SessionID: sessionID.String(),
		EventType: req.EventType,
		Details:   req.Details,
		Timestamp: time.Now().Unix(),
	}
	data, err := json.Marshal(item)
	if err != nil {
		s.log.Error().Err(err).Msg("Marshal proctor event failed")
		return
	}
	if err := s.rdb.LPush(ctx, config.WorkerKey.PersistProctorEventsQueue, data).Err(); err != nil {
		s.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Enqueue proctor event failed")
	}
}
