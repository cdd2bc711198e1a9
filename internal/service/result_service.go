package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/whisperexam/whisper-backend/internal/codec"
	"github.com/whisperexam/whisper-backend/internal/grading"
	"github.com/whisperexam/whisper-backend/internal/model"
	"github.com/whisperexam/whisper-backend/internal/repository"
)

// ResultService serves graded results and the examiner-side manual grading
// and answer-key reveal paths.
type ResultService struct {
	resultRepo   ResultStore
	sessionRepo  SessionStore
	questionRepo QuestionStore
	proctorRepo  ProctorStore
	codec        *codec.Codec
	log          zerolog.Logger

	now func() time.Time
}

// NewResultService creates a new ResultService.
func NewResultService(
	resultRepo ResultStore,
	sessionRepo SessionStore,
	questionRepo QuestionStore,
	proctorRepo ProctorStore,
	c *codec.Codec,
	log zerolog.Logger,
) *ResultService {
	return &ResultService{
		resultRepo:   resultRepo,
		sessionRepo:  sessionRepo,
		questionRepo: questionRepo,
		proctorRepo:  proctorRepo,
		codec:        c,
		log:          log.With().Str("component", "result_service").Logger(),
		now:          time.Now,
	}
}

// GetResult retrieves one session's result. A non-nil userID restricts the
// lookup to sessions owned by that user.
func (s *ResultService) GetResult(ctx context.Context, sessionID, userID uuid.UUID) (*model.Result, error) {
	if userID != uuid.Nil {
		sess, err := s.sessionRepo.GetByID(ctx, sessionID)
		if err != nil || sess.UserID != userID {
			return nil, ErrResultNotFound
		}
	}
	res, err := s.resultRepo.GetBySession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrResultNotFound
		}
		return nil, fmt.Errorf("get result: %w", err)
	}
	return res, nil
}

// ListByExam retrieves all results of one exam for the examiner view.
func (s *ResultService) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Result, error) {
	return s.resultRepo.ListByExam(ctx, examID)
}

// ListByUser retrieves a student's own results.
func (s *ResultService) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Result, error) {
	return s.resultRepo.ListByUser(ctx, userID)
}

// ApplyManualScores finalizes needs-manual breakdown entries with examiner
// awards. Only entries still awaiting review can be scored; auto-graded
// entries are immutable. Once no entry awaits review the result (and the
// session) flips to graded.
func (s *ResultService) ApplyManualScores(ctx context.Context, sessionID uuid.UUID, req model.ManualGradeRequest) (*model.Result, error) {
	res, err := s.GetResult(ctx, sessionID, uuid.Nil)
	if err != nil {
		return nil, err
	}

	byQuestion := make(map[uuid.UUID]*model.QuestionScore, len(res.Detailed))
	for i := range res.Detailed {
		byQuestion[res.Detailed[i].QuestionID] = &res.Detailed[i]
	}

	for _, entry := range req.Scores {
		questionID, err := uuid.Parse(entry.QuestionID)
		if err != nil {
			return nil, ErrQuestionNotFound
		}
		item, ok := byQuestion[questionID]
		if !ok {
			return nil, ErrQuestionNotFound
		}
		if !item.NeedsManual {
			return nil, fmt.Errorf("%w: %s", ErrNotManualItem, questionID)
		}
		awarded := entry.Awarded
		if awarded > item.Possible {
			awarded = item.Possible
		}
		item.Awarded = awarded
		item.NeedsManual = false
		item.Reason = grading.ReasonManual
	}

	res.AutoScore = 0
	for _, item := range res.Detailed {
		res.AutoScore += item.Awarded
	}

	if res.NeedsManualCount() == 0 && !res.Graded {
		now := s.now()
		res.Graded = true
		res.GradedAt = &now
		res.Status = model.SessionStatusGraded
		if err := s.sessionRepo.MarkGraded(ctx, sessionID); err != nil {
			s.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Mark graded failed")
		}
	}

	if err := s.resultRepo.Update(ctx, res); err != nil {
		return nil, fmt.Errorf("update result: %w", err)
	}

	s.log.Info().
		Str("session_id", sessionID.String()).
		Int("scored", len(req.Scores)).
		Int("remaining_manual", res.NeedsManualCount()).
		Msg("Manual scores applied")
	return res, nil
}

// RevealAnswerKey decrypts a question's stored answer key for the examiner
// review screen. Questions without a cipher cannot be revealed.
func (s *ResultService) RevealAnswerKey(ctx context.Context, questionID uuid.UUID) (any, error) {
	q, err := s.questionRepo.GetByID(ctx, questionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("get question: %w", err)
	}
	if q.AnswerCipher == nil {
		return nil, ErrNoAnswerKey
	}
	key, err := s.codec.Decrypt(*q.AnswerCipher)
	if err != nil {
		return nil, fmt.Errorf("reveal key for %s: %w", questionID, err)
	}
	return key, nil
}

// GetProctorTimeline retrieves a session's persisted proctoring events.
func (s *ResultService) GetProctorTimeline(ctx context.Context, sessionID uuid.UUID) ([]model.ProctorEvent, error) {
	return s.proctorRepo.ListBySession(ctx, sessionID)
}
