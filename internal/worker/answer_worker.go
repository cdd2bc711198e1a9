package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/whisperexam/whisper-backend/internal/codec"
	"github.com/whisperexam/whisper-backend/internal/config"
	"github.com/whisperexam/whisper-backend/internal/model"
	"github.com/whisperexam/whisper-backend/internal/service"
)

const PollTimeout = 1 * time.Second // Must be >= 1s to satisfy Redis

// AnswerSaver persists one normalized answer. Implemented by the session
// service so queued saves go through the same validation as HTTP saves.
type AnswerSaver interface {
	SaveAnswer(ctx context.Context, sessionID, userID uuid.UUID, req model.SaveAnswerRequest) (*service.SaveReceipt, error)
}

// AnswerWorker drains the autosave queue fed by the WebSocket channel.
// Domain rejections (closed session, bad shape) are logged and dropped;
// infrastructure failures requeue the item.
type AnswerWorker struct {
	saver AnswerSaver
	rdb   *redis.Client
	log   zerolog.Logger
}

// NewAnswerWorker creates a new AnswerWorker.
func NewAnswerWorker(saver AnswerSaver, rdb *redis.Client, log zerolog.Logger) *AnswerWorker {
	return &AnswerWorker{
		saver: saver,
		rdb:   rdb,
		log:   log.With().Str("component", "answer_worker").Logger(),
	}
}

// Start consumes the queue until the context is cancelled. Call in a
// goroutine.
func (w *AnswerWorker) Start(ctx context.Context) {
	w.log.Info().Msg("AnswerWorker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("AnswerWorker stopping")
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistAnswersQueue).Result()
		if err != nil {
			if err == redis.Nil {
				continue // Queue empty
			}
			if ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var item model.AnswerQueueItem
		if err := json.Unmarshal([]byte(result[1]), &item); err != nil {
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			continue
		}
		w.process(ctx, result[1], item)
	}
}

func (w *AnswerWorker) process(ctx context.Context, raw string, item model.AnswerQueueItem) {
	sessionID, err := uuid.Parse(item.SessionID)
	if err != nil {
		w.log.Error().Str("session_id", item.SessionID).Msg("Discarding autosave with invalid session id")
		return
	}
	userID, err := uuid.Parse(item.UserID)
	if err != nil {
		w.log.Error().Str("user_id", item.UserID).Msg("Discarding autosave with invalid user id")
		return
	}

	_, err = w.saver.SaveAnswer(ctx, sessionID, userID, model.SaveAnswerRequest{
		QuestionID: item.QuestionID,
		Answer:     item.Answer,
	})
	if err == nil {
		return
	}

	// Rejections are final: the answer can never be accepted, so there is
	// nothing to retry.
	if isDomainReject(err) {
		w.log.Debug().Err(err).
			Str("session_id", item.SessionID).
			Str("question_id", item.QuestionID).
			Msg("Autosave rejected")
		return
	}

	w.log.Error().Err(err).Str("session_id", item.SessionID).Msg("Autosave failed, requeueing")
	if rerr := w.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, raw).Err(); rerr != nil {
		w.log.Error().Err(rerr).Msg("CRITICAL: Failed to requeue autosave. Data loss occurred.")
	}
	time.Sleep(2 * time.Second)
}

func isDomainReject(err error) bool {
	for _, sentinel := range []error{
		service.ErrSessionNotFound,
		service.ErrSessionClosed,
		service.ErrInvalidTransition,
		service.ErrQuestionNotFound,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	// Shape errors from normalization are not retryable either.
	return errors.Is(err, codec.ErrInvalidShape)
}
