package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/whisperexam/whisper-backend/internal/config"
	"github.com/whisperexam/whisper-backend/internal/model"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
)

// ProctorSink persists a drained batch of proctoring events.
type ProctorSink interface {
	InsertBatch(ctx context.Context, events []model.ProctorEvent) error
}

// ProctorWorker drains queued proctoring events and persists them in
// batches. The violation counter was already bumped at intake; this worker
// only owns the detail rows.
type ProctorWorker struct {
	sink ProctorSink
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewProctorWorker creates a new ProctorWorker.
func NewProctorWorker(sink ProctorSink, rdb *redis.Client, log zerolog.Logger) *ProctorWorker {
	return &ProctorWorker{
		sink: sink,
		rdb:  rdb,
		log:  log.With().Str("component", "proctor_worker").Logger(),
	}
}

// Start consumes the queue until the context is cancelled, flushing by
// size or age. Call in a goroutine.
func (w *ProctorWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ProctorWorker started")

	buffer := make([]model.ProctorEvent, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		if len(buffer) > 0 {
			if len(buffer) >= BatchSize || time.Since(lastFlushTime) >= BatchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0]
				lastFlushTime = time.Now()
			}
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistProctorEventsQueue).Result()
		if err != nil {
			if err == redis.Nil {
				continue // Timeout (queue empty), loop back to check flush timer
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

		var item model.ProctorQueueItem
		if err := json.Unmarshal([]byte(result[1]), &item); err != nil {
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			continue
		}

		sessionID, err := uuid.Parse(item.SessionID)
		if err != nil {
			w.log.Error().Str("session_id", item.SessionID).Msg("Dropping event with invalid session id")
			continue
		}

		buffer = append(buffer, model.ProctorEvent{
			SessionID:  sessionID,
			EventType:  item.EventType,
			Details:    item.Details,
			RecordedAt: time.Unix(item.Timestamp, 0),
		})
	}
}

// flushSafe attempts the batch insert and requeues on failure so a
// database outage delays events instead of dropping them.
func (w *ProctorWorker) flushSafe(ctx context.Context, batch []model.ProctorEvent) {
	if err := w.sink.InsertBatch(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Batch insert failed, requeueing")
		w.requeue(ctx, batch)
	}
}

func (w *ProctorWorker) requeue(ctx context.Context, batch []model.ProctorEvent) {
	pipe := w.rdb.Pipeline()
	for _, ev := range batch {
		data, _ := json.Marshal(model.ProctorQueueItem{
			SessionID: ev.SessionID.String(),
			EventType: ev.EventType,
			Details:   ev.Details,
			Timestamp: ev.RecordedAt.Unix(),
		})
		pipe.RPush(ctx, config.WorkerKey.PersistProctorEventsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue events to Redis. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(batch)).Msg("Requeued failed events back to Redis")
	time.Sleep(2 * time.Second)
}

func (w *ProctorWorker) shutdown(buffer []model.ProctorEvent) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}
