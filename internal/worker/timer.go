package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/whisperexam/whisper-backend/internal/broadcast"
	"github.com/whisperexam/whisper-backend/internal/model"
)

const expireRetryDelay = 5 * time.Second

// SessionFinalizer force-closes a session whose deadline passed.
// Implemented by the session service; Expire is idempotent.
type SessionFinalizer interface {
	Expire(ctx context.Context, sessionID uuid.UUID) error
}

// TimerSupervisor runs one goroutine per live session: it broadcasts
// countdown ticks and fires the expiry finalization at the deadline.
// Expiry retries until it lands, so a transient database outage delays
// finalization instead of dropping it.
type TimerSupervisor struct {
	finalizer   SessionFinalizer
	broadcaster broadcast.Broadcaster
	tick        time.Duration
	log         zerolog.Logger

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
}

// NewTimerSupervisor creates a new TimerSupervisor.
func NewTimerSupervisor(finalizer SessionFinalizer, broadcaster broadcast.Broadcaster, tick time.Duration, log zerolog.Logger) *TimerSupervisor {
	return &TimerSupervisor{
		finalizer:   finalizer,
		broadcaster: broadcaster,
		tick:        tick,
		log:         log.With().Str("component", "timer_supervisor").Logger(),
		cancels:     make(map[uuid.UUID]context.CancelFunc),
	}
}

// Start blocks until the context is cancelled, then tears down every
// watcher. Call in a goroutine.
func (t *TimerSupervisor) Start(ctx context.Context) {
	t.log.Info().Msg("TimerSupervisor started")
	<-ctx.Done()

	t.mu.Lock()
	for id, cancel := range t.cancels {
		cancel()
		delete(t.cancels, id)
	}
	t.mu.Unlock()
	t.log.Info().Msg("TimerSupervisor stopped")
}

// Watch arms the expiry timer for a session. Watching an already-watched
// session is a no-op, so start(), reconnects and boot rearming can all
// call it blindly.
func (t *TimerSupervisor) Watch(s *model.ExamSession) {
	t.mu.Lock()
	if _, ok := t.cancels[s.ID]; ok {
		t.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancels[s.ID] = cancel
	t.mu.Unlock()

	go t.run(ctx, s.ID, s.ExpireAt)
}

// Stop disarms a session's timer, typically after submit won the
// terminal claim.
func (t *TimerSupervisor) Stop(sessionID uuid.UUID) {
	t.mu.Lock()
	if cancel, ok := t.cancels[sessionID]; ok {
		cancel()
		delete(t.cancels, sessionID)
	}
	t.mu.Unlock()
}

// Watching reports whether a session currently has an armed timer.
func (t *TimerSupervisor) Watching(sessionID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.cancels[sessionID]
	return ok
}

func (t *TimerSupervisor) run(ctx context.Context, sessionID uuid.UUID, expireAt time.Time) {
	defer t.Stop(sessionID)

	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()
	deadline := time.NewTimer(time.Until(expireAt))
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if t.broadcaster != nil {
				remaining := expireAt.Sub(now)
				if remaining < 0 {
					remaining = 0
				}
				t.broadcaster.Publish(ctx, sessionID, broadcast.Event{
					Type:             broadcast.EventTick,
					At:               now,
					RemainingSeconds: remaining.Seconds(),
				})
			}
		case <-deadline.C:
			t.expire(ctx, sessionID)
			return
		}
	}
}

// expire retries finalization until it succeeds or the watcher is torn
// down. Expire is a no-op on already-terminal and on vanished sessions,
// so racing a concurrent submit or a deleted row is harmless.
func (t *TimerSupervisor) expire(ctx context.Context, sessionID uuid.UUID) {
	for {
		err := t.finalizer.Expire(ctx, sessionID)
		if err == nil {
			return
		}
		t.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Expiry finalize failed, retrying")

		select {
		case <-ctx.Done():
			return
		case <-time.After(expireRetryDelay):
		}
	}
}
