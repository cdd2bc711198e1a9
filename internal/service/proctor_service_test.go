package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/whisperexam/whisper-backend/internal/broadcast"
	"github.com/whisperexam/whisper-backend/internal/config"
	"github.com/whisperexam/whisper-backend/internal/model"
)

type proctorEnv struct {
	svc       *ProctorService
	sessions  *fakeSessionStore
	exams     *fakeExamStore
	bus       *fakeBroadcaster
	finalizer *fakeFinalizer
	rdb       *redis.Client

	exam      *model.Exam
	sessionID uuid.UUID
	user      uuid.UUID
}

func newProctorEnv(t *testing.T) *proctorEnv {
	t.Helper()
	mr := miniredis.RunT(t)

	e := &proctorEnv{
		sessions:  newFakeSessionStore(),
		exams:     newFakeExamStore(),
		bus:       &fakeBroadcaster{},
		finalizer: &fakeFinalizer{},
		rdb:       redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		user:      uuid.New(),
	}
	t.Cleanup(func() { e.rdb.Close() })

	e.exam = &model.Exam{
		ID:              uuid.New(),
		Title:           "Proctored Exam",
		DurationSeconds: 1800,
		Status:          model.ExamStatusPublished,
		Settings:        model.ExamSettings{Proctoring: true},
	}
	e.exams.exams[e.exam.ID] = e.exam

	sess := &model.ExamSession{
		ExamID:    e.exam.ID,
		UserID:    e.user,
		Status:    model.SessionStatusInProgress,
		StartedAt: testStart,
		ExpireAt:  testStart.Add(30 * time.Minute),
	}
	require.NoError(t, e.sessions.Create(context.Background(), sess))
	e.sessionID = sess.ID

	e.svc = NewProctorService(e.sessions, e.exams, e.rdb, e.bus, zerolog.Nop())
	e.svc.SetFinalizer(e.finalizer)
	return e
}

func violation(eventType string) model.ViolationRequest {
	return model.ViolationRequest{
		EventType: eventType,
		Details:   json.RawMessage(`{"target":"https://example.com"}`),
	}
}

func TestRecordViolationCountsAndQueues(t *testing.T) {
	e := newProctorEnv(t)
	ctx := context.Background()

	receipt, err := e.svc.RecordViolation(ctx, e.sessionID, e.user, violation("tab_blur"))
	require.NoError(t, err)
	require.Equal(t, 1, receipt.ViolationCount)
	require.False(t, receipt.AutoSubmitted)

	receipt, err = e.svc.RecordViolation(ctx, e.sessionID, e.user, violation("copy_attempt"))
	require.NoError(t, err)
	require.Equal(t, 2, receipt.ViolationCount)

	queued, err := e.rdb.LRange(ctx, config.WorkerKey.PersistProctorEventsQueue, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, queued, 2)

	var item model.ProctorQueueItem
	require.NoError(t, json.Unmarshal([]byte(queued[0]), &item))
	require.Equal(t, e.sessionID.String(), item.SessionID)
	require.Equal(t, "copy_attempt", item.EventType)

	events := e.bus.byType(broadcast.EventViolation)
	require.Len(t, events, 2)
	require.Equal(t, 2, events[1].ViolationCount)
	require.Empty(t, e.finalizer.expired)
}

func TestRecordViolationStrictModeForceCloses(t *testing.T) {
	e := newProctorEnv(t)
	e.exam.Settings.AutoSubmitOnViolation = true
	e.exam.Settings.MaxTabSwitches = 2
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		receipt, err := e.svc.RecordViolation(ctx, e.sessionID, e.user, violation("tab_blur"))
		require.NoError(t, err)
		require.False(t, receipt.AutoSubmitted)
	}

	receipt, err := e.svc.RecordViolation(ctx, e.sessionID, e.user, violation("tab_blur"))
	require.NoError(t, err)
	require.True(t, receipt.AutoSubmitted)
	require.Equal(t, 3, receipt.ViolationCount)
	require.Equal(t, []uuid.UUID{e.sessionID}, e.finalizer.expired)
}

func TestRecordViolationRejectsTerminalAndForeignSessions(t *testing.T) {
	e := newProctorEnv(t)
	ctx := context.Background()

	_, err := e.svc.RecordViolation(ctx, e.sessionID, uuid.New(), violation("tab_blur"))
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, err = e.sessions.ClaimTerminal(ctx, e.sessionID, model.SessionStatusSubmitted, testStart)
	require.NoError(t, err)
	_, err = e.svc.RecordViolation(ctx, e.sessionID, e.user, violation("tab_blur"))
	require.ErrorIs(t, err, ErrSessionClosed)
}
