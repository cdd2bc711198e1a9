package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/whisperexam/whisper-backend/internal/broadcast"
	"github.com/whisperexam/whisper-backend/internal/codec"
	"github.com/whisperexam/whisper-backend/internal/grading"
	"github.com/whisperexam/whisper-backend/internal/model"
)

var testStart = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

// sessionEnv wires an ExamSessionService to in-memory fakes with a
// controllable clock and a seeded published exam.
type sessionEnv struct {
	svc       *ExamSessionService
	exams     *fakeExamStore
	questions *fakeQuestionStore
	sessions  *fakeSessionStore
	answers   *fakeAnswerStore
	results   *fakeResultStore
	regs      *fakeRegistrationStore
	cache     *fakeExpiryCache
	timers    *fakeTimers
	bus       *fakeBroadcaster
	codec     *codec.Codec

	clock time.Time

	exam   *model.Exam
	choice *model.Question
	blank  *model.Question
	user   uuid.UUID
}

func newSessionEnv(t *testing.T) *sessionEnv {
	t.Helper()
	e := &sessionEnv{
		exams:     newFakeExamStore(),
		questions: newFakeQuestionStore(),
		sessions:  newFakeSessionStore(),
		answers:   newFakeAnswerStore(),
		results:   newFakeResultStore(),
		regs:      newFakeRegistrationStore(),
		cache:     newFakeExpiryCache(),
		timers:    &fakeTimers{},
		bus:       &fakeBroadcaster{},
		codec:     codec.New("session-test-secret"),
		clock:     testStart,
		user:      uuid.New(),
	}
	e.answers.sessions = e.sessions

	e.exam = &model.Exam{
		ID:              uuid.New(),
		Title:           "Unit Exam",
		DurationSeconds: 1800,
		Status:          model.ExamStatusPublished,
		Settings:        model.ExamSettings{AllowPause: true},
		QuestionCount:   2,
	}
	e.exams.exams[e.exam.ID] = e.exam

	e.choice = e.addQuestion(t, model.QuestionTypeMCQ, 2, `"Mercury"`)
	e.blank = e.addQuestion(t, model.QuestionTypeFillBlank, 1, `"oxygen"`, func(q *model.Question) {
		q.FuzzyMatch = true
	})

	e.regs.regs[regKey{e.exam.ID, e.user}] = &model.ExamRegistration{
		ExamID: e.exam.ID, UserID: e.user, StudentCode: "STU-0001",
	}

	policy := grading.NewPolicy(e.codec)
	e.svc = NewExamSessionService(
		e.exams, e.questions, e.sessions, e.answers, e.results, e.regs,
		e.cache, e.codec, policy, e.bus, 3*time.Second, zerolog.Nop(),
	)
	e.svc.SetTimers(e.timers)
	e.svc.now = func() time.Time { return e.clock }
	return e
}

func (e *sessionEnv) addQuestion(t *testing.T, qtype model.QuestionType, points float64, rawKey string, mutate ...func(*model.Question)) *model.Question {
	t.Helper()
	q := &model.Question{
		ID:     uuid.New(),
		ExamID: e.exam.ID,
		Type:   qtype,
		Points: points,
	}
	if rawKey != "" {
		canonical, err := e.codec.Normalize(qtype, json.RawMessage(rawKey))
		require.NoError(t, err)
		fp, err := e.codec.Fingerprint(canonical)
		require.NoError(t, err)
		ct, err := e.codec.Encrypt(canonical)
		require.NoError(t, err)
		q.AnswerFingerprint = &fp
		q.AnswerCipher = &ct
	}
	for _, m := range mutate {
		m(q)
	}
	e.questions.add(q)
	return q
}

func (e *sessionEnv) start(t *testing.T) *model.ExamSession {
	t.Helper()
	sess, err := e.svc.Start(context.Background(), e.exam.ID, e.user)
	require.NoError(t, err)
	return sess
}

func saveReq(q *model.Question, raw string) model.SaveAnswerRequest {
	return model.SaveAnswerRequest{QuestionID: q.ID.String(), Answer: json.RawMessage(raw)}
}

func TestStartRequiresRegistration(t *testing.T) {
	e := newSessionEnv(t)

	_, err := e.svc.Start(context.Background(), e.exam.ID, uuid.New())
	require.ErrorIs(t, err, ErrNotRegistered)
}

func TestStartRejectsUnpublishedExam(t *testing.T) {
	e := newSessionEnv(t)
	e.exam.Status = model.ExamStatusClosed

	_, err := e.svc.Start(context.Background(), e.exam.ID, e.user)
	require.ErrorIs(t, err, ErrExamNotAvailable)
}

func TestStartFixesDeadlineAndArmsTimer(t *testing.T) {
	e := newSessionEnv(t)

	sess := e.start(t)
	require.Equal(t, model.SessionStatusInProgress, sess.Status)
	require.Equal(t, testStart, sess.StartedAt)
	require.Equal(t, testStart.Add(30*time.Minute), sess.ExpireAt)
	require.Equal(t, "STU-0001", sess.StudentCode)

	require.Equal(t, []uuid.UUID{sess.ID}, e.timers.watched)
	cached, err := e.cache.GetExpiry(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, sess.ExpireAt, cached)
}

func TestStartIsIdempotentWhileOpen(t *testing.T) {
	e := newSessionEnv(t)

	first := e.start(t)
	e.clock = e.clock.Add(5 * time.Minute)
	second := e.start(t)

	require.Equal(t, first.ID, second.ID)
	// The deadline is fixed at first start, never pushed out.
	require.Equal(t, first.ExpireAt, second.ExpireAt)
	require.Len(t, e.sessions.sessions, 1)
}

func TestStartCreatesEmptyResultShell(t *testing.T) {
	e := newSessionEnv(t)
	sess := e.start(t)

	res, err := e.results.GetBySession(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, model.SessionStatusInProgress, res.Status)
	require.False(t, res.Graded)
	require.Empty(t, res.Detailed)
	require.Zero(t, res.AutoScore)
	require.Equal(t, "STU-0001", res.StudentCode)
}

func TestSaveAnswerUpsertsAndPublishesProgress(t *testing.T) {
	e := newSessionEnv(t)
	sess := e.start(t)
	ctx := context.Background()

	receipt, err := e.svc.SaveAnswer(ctx, sess.ID, e.user, saveReq(e.choice, `"Venus"`))
	require.NoError(t, err)
	require.Equal(t, e.choice.ID, receipt.QuestionID)
	require.Equal(t, 1, receipt.Answered)
	require.Equal(t, 2, receipt.Total)

	// Re-saving the same question overwrites, never duplicates.
	receipt, err = e.svc.SaveAnswer(ctx, sess.ID, e.user, saveReq(e.choice, `"Mercury"`))
	require.NoError(t, err)
	require.Equal(t, 1, receipt.Answered)

	stored := e.answers.answers[answerKey{sess.ID, e.choice.ID}]
	v, err := codec.Unmarshal(stored.Value)
	require.NoError(t, err)
	require.Equal(t, "mercury", v)

	progress := e.bus.byType(broadcast.EventProgress)
	require.Len(t, progress, 2)
	require.Equal(t, 50.0, progress[1].Percent)
}

func TestSaveAnswerRejectsBadShapeAndForeignQuestion(t *testing.T) {
	e := newSessionEnv(t)
	sess := e.start(t)
	ctx := context.Background()

	_, err := e.svc.SaveAnswer(ctx, sess.ID, e.user, saveReq(e.blank, `123`))
	require.ErrorIs(t, err, codec.ErrInvalidShape)

	foreign := &model.Question{ID: uuid.New(), ExamID: uuid.New(), Type: model.QuestionTypeText, Points: 1}
	e.questions.add(foreign)
	_, err = e.svc.SaveAnswer(ctx, sess.ID, e.user, saveReq(foreign, `"hello"`))
	require.ErrorIs(t, err, ErrQuestionNotFound)
}

func TestSaveAnswerOwnership(t *testing.T) {
	e := newSessionEnv(t)
	sess := e.start(t)

	_, err := e.svc.SaveAnswer(context.Background(), sess.ID, uuid.New(), saveReq(e.choice, `"Mercury"`))
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSaveAnswerBlockedWhilePaused(t *testing.T) {
	e := newSessionEnv(t)
	sess := e.start(t)
	ctx := context.Background()

	_, err := e.svc.Pause(ctx, sess.ID, e.user)
	require.NoError(t, err)

	_, err = e.svc.SaveAnswer(ctx, sess.ID, e.user, saveReq(e.choice, `"Mercury"`))
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = e.svc.Resume(ctx, sess.ID, e.user)
	require.NoError(t, err)
	_, err = e.svc.SaveAnswer(ctx, sess.ID, e.user, saveReq(e.choice, `"Mercury"`))
	require.NoError(t, err)
}

func TestSaveAnswerWithinGraceStillLands(t *testing.T) {
	e := newSessionEnv(t)
	sess := e.start(t)

	e.clock = sess.ExpireAt.Add(2 * time.Second)
	_, err := e.svc.SaveAnswer(context.Background(), sess.ID, e.user, saveReq(e.choice, `"Mercury"`))
	require.NoError(t, err)
}

func TestSaveAnswerPastGraceFinalizesExpired(t *testing.T) {
	e := newSessionEnv(t)
	sess := e.start(t)
	ctx := context.Background()

	e.clock = sess.ExpireAt.Add(10 * time.Second)
	_, err := e.svc.SaveAnswer(ctx, sess.ID, e.user, saveReq(e.choice, `"Mercury"`))
	require.ErrorIs(t, err, ErrSessionClosed)

	current, err := e.sessions.GetByID(ctx, sess.ID)
	require.NoError(t, err)
	require.True(t, current.Status.Terminal())

	res, err := e.results.GetBySession(ctx, sess.ID)
	require.NoError(t, err)
	require.True(t, res.Graded)
	require.Zero(t, res.AutoScore)
}

func TestSaveAnswerLosingRaceWithFinalizeIsRejected(t *testing.T) {
	e := newSessionEnv(t)
	sess := e.start(t)
	ctx := context.Background()

	// The terminal flip lands between SaveAnswer's status check and its
	// conditional write.
	e.answers.beforeUpsert = func() {
		e.answers.beforeUpsert = nil
		_, err := e.svc.Submit(ctx, sess.ID, e.user)
		require.NoError(t, err)
	}

	_, err := e.svc.SaveAnswer(ctx, sess.ID, e.user, saveReq(e.choice, `"Mercury"`))
	require.ErrorIs(t, err, ErrSessionClosed)

	// No receipt, no stored row: the losing save is rejected outright
	// rather than accepted and excluded from grading.
	_, ok := e.answers.answers[answerKey{sess.ID, e.choice.ID}]
	require.False(t, ok)
	res, err := e.results.GetBySession(ctx, sess.ID)
	require.NoError(t, err)
	require.True(t, res.Graded)
	require.Zero(t, res.AutoScore)
}

func TestSaveAnswersBulkIsolatesFailures(t *testing.T) {
	e := newSessionEnv(t)
	sess := e.start(t)

	out, err := e.svc.SaveAnswers(context.Background(), sess.ID, e.user, model.BulkSaveAnswersRequest{
		Answers: []model.SaveAnswerRequest{
			saveReq(e.choice, `"Mercury"`),
			{QuestionID: "not-a-uuid", Answer: json.RawMessage(`"x"`)},
			saveReq(e.blank, `123`),
		},
	})
	require.NoError(t, err)
	require.Len(t, out.Saved, 1)
	require.Len(t, out.Failed, 2)
	require.Equal(t, "not-a-uuid", out.Failed[0].QuestionID)
}

func TestPauseRequiresExamOptIn(t *testing.T) {
	e := newSessionEnv(t)
	e.exam.Settings.AllowPause = false
	sess := e.start(t)

	_, err := e.svc.Pause(context.Background(), sess.ID, e.user)
	require.ErrorIs(t, err, ErrPauseNotAllowed)
}

func TestPauseDoesNotStopTheClock(t *testing.T) {
	e := newSessionEnv(t)
	sess := e.start(t)
	ctx := context.Background()

	paused, err := e.svc.Pause(ctx, sess.ID, e.user)
	require.NoError(t, err)
	require.Equal(t, model.SessionStatusPaused, paused.Status)
	require.Equal(t, sess.ExpireAt, paused.ExpireAt)

	// Pausing again is a no-op, not an error.
	again, err := e.svc.Pause(ctx, sess.ID, e.user)
	require.NoError(t, err)
	require.Equal(t, model.SessionStatusPaused, again.Status)

	resumed, err := e.svc.Resume(ctx, sess.ID, e.user)
	require.NoError(t, err)
	require.Equal(t, model.SessionStatusInProgress, resumed.Status)
	require.Equal(t, sess.ExpireAt, resumed.ExpireAt)
}

func TestSubmitGradesAndCleansUp(t *testing.T) {
	e := newSessionEnv(t)
	sess := e.start(t)
	ctx := context.Background()

	_, err := e.svc.SaveAnswer(ctx, sess.ID, e.user, saveReq(e.choice, `"Mercury"`))
	require.NoError(t, err)
	_, err = e.svc.SaveAnswer(ctx, sess.ID, e.user, saveReq(e.blank, `"Oxygen!"`))
	require.NoError(t, err)

	res, err := e.svc.Submit(ctx, sess.ID, e.user)
	require.NoError(t, err)
	require.Equal(t, 3.0, res.AutoScore)
	require.Equal(t, 3.0, res.PossibleScore)
	require.True(t, res.Graded)
	require.Equal(t, model.SessionStatusGraded, res.Status)
	require.NotNil(t, res.GradedAt)
	require.Len(t, res.Detailed, 2)

	current, err := e.sessions.GetByID(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, model.SessionStatusGraded, current.Status)
	require.NotNil(t, current.EndedAt)

	require.Equal(t, 1, e.answers.finalCalls)
	require.Equal(t, []uuid.UUID{sess.ID}, e.cache.dropped)
	require.Equal(t, []uuid.UUID{sess.ID}, e.timers.stopped)

	graded := e.bus.byType(broadcast.EventGraded)
	require.Len(t, graded, 1)
	require.Equal(t, 3.0, graded[0].AutoScore)
}

func TestSubmitTwiceReturnsStoredResult(t *testing.T) {
	e := newSessionEnv(t)
	sess := e.start(t)
	ctx := context.Background()

	first, err := e.svc.Submit(ctx, sess.ID, e.user)
	require.NoError(t, err)

	second, err := e.svc.Submit(ctx, sess.ID, e.user)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	// One shell insert at start, one grading fill-in; the loser writes
	// nothing.
	require.Equal(t, 1, e.results.createCalls)
	require.Equal(t, 1, e.results.finalizeCalls)
}

func TestSubmitWithManualItemsStaysUngraded(t *testing.T) {
	e := newSessionEnv(t)
	e.addQuestion(t, model.QuestionTypeEssay, 5, "")
	e.exam.QuestionCount = 3
	sess := e.start(t)
	ctx := context.Background()

	_, err := e.svc.SaveAnswer(ctx, sess.ID, e.user, saveReq(e.choice, `"Mercury"`))
	require.NoError(t, err)

	res, err := e.svc.Submit(ctx, sess.ID, e.user)
	require.NoError(t, err)
	require.False(t, res.Graded)
	require.Nil(t, res.GradedAt)
	require.Equal(t, model.SessionStatusSubmitted, res.Status)
	require.Equal(t, 1, res.NeedsManualCount())
	require.Equal(t, 2.0, res.AutoScore)
	require.Equal(t, 8.0, res.PossibleScore)

	current, err := e.sessions.GetByID(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, model.SessionStatusSubmitted, current.Status)
}

func TestExpireIsIdempotent(t *testing.T) {
	e := newSessionEnv(t)
	sess := e.start(t)
	ctx := context.Background()

	require.NoError(t, e.svc.Expire(ctx, sess.ID))
	require.NoError(t, e.svc.Expire(ctx, sess.ID))

	res, err := e.results.GetBySession(ctx, sess.ID)
	require.NoError(t, err)
	require.True(t, res.Graded)
	require.Equal(t, 1, e.results.finalizeCalls)
}

func TestExpireToleratesDeletedSession(t *testing.T) {
	e := newSessionEnv(t)

	// A session deleted out from under the timer is nothing to do, not
	// an error to retry forever.
	require.NoError(t, e.svc.Expire(context.Background(), uuid.New()))
}

func TestFinalizeRescuesCrashedGradingPass(t *testing.T) {
	e := newSessionEnv(t)
	sess := e.start(t)
	ctx := context.Background()

	_, err := e.svc.SaveAnswer(ctx, sess.ID, e.user, saveReq(e.choice, `"Mercury"`))
	require.NoError(t, err)

	// A finalize that died right after claiming the terminal state
	// leaves the session terminal with the result still the empty shell.
	_, err = e.sessions.ClaimTerminal(ctx, sess.ID, model.SessionStatusSubmitted, e.clock)
	require.NoError(t, err)

	res, err := e.svc.Submit(ctx, sess.ID, e.user)
	require.NoError(t, err)
	require.True(t, res.Graded)
	require.Equal(t, 2.0, res.AutoScore)
	require.Equal(t, 3.0, res.PossibleScore)
	require.Len(t, res.Detailed, 2)

	// The rescue graded once; a further submit serves the stored row.
	again, err := e.svc.Submit(ctx, sess.ID, e.user)
	require.NoError(t, err)
	require.Equal(t, res.ID, again.ID)
	require.Equal(t, 1, e.results.finalizeCalls)
}

func TestFinalizeCleanupSurvivesGradingFailure(t *testing.T) {
	e := newSessionEnv(t)
	sess := e.start(t)
	ctx := context.Background()

	// A corrupt stored answer makes the grading pass fail after the
	// terminal claim.
	e.answers.answers[answerKey{sess.ID, e.choice.ID}] = model.Answer{
		SessionID: sess.ID, QuestionID: e.choice.ID, Value: json.RawMessage(`{`),
	}

	_, err := e.svc.Submit(ctx, sess.ID, e.user)
	require.Error(t, err)

	// The session is terminal, so the timer and cached deadline are
	// gone even though grading failed.
	require.Equal(t, []uuid.UUID{sess.ID}, e.timers.stopped)
	require.Equal(t, []uuid.UUID{sess.ID}, e.cache.dropped)

	// Once the corrupt row is cleared the next touch grades the session.
	delete(e.answers.answers, answerKey{sess.ID, e.choice.ID})
	res, err := e.svc.Submit(ctx, sess.ID, e.user)
	require.NoError(t, err)
	require.True(t, res.Graded)
	require.Zero(t, res.AutoScore)
}

func TestGetStateComputesRemainingAndHealsCache(t *testing.T) {
	e := newSessionEnv(t)
	sess := e.start(t)
	ctx := context.Background()

	e.clock = e.clock.Add(10 * time.Minute)
	state, err := e.svc.GetState(ctx, sess.ID, e.user)
	require.NoError(t, err)
	require.Equal(t, "Unit Exam", state.ExamTitle)
	require.True(t, state.AllowPause)
	require.Equal(t, 2, state.Total)
	require.InDelta(t, 20*60, state.RemainingSeconds, 0.001)

	// A cache miss heals from the database row.
	require.NoError(t, e.cache.Drop(ctx, sess.ID))
	state, err = e.svc.GetState(ctx, sess.ID, e.user)
	require.NoError(t, err)
	require.InDelta(t, 20*60, state.RemainingSeconds, 0.001)
	_, err = e.cache.GetExpiry(ctx, sess.ID)
	require.NoError(t, err)
}

func TestGetStateFloorsRemainingAtZero(t *testing.T) {
	e := newSessionEnv(t)
	sess := e.start(t)

	e.clock = sess.ExpireAt.Add(time.Second)
	state, err := e.svc.GetState(context.Background(), sess.ID, e.user)
	require.NoError(t, err)
	require.Zero(t, state.RemainingSeconds)
}

func TestResumeTimersRearmsLiveSessions(t *testing.T) {
	e := newSessionEnv(t)
	sess := e.start(t)
	ctx := context.Background()

	// Simulate a restart: fresh timer supervisor, empty cache.
	e.timers.watched = nil
	require.NoError(t, e.cache.Drop(ctx, sess.ID))

	require.NoError(t, e.svc.ResumeTimers(ctx))
	require.Equal(t, []uuid.UUID{sess.ID}, e.timers.watched)
	_, err := e.cache.GetExpiry(ctx, sess.ID)
	require.NoError(t, err)
}
