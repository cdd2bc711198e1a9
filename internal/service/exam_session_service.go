package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/whisperexam/whisper-backend/internal/broadcast"
	"github.com/whisperexam/whisper-backend/internal/codec"
	"github.com/whisperexam/whisper-backend/internal/grading"
	"github.com/whisperexam/whisper-backend/internal/model"
	"github.com/whisperexam/whisper-backend/internal/repository"
)

// ExamSessionService owns the attempt lifecycle: start, answer saves,
// pause/resume, and the single freeze-and-grade path shared by explicit
// submit and timer expiry.
type ExamSessionService struct {
	examRepo     ExamStore
	questionRepo QuestionStore
	sessionRepo  SessionStore
	answerRepo   AnswerStore
	resultRepo   ResultStore
	regRepo      RegistrationStore
	cache        ExpiryCache
	codec        *codec.Codec
	policy       *grading.Policy
	broadcaster  broadcast.Broadcaster
	timers       TimerControl
	grace        time.Duration
	log          zerolog.Logger

	// now is swapped in tests to drive the attempt clock.
	now func() time.Time
}

// NewExamSessionService creates a new ExamSessionService. Call SetTimers
// before serving traffic.
func NewExamSessionService(
	examRepo ExamStore,
	questionRepo QuestionStore,
	sessionRepo SessionStore,
	answerRepo AnswerStore,
	resultRepo ResultStore,
	regRepo RegistrationStore,
	cache ExpiryCache,
	c *codec.Codec,
	policy *grading.Policy,
	broadcaster broadcast.Broadcaster,
	grace time.Duration,
	log zerolog.Logger,
) *ExamSessionService {
	return &ExamSessionService{
		examRepo:     examRepo,
		questionRepo: questionRepo,
		sessionRepo:  sessionRepo,
		answerRepo:   answerRepo,
		resultRepo:   resultRepo,
		regRepo:      regRepo,
		cache:        cache,
		codec:        c,
		policy:       policy,
		broadcaster:  broadcaster,
		grace:        grace,
		log:          log.With().Str("component", "session_service").Logger(),
		now:          time.Now,
	}
}

// SetTimers injects the expiry timer supervisor. The supervisor depends on
// this service for Expire, so the wire-up happens after construction.
func (s *ExamSessionService) SetTimers(t TimerControl) {
	s.timers = t
}

// SaveReceipt acknowledges one accepted answer save.
type SaveReceipt struct {
	QuestionID uuid.UUID `json:"question_id"`
	SavedAt    time.Time `json:"saved_at"`
	Answered   int       `json:"answered"`
	Total      int       `json:"total"`
}

// BulkItemError reports one rejected item of a bulk save.
type BulkItemError struct {
	QuestionID string `json:"question_id"`
	Error      string `json:"error"`
}

// BulkSaveResult reports the per-item outcome of a bulk save.
type BulkSaveResult struct {
	Saved  []SaveReceipt   `json:"saved"`
	Failed []BulkItemError `json:"failed,omitempty"`
}

// SessionState is the read model served to a reconnecting client.
type SessionState struct {
	Session          *model.ExamSession `json:"session"`
	ExamTitle        string             `json:"exam_title"`
	AllowPause       bool               `json:"allow_pause"`
	RemainingSeconds float64            `json:"remaining_seconds"`
	Answered         int                `json:"answered"`
	Total            int                `json:"total"`
}

// Start opens an attempt for a registered user on a published exam. The
// deadline is fixed here, once, from the exam duration. Calling Start again
// while an attempt is open returns the open attempt unchanged.
func (s *ExamSessionService) Start(ctx context.Context, examID, userID uuid.UUID) (*model.ExamSession, error) {
	reg, err := s.regRepo.Get(ctx, examID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotRegistered
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}

	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if exam.Status != model.ExamStatusPublished {
		return nil, ErrExamNotAvailable
	}

	existing, err := s.sessionRepo.GetOpenByExamAndUser(ctx, examID, userID)
	if err == nil {
		s.armTimer(ctx, existing)
		return existing, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("get open session: %w", err)
	}

	now := s.now()
	sess := &model.ExamSession{
		ExamID:      examID,
		UserID:      userID,
		StudentCode: reg.StudentCode,
		Status:      model.SessionStatusInProgress,
		StartedAt:   now,
		ExpireAt:    now.Add(exam.Duration()),
	}
	if err := s.sessionRepo.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	// The empty result shell exists from the first moment of the attempt;
	// the grading pass fills it in at finalization.
	shell := &model.Result{
		SessionID:   sess.ID,
		ExamID:      examID,
		StudentCode: sess.StudentCode,
		Status:      model.SessionStatusInProgress,
	}
	if err := s.resultRepo.Create(ctx, shell); err != nil {
		return nil, fmt.Errorf("create result shell: %w", err)
	}

	s.armTimer(ctx, sess)
	s.log.Info().
		Str("session_id", sess.ID.String()).
		Str("exam_id", examID.String()).
		Str("student_code", sess.StudentCode).
		Time("expire_at", sess.ExpireAt).
		Msg("Session started")
	return sess, nil
}

func (s *ExamSessionService) armTimer(ctx context.Context, sess *model.ExamSession) {
	if err := s.cache.SetExpiry(ctx, sess.ID, sess.ExpireAt); err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("Expiry cache write failed")
	}
	if s.timers != nil {
		s.timers.Watch(sess)
	}
}

// SaveAnswer normalizes and stores one answer. Re-saving a question
// overwrites the previous value. Saves race the deadline: a save landing
// past expire_at (plus grace) finalizes the session instead.
func (s *ExamSessionService) SaveAnswer(ctx context.Context, sessionID, userID uuid.UUID, req model.SaveAnswerRequest) (*SaveReceipt, error) {
	sess, err := s.loadOwned(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.checkWritable(ctx, sess); err != nil {
		return nil, err
	}

	receipt, err := s.saveOne(ctx, sess, req)
	if err != nil {
		return nil, err
	}
	s.publishProgress(ctx, sess, receipt)
	return receipt, nil
}

// SaveAnswers applies a batch independently per item: a malformed item is
// reported in Failed without poisoning its neighbors. Session-level
// failures (closed, expired) reject the whole batch.
func (s *ExamSessionService) SaveAnswers(ctx context.Context, sessionID, userID uuid.UUID, req model.BulkSaveAnswersRequest) (*BulkSaveResult, error) {
	sess, err := s.loadOwned(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.checkWritable(ctx, sess); err != nil {
		return nil, err
	}

	out := &BulkSaveResult{}
	var last *SaveReceipt
	for _, item := range req.Answers {
		receipt, err := s.saveOne(ctx, sess, item)
		if err != nil {
			out.Failed = append(out.Failed, BulkItemError{QuestionID: item.QuestionID, Error: err.Error()})
			continue
		}
		out.Saved = append(out.Saved, *receipt)
		last = receipt
	}
	if last != nil {
		s.publishProgress(ctx, sess, last)
	}
	return out, nil
}

// checkWritable rejects saves against paused or finalized sessions and
// finalizes on the spot when the deadline has passed.
func (s *ExamSessionService) checkWritable(ctx context.Context, sess *model.ExamSession) error {
	if sess.Status.Terminal() {
		return ErrSessionClosed
	}
	if sess.Status == model.SessionStatusPaused {
		return ErrInvalidTransition
	}
	if s.now().After(sess.ExpireAt.Add(s.grace)) {
		if _, err := s.finalize(ctx, sess.ID, model.SessionStatusExpired); err != nil {
			s.log.Error().Err(err).Str("session_id", sess.ID.String()).Msg("Late-save finalize failed")
		}
		return ErrSessionClosed
	}
	return nil
}

func (s *ExamSessionService) saveOne(ctx context.Context, sess *model.ExamSession, req model.SaveAnswerRequest) (*SaveReceipt, error) {
	questionID, err := uuid.Parse(req.QuestionID)
	if err != nil {
		return nil, ErrQuestionNotFound
	}
	q, err := s.questionRepo.GetByID(ctx, questionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("get question: %w", err)
	}
	if q.ExamID != sess.ExamID {
		return nil, ErrQuestionNotFound
	}

	canonical, err := s.codec.Normalize(q.Type, req.Answer)
	if err != nil {
		return nil, err
	}
	raw, err := codec.Marshal(canonical)
	if err != nil {
		return nil, fmt.Errorf("serialize answer: %w", err)
	}

	now := s.now()
	if err := s.answerRepo.Upsert(ctx, sess.ID, q.ID, raw, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// The conditional write found no live session row: the
			// terminal flip (or a pause) landed after our status check.
			// The answer was not stored and must not be receipted.
			return nil, s.writeBlocked(ctx, sess.ID)
		}
		return nil, fmt.Errorf("save answer: %w", err)
	}

	answered, err := s.answerRepo.CountBySession(ctx, sess.ID)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("Count answers failed")
	}
	total := s.questionTotal(ctx, sess.ExamID)
	return &SaveReceipt{QuestionID: q.ID, SavedAt: now, Answered: answered, Total: total}, nil
}

// writeBlocked rereads a session whose conditional answer write landed on
// no row and reports what actually blocked it.
func (s *ExamSessionService) writeBlocked(ctx context.Context, sessionID uuid.UUID) error {
	current, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return ErrSessionNotFound
	}
	if current.Status == model.SessionStatusPaused {
		return ErrInvalidTransition
	}
	return ErrSessionClosed
}

func (s *ExamSessionService) questionTotal(ctx context.Context, examID uuid.UUID) int {
	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		return 0
	}
	return exam.QuestionCount
}

func (s *ExamSessionService) publishProgress(ctx context.Context, sess *model.ExamSession, receipt *SaveReceipt) {
	if s.broadcaster == nil {
		return
	}
	ev := broadcast.Event{
		Type:     broadcast.EventProgress,
		At:       receipt.SavedAt,
		Answered: receipt.Answered,
		Total:    receipt.Total,
	}
	if receipt.Total > 0 {
		ev.Percent = float64(receipt.Answered) / float64(receipt.Total) * 100
	}
	s.broadcaster.Publish(ctx, sess.ID, ev)
}

// Pause suspends interaction without stopping the attempt clock. Allowed
// only when the exam opted in; pausing a paused session is a no-op.
func (s *ExamSessionService) Pause(ctx context.Context, sessionID, userID uuid.UUID) (*model.ExamSession, error) {
	sess, err := s.loadOwned(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	exam, err := s.examRepo.GetByID(ctx, sess.ExamID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if !exam.Settings.AllowPause {
		return nil, ErrPauseNotAllowed
	}
	return s.transition(ctx, sess, model.SessionStatusInProgress, model.SessionStatusPaused)
}

// Resume reactivates a paused session.
func (s *ExamSessionService) Resume(ctx context.Context, sessionID, userID uuid.UUID) (*model.ExamSession, error) {
	sess, err := s.loadOwned(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, sess, model.SessionStatusPaused, model.SessionStatusInProgress)
}

func (s *ExamSessionService) transition(ctx context.Context, sess *model.ExamSession, from, to model.SessionStatus) (*model.ExamSession, error) {
	if sess.Status.Terminal() {
		return nil, ErrSessionClosed
	}
	if sess.Status == to {
		return sess, nil
	}
	updated, err := s.sessionRepo.SetStatus(ctx, sess.ID, from, to)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("set status: %w", err)
	}

	// Lost a race: reread and report what actually blocked us.
	current, gerr := s.sessionRepo.GetByID(ctx, sess.ID)
	if gerr != nil {
		return nil, ErrSessionNotFound
	}
	if current.Status.Terminal() {
		return nil, ErrSessionClosed
	}
	if current.Status == to {
		return current, nil
	}
	return nil, ErrInvalidTransition
}

// Submit finalizes the attempt at the student's request. Submitting an
// already-terminal session returns the stored result unchanged.
func (s *ExamSessionService) Submit(ctx context.Context, sessionID, userID uuid.UUID) (*model.Result, error) {
	if _, err := s.loadOwned(ctx, sessionID, userID); err != nil {
		return nil, err
	}
	return s.finalize(ctx, sessionID, model.SessionStatusSubmitted)
}

// Expire finalizes a session whose deadline has passed. Called by the
// timer supervisor; safe to call on an already-terminal session, and a
// session deleted out from under the timer counts as nothing to do.
func (s *ExamSessionService) Expire(ctx context.Context, sessionID uuid.UUID) error {
	_, err := s.finalize(ctx, sessionID, model.SessionStatusExpired)
	if errors.Is(err, ErrSessionClosed) || errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	return err
}

// GetState serves the reconnect snapshot: session row, remaining time and
// answer progress. The remaining time prefers the cached deadline and
// heals the cache from the database row on a miss.
func (s *ExamSessionService) GetState(ctx context.Context, sessionID, userID uuid.UUID) (*SessionState, error) {
	sess, err := s.loadOwned(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	expireAt := sess.ExpireAt
	if !sess.Status.Terminal() {
		cached, err := s.cache.GetExpiry(ctx, sessionID)
		switch {
		case err == nil:
			expireAt = cached
		case errors.Is(err, repository.ErrNotFound):
			if serr := s.cache.SetExpiry(ctx, sessionID, sess.ExpireAt); serr != nil {
				s.log.Warn().Err(serr).Str("session_id", sessionID.String()).Msg("Expiry cache heal failed")
			}
		default:
			s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Expiry cache read failed")
		}
	}

	state := &SessionState{Session: sess}
	if !sess.Status.Terminal() {
		state.RemainingSeconds = maxDuration(expireAt.Sub(s.now()), 0).Seconds()
	}

	if exam, err := s.examRepo.GetByID(ctx, sess.ExamID); err == nil {
		state.ExamTitle = exam.Title
		state.AllowPause = exam.Settings.AllowPause
		state.Total = exam.QuestionCount
	}
	if answered, err := s.answerRepo.CountBySession(ctx, sessionID); err == nil {
		state.Answered = answered
	}
	return state, nil
}

// ResumeTimers rearms the expiry timer of every live session. Called once
// on boot so sessions survive a process restart.
func (s *ExamSessionService) ResumeTimers(ctx context.Context) error {
	sessions, err := s.sessionRepo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active sessions: %w", err)
	}
	for i := range sessions {
		s.armTimer(ctx, &sessions[i])
	}
	if len(sessions) > 0 {
		s.log.Info().Int("count", len(sessions)).Msg("Rearmed session timers")
	}
	return nil
}

// finalize is the single path into a terminal state. The conditional
// claim decides exactly one winner between submit, timer expiry and
// late-save finalization; losers read the result the winner wrote. A
// terminal session whose result is still the start-time shell means an
// earlier finalize died after the claim, so the grading pass is rerun
// instead of failing; the conditional result write keeps it
// effectively-once.
func (s *ExamSessionService) finalize(ctx context.Context, sessionID uuid.UUID, to model.SessionStatus) (*model.Result, error) {
	now := s.now()
	sess, err := s.sessionRepo.ClaimTerminal(ctx, sessionID, to, now)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("claim terminal: %w", err)
		}
		current, gerr := s.sessionRepo.GetByID(ctx, sessionID)
		if gerr != nil {
			if errors.Is(gerr, repository.ErrNotFound) {
				return nil, ErrSessionNotFound
			}
			return nil, fmt.Errorf("get session: %w", gerr)
		}
		if !current.Status.Terminal() {
			return nil, ErrInvalidTransition
		}
		res, rerr := s.resultRepo.GetBySession(ctx, sessionID)
		if rerr == nil && res.Status.Terminal() {
			return res, nil
		}
		if rerr != nil && !errors.Is(rerr, repository.ErrNotFound) {
			return nil, fmt.Errorf("get result: %w", rerr)
		}
		sess = current
	}
	return s.freezeAndGrade(ctx, sess, now)
}

// freezeAndGrade runs the post-claim half of finalization: freeze the
// answers, grade them, publish. The timer and cached deadline die first;
// the session is already terminal, so if grading fails here the next
// touch of the session reruns the pass rather than the timer.
func (s *ExamSessionService) freezeAndGrade(ctx context.Context, sess *model.ExamSession, now time.Time) (*model.Result, error) {
	if err := s.cache.Drop(ctx, sess.ID); err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("Expiry cache drop failed")
	}
	if s.timers != nil {
		s.timers.Stop(sess.ID)
	}

	if err := s.answerRepo.MarkFinal(ctx, sess.ID); err != nil {
		return nil, fmt.Errorf("freeze answers: %w", err)
	}

	res, err := s.grade(ctx, sess, now)
	if err != nil {
		return nil, err
	}

	if s.broadcaster != nil {
		s.broadcaster.Publish(ctx, sess.ID, broadcast.Event{
			Type:          broadcast.EventGraded,
			At:            now,
			AutoScore:     res.AutoScore,
			PossibleScore: res.PossibleScore,
			Graded:        res.Graded,
		})
	}

	s.log.Info().
		Str("session_id", sess.ID.String()).
		Str("status", string(res.Status)).
		Float64("auto_score", res.AutoScore).
		Float64("possible_score", res.PossibleScore).
		Int("needs_manual", res.NeedsManualCount()).
		Msg("Session finalized")
	return res, nil
}

// grade runs the auto-grading pass over the frozen answers and fills in
// the result row. Effectively-once across retries and rescues: the
// fill-in write refuses a row that already left the in_progress state.
func (s *ExamSessionService) grade(ctx context.Context, sess *model.ExamSession, now time.Time) (*model.Result, error) {
	questions, err := s.questionRepo.ListByExam(ctx, sess.ExamID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	answers, err := s.answerRepo.ListBySession(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	saved := make(map[uuid.UUID]any, len(answers))
	for _, a := range answers {
		v, err := codec.Unmarshal(a.Value)
		if err != nil {
			return nil, fmt.Errorf("answer %s/%s corrupt: %w", a.SessionID, a.QuestionID, err)
		}
		saved[a.QuestionID] = v
	}

	res := &model.Result{
		SessionID:   sess.ID,
		ExamID:      sess.ExamID,
		StudentCode: sess.StudentCode,
		Status:      sess.Status,
	}
	for i := range questions {
		q := &questions[i]
		item, err := s.policy.GradeQuestion(q, saved[q.ID])
		if err != nil {
			return nil, fmt.Errorf("grade question %s: %w", q.ID, err)
		}
		res.AutoScore += item.Awarded
		res.PossibleScore += item.Possible
		res.Detailed = append(res.Detailed, item)
	}

	if res.NeedsManualCount() == 0 {
		res.Graded = true
		res.GradedAt = &now
		res.Status = model.SessionStatusGraded
	}

	if err := s.resultRepo.Finalize(ctx, res); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// A concurrent pass filled the row first; serve its write.
			if existing, gerr := s.resultRepo.GetBySession(ctx, sess.ID); gerr == nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("finalize result: %w", err)
	}
	if res.Graded {
		if err := s.sessionRepo.MarkGraded(ctx, sess.ID); err != nil {
			s.log.Error().Err(err).Str("session_id", sess.ID.String()).Msg("Mark graded failed")
		}
	}
	return res, nil
}

func (s *ExamSessionService) loadOwned(ctx context.Context, sessionID, userID uuid.UUID) (*model.ExamSession, error) {
	sess, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	// uuid.Nil means an internal caller (timer, examiner paths) that has
	// no ownership to prove.
	if userID != uuid.Nil && sess.UserID != userID {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func maxDuration(d, min time.Duration) time.Duration {
	if d < min {
		return min
	}
	return d
}
