package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/whisperexam/whisper-backend/internal/broadcast"
	"github.com/whisperexam/whisper-backend/internal/model"
	"github.com/whisperexam/whisper-backend/internal/repository"
)

// In-memory store fakes. Reads hand out copies so a test mutating a
// returned row cannot leak into the "database".

type fakeExamStore struct {
	exams map[uuid.UUID]*model.Exam
}

func newFakeExamStore() *fakeExamStore {
	return &fakeExamStore{exams: make(map[uuid.UUID]*model.Exam)}
}

func (f *fakeExamStore) GetByID(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	e, ok := f.exams[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *e
	return &c, nil
}

type fakeQuestionStore struct {
	questions map[uuid.UUID]*model.Question
	order     []uuid.UUID
}

func newFakeQuestionStore() *fakeQuestionStore {
	return &fakeQuestionStore{questions: make(map[uuid.UUID]*model.Question)}
}

func (f *fakeQuestionStore) add(q *model.Question) {
	f.questions[q.ID] = q
	f.order = append(f.order, q.ID)
}

func (f *fakeQuestionStore) GetByID(_ context.Context, id uuid.UUID) (*model.Question, error) {
	q, ok := f.questions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *q
	return &c, nil
}

func (f *fakeQuestionStore) ListByExam(_ context.Context, examID uuid.UUID) ([]model.Question, error) {
	var out []model.Question
	for _, id := range f.order {
		if q := f.questions[id]; q.ExamID == examID {
			out = append(out, *q)
		}
	}
	return out, nil
}

type fakeSessionStore struct {
	mu              sync.Mutex
	sessions        map[uuid.UUID]*model.ExamSession
	markGradedCalls int
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[uuid.UUID]*model.ExamSession)}
}

func (f *fakeSessionStore) Create(_ context.Context, s *model.ExamSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	c := *s
	f.sessions[s.ID] = &c
	return nil
}

func (f *fakeSessionStore) GetByID(_ context.Context, id uuid.UUID) (*model.ExamSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *s
	return &c, nil
}

func (f *fakeSessionStore) GetOpenByExamAndUser(_ context.Context, examID, userID uuid.UUID) (*model.ExamSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.ExamID == examID && s.UserID == userID && !s.Status.Terminal() {
			c := *s
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeSessionStore) SetStatus(_ context.Context, id uuid.UUID, from, to model.SessionStatus) (*model.ExamSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.Status != from {
		return nil, repository.ErrNotFound
	}
	s.Status = to
	c := *s
	return &c, nil
}

func (f *fakeSessionStore) ClaimTerminal(_ context.Context, id uuid.UUID, to model.SessionStatus, endedAt time.Time) (*model.ExamSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.Status.Terminal() {
		return nil, repository.ErrNotFound
	}
	s.Status = to
	ended := endedAt
	s.EndedAt = &ended
	c := *s
	return &c, nil
}

func (f *fakeSessionStore) MarkGraded(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markGradedCalls++
	s, ok := f.sessions[id]
	if !ok {
		return nil
	}
	if s.Status == model.SessionStatusSubmitted || s.Status == model.SessionStatusExpired {
		s.Status = model.SessionStatusGraded
	}
	return nil
}

func (f *fakeSessionStore) IncrementViolations(_ context.Context, id uuid.UUID, delta int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	s.ViolationCount += delta
	return s.ViolationCount, nil
}

func (f *fakeSessionStore) ListActive(_ context.Context) ([]model.ExamSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ExamSession
	for _, s := range f.sessions {
		if !s.Status.Terminal() {
			out = append(out, *s)
		}
	}
	return out, nil
}

type answerKey struct {
	sessionID  uuid.UUID
	questionID uuid.UUID
}

type fakeAnswerStore struct {
	answers    map[answerKey]model.Answer
	finalCalls int

	// sessions, when set, enforces the conditional-write contract: only
	// an in_progress session row accepts the upsert.
	sessions *fakeSessionStore
	// beforeUpsert runs between the service's status check and the
	// write, so tests can land a concurrent finalize in the gap.
	beforeUpsert func()
}

func newFakeAnswerStore() *fakeAnswerStore {
	return &fakeAnswerStore{answers: make(map[answerKey]model.Answer)}
}

func (f *fakeAnswerStore) Upsert(ctx context.Context, sessionID, questionID uuid.UUID, value json.RawMessage, savedAt time.Time) error {
	if f.beforeUpsert != nil {
		f.beforeUpsert()
	}
	if f.sessions != nil {
		s, err := f.sessions.GetByID(ctx, sessionID)
		if err != nil || s.Status != model.SessionStatusInProgress {
			return repository.ErrNotFound
		}
	}
	f.answers[answerKey{sessionID, questionID}] = model.Answer{
		SessionID:  sessionID,
		QuestionID: questionID,
		Value:      value,
		SavedAt:    savedAt,
	}
	return nil
}

func (f *fakeAnswerStore) MarkFinal(_ context.Context, sessionID uuid.UUID) error {
	f.finalCalls++
	for k, a := range f.answers {
		if k.sessionID == sessionID {
			a.IsFinal = true
			f.answers[k] = a
		}
	}
	return nil
}

func (f *fakeAnswerStore) ListBySession(_ context.Context, sessionID uuid.UUID) ([]model.Answer, error) {
	var out []model.Answer
	for k, a := range f.answers {
		if k.sessionID == sessionID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAnswerStore) CountBySession(_ context.Context, sessionID uuid.UUID) (int, error) {
	n := 0
	for k := range f.answers {
		if k.sessionID == sessionID {
			n++
		}
	}
	return n, nil
}

type fakeResultStore struct {
	results       map[uuid.UUID]*model.Result
	createCalls   int
	finalizeCalls int
	updateCalls   int
}

func newFakeResultStore() *fakeResultStore {
	return &fakeResultStore{results: make(map[uuid.UUID]*model.Result)}
}

func (f *fakeResultStore) Create(_ context.Context, res *model.Result) error {
	f.createCalls++
	if _, exists := f.results[res.SessionID]; exists {
		return errors.New("duplicate result")
	}
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	c := *res
	f.results[res.SessionID] = &c
	return nil
}

func (f *fakeResultStore) Finalize(_ context.Context, res *model.Result) error {
	f.finalizeCalls++
	if existing, ok := f.results[res.SessionID]; ok {
		if existing.Status != model.SessionStatusInProgress {
			return repository.ErrNotFound
		}
		res.ID = existing.ID
		res.CreatedAt = existing.CreatedAt
	} else if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	c := *res
	f.results[res.SessionID] = &c
	return nil
}

func (f *fakeResultStore) GetBySession(_ context.Context, sessionID uuid.UUID) (*model.Result, error) {
	r, ok := f.results[sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *r
	return &c, nil
}

func (f *fakeResultStore) Update(_ context.Context, res *model.Result) error {
	f.updateCalls++
	c := *res
	f.results[res.SessionID] = &c
	return nil
}

func (f *fakeResultStore) ListByExam(_ context.Context, examID uuid.UUID) ([]model.Result, error) {
	var out []model.Result
	for _, r := range f.results {
		if r.ExamID == examID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeResultStore) ListByUser(_ context.Context, _ uuid.UUID) ([]model.Result, error) {
	var out []model.Result
	for _, r := range f.results {
		out = append(out, *r)
	}
	return out, nil
}

type regKey struct {
	examID uuid.UUID
	userID uuid.UUID
}

type fakeRegistrationStore struct {
	regs map[regKey]*model.ExamRegistration
}

func newFakeRegistrationStore() *fakeRegistrationStore {
	return &fakeRegistrationStore{regs: make(map[regKey]*model.ExamRegistration)}
}

func (f *fakeRegistrationStore) Get(_ context.Context, examID, userID uuid.UUID) (*model.ExamRegistration, error) {
	r, ok := f.regs[regKey{examID, userID}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *r
	return &c, nil
}

type fakeProctorStore struct {
	events []model.ProctorEvent
}

func (f *fakeProctorStore) ListBySession(_ context.Context, sessionID uuid.UUID) ([]model.ProctorEvent, error) {
	var out []model.ProctorEvent
	for _, e := range f.events {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeExpiryCache struct {
	entries  map[uuid.UUID]time.Time
	setCalls int
	dropped  []uuid.UUID
}

func newFakeExpiryCache() *fakeExpiryCache {
	return &fakeExpiryCache{entries: make(map[uuid.UUID]time.Time)}
}

func (f *fakeExpiryCache) SetExpiry(_ context.Context, sessionID uuid.UUID, expireAt time.Time) error {
	f.setCalls++
	f.entries[sessionID] = expireAt
	return nil
}

func (f *fakeExpiryCache) GetExpiry(_ context.Context, sessionID uuid.UUID) (time.Time, error) {
	t, ok := f.entries[sessionID]
	if !ok {
		return time.Time{}, repository.ErrNotFound
	}
	return t, nil
}

func (f *fakeExpiryCache) Drop(_ context.Context, sessionID uuid.UUID) error {
	delete(f.entries, sessionID)
	f.dropped = append(f.dropped, sessionID)
	return nil
}

type fakeTimers struct {
	watched []uuid.UUID
	stopped []uuid.UUID
}

func (f *fakeTimers) Watch(s *model.ExamSession) { f.watched = append(f.watched, s.ID) }
func (f *fakeTimers) Stop(id uuid.UUID)          { f.stopped = append(f.stopped, id) }

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (f *fakeBroadcaster) Publish(_ context.Context, sessionID uuid.UUID, ev broadcast.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev.SessionID = sessionID
	f.events = append(f.events, ev)
}

func (f *fakeBroadcaster) byType(t broadcast.EventType) []broadcast.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []broadcast.Event
	for _, ev := range f.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fakeFinalizer struct {
	expired []uuid.UUID
	err     error
}

func (f *fakeFinalizer) Expire(_ context.Context, sessionID uuid.UUID) error {
	if f.err != nil {
		return f.err
	}
	f.expired = append(f.expired, sessionID)
	return nil
}
