package service

import "errors"

// Domain errors surfaced to the transport layer. Handlers map these to
// response codes; everything else is an internal error.
var (
	ErrExamNotFound      = errors.New("exam not found")
	ErrExamNotAvailable  = errors.New("exam is not open for attempts")
	ErrNotRegistered     = errors.New("user is not registered for this exam")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionClosed     = errors.New("session is already finalized")
	ErrInvalidTransition = errors.New("operation not allowed in current session state")
	ErrPauseNotAllowed   = errors.New("pausing is disabled for this exam")
	ErrQuestionNotFound  = errors.New("question not found in this exam")
	ErrResultNotFound    = errors.New("result not found")
	ErrNotManualItem     = errors.New("question is not awaiting manual review")
	ErrNoAnswerKey       = errors.New("question has no revealable answer key")
)
