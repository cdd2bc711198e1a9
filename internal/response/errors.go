package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden          ErrCode = "FORBIDDEN"
	ErrStudentAccessOnly  ErrCode = "STUDENT_ACCESS_ONLY"
	ErrExaminerAccessOnly ErrCode = "EXAMINER_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
	ErrInvalidAnswer  ErrCode = "INVALID_ANSWER_SHAPE"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"

	// ─── Session lifecycle ─────────────────────────────────────────────
	ErrExamNotAvailable     ErrCode = "EXAM_NOT_AVAILABLE"
	ErrRegistrationRequired ErrCode = "REGISTRATION_REQUIRED"
	ErrSessionNotFound      ErrCode = "SESSION_NOT_FOUND"
	ErrSessionClosed        ErrCode = "SESSION_CLOSED"
	ErrInvalidTransition    ErrCode = "INVALID_TRANSITION"
	ErrPauseNotAllowed      ErrCode = "PAUSE_NOT_ALLOWED"
	ErrQuestionNotFound     ErrCode = "QUESTION_NOT_FOUND"
	ErrResultNotFound       ErrCode = "RESULT_NOT_FOUND"
	ErrNotManualItem        ErrCode = "NOT_MANUAL_ITEM"
	ErrNoAnswerKey          ErrCode = "NO_ANSWER_KEY"
	ErrKeyUnavailable       ErrCode = "ANSWER_KEY_UNAVAILABLE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid."
	case ErrTokenExpired:
		return "Authentication token has expired."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You do not have permission to access this resource."
	case ErrStudentAccessOnly:
		return "This resource is restricted to students."
	case ErrExaminerAccessOnly:
		return "This resource is restricted to examiners."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."
	case ErrInvalidAnswer:
		return "The answer does not fit the question's expected shape."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."
	case ErrConflict:
		return "The resource is in a conflicting state."

	// ─── Session lifecycle ─────────────────────────────────────────────
	case ErrExamNotAvailable:
		return "The exam is not open for attempts."
	case ErrRegistrationRequired:
		return "You are not registered for this exam."
	case ErrSessionNotFound:
		return "Exam session not found."
	case ErrSessionClosed:
		return "The exam session is already finalized."
	case ErrInvalidTransition:
		return "The operation is not allowed in the session's current state."
	case ErrPauseNotAllowed:
		return "Pausing is disabled for this exam."
	case ErrQuestionNotFound:
		return "Question not found in this exam."
	case ErrResultNotFound:
		return "Result not found."
	case ErrNotManualItem:
		return "The question is not awaiting manual review."
	case ErrNoAnswerKey:
		return "The question has no revealable answer key."
	case ErrKeyUnavailable:
		return "The answer key could not be decrypted."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please slow down."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "An internal error occurred. Please try again later."
	default:
		return "An unknown error occurred."
	}
}
