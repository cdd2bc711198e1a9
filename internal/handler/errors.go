package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/whisperexam/whisper-backend/internal/codec"
	"github.com/whisperexam/whisper-backend/internal/response"
	"github.com/whisperexam/whisper-backend/internal/service"
)

// failDomain translates service and codec errors into the response
// envelope. Unrecognized errors become 500 without leaking detail.
func failDomain(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrExamNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrExamNotAvailable):
		response.Fail(c, http.StatusConflict, response.ErrExamNotAvailable)
	case errors.Is(err, service.ErrNotRegistered):
		response.Fail(c, http.StatusForbidden, response.ErrRegistrationRequired)
	case errors.Is(err, service.ErrSessionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
	case errors.Is(err, service.ErrSessionClosed):
		response.Fail(c, http.StatusConflict, response.ErrSessionClosed)
	case errors.Is(err, service.ErrInvalidTransition):
		response.Fail(c, http.StatusConflict, response.ErrInvalidTransition)
	case errors.Is(err, service.ErrPauseNotAllowed):
		response.Fail(c, http.StatusForbidden, response.ErrPauseNotAllowed)
	case errors.Is(err, service.ErrQuestionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrQuestionNotFound)
	case errors.Is(err, service.ErrResultNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrResultNotFound)
	case errors.Is(err, service.ErrNotManualItem):
		response.Fail(c, http.StatusConflict, response.ErrNotManualItem)
	case errors.Is(err, service.ErrNoAnswerKey):
		response.Fail(c, http.StatusNotFound, response.ErrNoAnswerKey)
	case errors.Is(err, codec.ErrInvalidShape):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrInvalidAnswer)
	case errors.Is(err, codec.ErrDecryptFailed):
		response.Fail(c, http.StatusInternalServerError, response.ErrKeyUnavailable)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
