package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/whisperexam/whisper-backend/internal/middleware"
	"github.com/whisperexam/whisper-backend/internal/model"
	"github.com/whisperexam/whisper-backend/internal/response"
	"github.com/whisperexam/whisper-backend/internal/service"
	"github.com/whisperexam/whisper-backend/internal/validator"
)

// ExamTakeHandler handles the student-facing attempt endpoints.
type ExamTakeHandler struct {
	sessionService *service.ExamSessionService
	resultService  *service.ResultService
	proctorService *service.ProctorService
}

// NewExamTakeHandler creates a new ExamTakeHandler.
func NewExamTakeHandler(
	sessionService *service.ExamSessionService,
	resultService *service.ResultService,
	proctorService *service.ProctorService,
) *ExamTakeHandler {
	return &ExamTakeHandler{
		sessionService: sessionService,
		resultService:  resultService,
		proctorService: proctorService,
	}
}

// StartSession godoc
// POST /api/v1/student/exams/:exam_id/sessions
// Opens an attempt (idempotent while one is already open).
func (h *ExamTakeHandler) StartSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	session, err := h.sessionService.Start(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		failDomain(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"session": session})
}

// GetState godoc
// GET /api/v1/student/sessions/:session_id
// Returns the reconnect snapshot: status, remaining time, progress.
func (h *ExamTakeHandler) GetState(c *gin.Context) {
	claims, sessionID, ok := h.sessionParams(c)
	if !ok {
		return
	}

	state, err := h.sessionService.GetState(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		failDomain(c, err)
		return
	}
	response.Success(c, http.StatusOK, state)
}

// SaveAnswer godoc
// PUT /api/v1/student/sessions/:session_id/answers
// Normalizes and stores one answer (last write wins).
func (h *ExamTakeHandler) SaveAnswer(c *gin.Context) {
	claims, sessionID, ok := h.sessionParams(c)
	if !ok {
		return
	}

	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	receipt, err := h.sessionService.SaveAnswer(c.Request.Context(), sessionID, claims.UserID, req)
	if err != nil {
		failDomain(c, err)
		return
	}
	response.Success(c, http.StatusOK, receipt)
}

// SaveAnswersBulk godoc
// PUT /api/v1/student/sessions/:session_id/answers/bulk
// Applies up to 200 saves; per-item failures do not fail the batch.
func (h *ExamTakeHandler) SaveAnswersBulk(c *gin.Context) {
	claims, sessionID, ok := h.sessionParams(c)
	if !ok {
		return
	}

	var req model.BulkSaveAnswersRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.sessionService.SaveAnswers(c.Request.Context(), sessionID, claims.UserID, req)
	if err != nil {
		failDomain(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// Pause godoc
// POST /api/v1/student/sessions/:session_id/pause
func (h *ExamTakeHandler) Pause(c *gin.Context) {
	claims, sessionID, ok := h.sessionParams(c)
	if !ok {
		return
	}

	session, err := h.sessionService.Pause(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		failDomain(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// Resume godoc
// POST /api/v1/student/sessions/:session_id/resume
func (h *ExamTakeHandler) Resume(c *gin.Context) {
	claims, sessionID, ok := h.sessionParams(c)
	if !ok {
		return
	}

	session, err := h.sessionService.Resume(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		failDomain(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// Submit godoc
// POST /api/v1/student/sessions/:session_id/submit
// Freezes the attempt and grades it. Idempotent.
func (h *ExamTakeHandler) Submit(c *gin.Context) {
	claims, sessionID, ok := h.sessionParams(c)
	if !ok {
		return
	}

	result, err := h.sessionService.Submit(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		failDomain(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// ReportViolation godoc
// POST /api/v1/student/sessions/:session_id/violations
func (h *ExamTakeHandler) ReportViolation(c *gin.Context) {
	claims, sessionID, ok := h.sessionParams(c)
	if !ok {
		return
	}

	var req model.ViolationRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	receipt, err := h.proctorService.RecordViolation(c.Request.Context(), sessionID, claims.UserID, req)
	if err != nil {
		failDomain(c, err)
		return
	}
	response.Success(c, http.StatusOK, receipt)
}

// GetOwnResult godoc
// GET /api/v1/student/sessions/:session_id/result
func (h *ExamTakeHandler) GetOwnResult(c *gin.Context) {
	claims, sessionID, ok := h.sessionParams(c)
	if !ok {
		return
	}

	result, err := h.resultService.GetResult(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		failDomain(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// ListOwnResults godoc
// GET /api/v1/student/results
func (h *ExamTakeHandler) ListOwnResults(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	results, err := h.resultService.ListByUser(c.Request.Context(), claims.UserID)
	if err != nil {
		failDomain(c, err)
		return
	}
	if results == nil {
		results = []model.Result{}
	}
	response.Success(c, http.StatusOK, gin.H{"results": results})
}

func (h *ExamTakeHandler) sessionParams(c *gin.Context) (*service.Claims, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, uuid.Nil, false
	}
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, uuid.Nil, false
	}
	return claims, sessionID, true
}
