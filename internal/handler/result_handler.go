package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/whisperexam/whisper-backend/internal/model"
	"github.com/whisperexam/whisper-backend/internal/response"
	"github.com/whisperexam/whisper-backend/internal/service"
	"github.com/whisperexam/whisper-backend/internal/validator"
)

// ResultHandler handles the examiner-facing review endpoints.
type ResultHandler struct {
	resultService *service.ResultService
}

// NewResultHandler creates a new ResultHandler.
func NewResultHandler(resultService *service.ResultService) *ResultHandler {
	return &ResultHandler{resultService: resultService}
}

// ListExamResults godoc
// GET /api/v1/examiner/exams/:exam_id/results?page=1&per_page=50
func (h *ResultHandler) ListExamResults(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	page, perPage := pageParams(c, 50, 200)

	results, err := h.resultService.ListByExam(c.Request.Context(), examID)
	if err != nil {
		failDomain(c, err)
		return
	}

	total := len(results)
	lo := (page - 1) * perPage
	if lo > total {
		lo = total
	}
	hi := lo + perPage
	if hi > total {
		hi = total
	}
	pageItems := results[lo:hi]
	if pageItems == nil {
		pageItems = []model.Result{}
	}

	response.SuccessWithPagination(c, http.StatusOK,
		gin.H{"results": pageItems},
		response.NewPagination(page, perPage, total))
}

// pageParams reads page/per_page query params with sane bounds.
func pageParams(c *gin.Context, defaultPerPage, maxPerPage int) (page, perPage int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	perPage, _ = strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(defaultPerPage)))
	if perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	return page, perPage
}

// GetSessionResult godoc
// GET /api/v1/examiner/sessions/:session_id/result
func (h *ResultHandler) GetSessionResult(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	result, err := h.resultService.GetResult(c.Request.Context(), sessionID, uuid.Nil)
	if err != nil {
		failDomain(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// ApplyManualScores godoc
// POST /api/v1/examiner/sessions/:session_id/manual-scores
// Scores needs-manual items; flips the result to graded when none remain.
func (h *ResultHandler) ApplyManualScores(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.ManualGradeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.resultService.ApplyManualScores(c.Request.Context(), sessionID, req)
	if err != nil {
		failDomain(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// RevealAnswerKey godoc
// GET /api/v1/examiner/questions/:question_id/answer-key
func (h *ResultHandler) RevealAnswerKey(c *gin.Context) {
	questionID, err := uuid.Parse(c.Param("question_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	key, err := h.resultService.RevealAnswerKey(c.Request.Context(), questionID)
	if err != nil {
		failDomain(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"answer_key": key})
}

// GetProctorTimeline godoc
// GET /api/v1/examiner/sessions/:session_id/proctor-events
func (h *ResultHandler) GetProctorTimeline(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	events, err := h.resultService.GetProctorTimeline(c.Request.Context(), sessionID)
	if err != nil {
		failDomain(c, err)
		return
	}
	if events == nil {
		events = []model.ProctorEvent{}
	}
	response.Success(c, http.StatusOK, gin.H{"events": events})
}
