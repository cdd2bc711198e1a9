package model

import "encoding/json"

// SaveAnswerRequest is the payload for saving a single answer.
type SaveAnswerRequest struct {
	QuestionID string          `json:"question_id" binding:"required,uuid"`
	Answer     json.RawMessage `json:"answer" binding:"required"`
}

// BulkSaveAnswersRequest is the payload for saving several answers at once.
// Items are applied independently: one malformed item is reported per-item
// and does not fail the batch.
type BulkSaveAnswersRequest struct {
	Answers []SaveAnswerRequest `json:"answers" binding:"required,min=1,max=200,dive"`
}

// ManualScoreEntry awards points for one needs-manual question.
type ManualScoreEntry struct {
	QuestionID string  `json:"question_id" binding:"required,uuid"`
	Awarded    float64 `json:"awarded" binding:"min=0"`
	Comment    string  `json:"comment" binding:"max=2000"`
}

// ManualGradeRequest is the examiner payload for finalizing manual items.
type ManualGradeRequest struct {
	Scores []ManualScoreEntry `json:"scores" binding:"required,min=1,dive"`
}

// ViolationRequest reports a proctoring event over HTTP.
type ViolationRequest struct {
	EventType string          `json:"event_type" binding:"required,max=64"`
	Details   json.RawMessage `json:"details"`
}
