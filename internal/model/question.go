package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// QuestionType enumerates the supported answer shapes.
type QuestionType string

const (
	QuestionTypeMCQ        QuestionType = "mcq"
	QuestionTypeText       QuestionType = "text"
	QuestionTypeBoolean    QuestionType = "boolean"
	QuestionTypeFillBlank  QuestionType = "fill_blank"
	QuestionTypeMath       QuestionType = "math"
	QuestionTypeImageLabel QuestionType = "image_label"
	QuestionTypeFileUpload QuestionType = "file_upload"
	QuestionTypeMatch      QuestionType = "match"
	QuestionTypeCode       QuestionType = "code"
	QuestionTypeEssay      QuestionType = "essay"
)

// ManualOnly reports whether a type can never be auto-checked. These types
// never carry an answer-key fingerprint.
func (t QuestionType) ManualOnly() bool {
	switch t {
	case QuestionTypeCode, QuestionTypeFileUpload, QuestionTypeEssay:
		return true
	}
	return false
}

// Question is a single exam question with its key material.
//
// AnswerFingerprint is a one-way digest of the canonicalized correct answer,
// present iff the question is auto-checkable. AnswerCipher is the reversibly
// encrypted canonical answer, present only when examiners must be able to
// reveal the key (and for partial-credit / fuzzy / tolerance comparison,
// which need the plaintext key).
type Question struct {
	ID                uuid.UUID       `json:"id"`
	ExamID            uuid.UUID       `json:"exam_id"`
	Type              QuestionType    `json:"type"`
	Prompt            string          `json:"prompt"`
	Options           json.RawMessage `json:"options,omitempty"`
	Points            float64         `json:"points"`
	AllowPartial      bool            `json:"allow_partial"`
	FuzzyMatch        bool            `json:"fuzzy_match"`
	AnswerFingerprint *string         `json:"-"`
	AnswerCipher      *string         `json:"-"`
	OrderNum          int             `json:"order_num"`
}

// AutoCheckable reports whether grading can decide this question without
// human review.
func (q *Question) AutoCheckable() bool {
	if q.Type.ManualOnly() {
		return false
	}
	return q.AnswerFingerprint != nil || q.AnswerCipher != nil
}
