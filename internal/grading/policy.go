package grading

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/whisperexam/whisper-backend/internal/codec"
	"github.com/whisperexam/whisper-backend/internal/model"
)

// Grading reasons recorded in the Result breakdown.
const (
	ReasonCorrect      = "correct"
	ReasonWrong        = "wrong"
	ReasonPartial      = "partial"
	ReasonFuzzyMatch   = "fuzzy_match"
	ReasonUnanswered   = "unanswered"
	ReasonManualReview = "manual_review"
	ReasonNoAnswerKey  = "no_answer_key"
	ReasonReviewText   = "review_text"
	ReasonManual       = "manual"
)

// defaultTolerance is the absolute numeric tolerance for math questions.
var defaultTolerance = big.NewRat(1, 1_000_000)

// Option configures a Policy.
type Option func(*Policy)

// WithTolerance overrides the absolute numeric tolerance.
func WithTolerance(tol *big.Rat) Option {
	return func(p *Policy) { p.tolerance = tol }
}

// Policy decides full, partial or needs-manual credit for one question
// given the student's canonical answer and the question's key material.
type Policy struct {
	codec     *codec.Codec
	tolerance *big.Rat
}

// NewPolicy builds a Policy around the shared answer codec.
func NewPolicy(c *codec.Codec, opts ...Option) *Policy {
	p := &Policy{codec: c, tolerance: defaultTolerance}
	for _, o := range opts {
		o(p)
	}
	return p
}

// GradeQuestion produces the breakdown entry for one question. answer is
// the canonical value of the student's latest save, or nil when the
// question was never answered. An error is returned only for key-material
// failures (decrypt/serialization), which must abort the grading pass.
func (p *Policy) GradeQuestion(q *model.Question, answer any) (model.QuestionScore, error) {
	item := model.QuestionScore{QuestionID: q.ID, Possible: q.Points}

	// Manual-only types and questions without any key material are always
	// human-scored, whatever was submitted.
	if q.Type.ManualOnly() {
		item.NeedsManual = true
		item.Reason = ReasonManualReview
		return item, nil
	}
	if !q.AutoCheckable() {
		item.NeedsManual = true
		item.Reason = ReasonNoAnswerKey
		return item, nil
	}

	if answer == nil {
		item.Reason = ReasonUnanswered
		return item, nil
	}

	switch q.Type {
	case model.QuestionTypeMCQ:
		return p.gradeChoice(q, answer, item)
	case model.QuestionTypeMatch:
		return p.gradeMatch(q, answer, item)
	case model.QuestionTypeText, model.QuestionTypeFillBlank:
		return p.gradeText(q, answer, item)
	case model.QuestionTypeMath:
		return p.gradeNumeric(q, answer, item)
	default:
		// boolean, image_label and any other fingerprinted type: exact
		// canonical equality, full or zero credit.
		equal, err := p.keyEqual(q, answer)
		if err != nil {
			return item, err
		}
		if equal {
			item.Awarded = q.Points
			item.Reason = ReasonCorrect
		} else {
			item.Reason = ReasonWrong
		}
		return item, nil
	}
}

// gradeChoice compares sorted canonical selections; on mismatch, a
// multi-valued key with allow_partial awards points × |∩| / |expected|.
func (p *Policy) gradeChoice(q *model.Question, answer any, item model.QuestionScore) (model.QuestionScore, error) {
	equal, err := p.keyEqual(q, answer)
	if err != nil {
		return item, err
	}
	if equal {
		item.Awarded = q.Points
		item.Reason = ReasonCorrect
		return item, nil
	}

	item.Reason = ReasonWrong
	if !q.AllowPartial || q.AnswerCipher == nil {
		return item, nil
	}

	key, err := p.codec.Decrypt(*q.AnswerCipher)
	if err != nil {
		return item, fmt.Errorf("question %s: %w", q.ID, err)
	}
	expected, okKey := key.([]string)
	selected, okAns := answer.([]string)
	if !okKey || !okAns || len(expected) == 0 {
		return item, nil
	}

	inter := intersection(expected, selected)
	if inter > 0 {
		item.Awarded = q.Points * float64(inter) / float64(len(expected))
		item.Reason = ReasonPartial
	}
	return item, nil
}

func (p *Policy) gradeMatch(q *model.Question, answer any, item model.QuestionScore) (model.QuestionScore, error) {
	equal, err := p.keyEqual(q, answer)
	if err != nil {
		return item, err
	}
	if equal {
		item.Awarded = q.Points
		item.Reason = ReasonCorrect
		return item, nil
	}

	item.Reason = ReasonWrong
	if !q.AllowPartial || q.AnswerCipher == nil {
		return item, nil
	}

	key, err := p.codec.Decrypt(*q.AnswerCipher)
	if err != nil {
		return item, fmt.Errorf("question %s: %w", q.ID, err)
	}
	expected, okKey := key.(map[string]string)
	given, okAns := answer.(map[string]string)
	if !okKey || !okAns || len(expected) == 0 {
		return item, nil
	}

	matched := 0
	for k, v := range expected {
		if given[k] == v {
			matched++
		}
	}
	if matched > 0 {
		item.Awarded = q.Points * float64(matched) / float64(len(expected))
		item.Reason = ReasonPartial
	}
	return item, nil
}

// gradeText awards full credit on exact canonical equality (or fuzzy
// equality when enabled); any other submission is flagged for manual
// review rather than zero-scored, since free text may be correct but
// phrased differently.
func (p *Policy) gradeText(q *model.Question, answer any, item model.QuestionScore) (model.QuestionScore, error) {
	equal, err := p.keyEqual(q, answer)
	if err != nil {
		return item, err
	}
	if equal {
		item.Awarded = q.Points
		item.Reason = ReasonCorrect
		return item, nil
	}

	if q.FuzzyMatch && q.AnswerCipher != nil {
		key, err := p.codec.Decrypt(*q.AnswerCipher)
		if err != nil {
			return item, fmt.Errorf("question %s: %w", q.ID, err)
		}
		given, _ := answer.(string)
		for _, candidate := range keyCandidates(key) {
			if codec.FuzzyEqual(given, candidate) {
				item.Awarded = q.Points
				item.Reason = ReasonFuzzyMatch
				return item, nil
			}
		}
	}

	item.NeedsManual = true
	item.Reason = ReasonReviewText
	return item, nil
}

// gradeNumeric compares within the absolute tolerance when the key can be
// revealed; otherwise falls back to exact fingerprint equality. Numeric
// mismatch is zero credit, never manual.
func (p *Policy) gradeNumeric(q *model.Question, answer any, item model.QuestionScore) (model.QuestionScore, error) {
	if q.AnswerCipher != nil {
		key, err := p.codec.Decrypt(*q.AnswerCipher)
		if err != nil {
			return item, fmt.Errorf("question %s: %w", q.ID, err)
		}
		if keyNum, ok := key.(codec.Number); ok {
			if ansNum, ok := answer.(codec.Number); ok {
				if p.withinTolerance(keyNum, ansNum) {
					item.Awarded = q.Points
					item.Reason = ReasonCorrect
				} else {
					item.Reason = ReasonWrong
				}
				return item, nil
			}
			// Unparsable submission against a numeric key: wrong.
			item.Reason = ReasonWrong
			return item, nil
		}
	}

	equal, err := p.keyEqual(q, answer)
	if err != nil {
		return item, err
	}
	if equal {
		item.Awarded = q.Points
		item.Reason = ReasonCorrect
	} else {
		item.Reason = ReasonWrong
	}
	return item, nil
}

func (p *Policy) withinTolerance(a, b codec.Number) bool {
	ra, okA := a.Rat()
	rb, okB := b.Rat()
	if !okA || !okB {
		return false
	}
	diff := new(big.Rat).Sub(ra, rb)
	return diff.Abs(diff).Cmp(p.tolerance) <= 0
}

// keyEqual tests canonical equality against the stored key material,
// preferring the fingerprint path so the plaintext key is never needed
// for the common case.
func (p *Policy) keyEqual(q *model.Question, answer any) (bool, error) {
	if q.AnswerFingerprint != nil {
		equal, err := p.codec.FingerprintEqual(answer, *q.AnswerFingerprint)
		if err != nil {
			return false, fmt.Errorf("question %s: %w", q.ID, err)
		}
		return equal, nil
	}

	key, err := p.codec.Decrypt(*q.AnswerCipher)
	if err != nil {
		return false, fmt.Errorf("question %s: %w", q.ID, err)
	}
	keyRaw, err := codec.Marshal(key)
	if err != nil {
		return false, err
	}
	ansRaw, err := codec.Marshal(answer)
	if err != nil {
		return false, err
	}
	return bytes.Equal(keyRaw, ansRaw), nil
}

// keyCandidates flattens a key into comparable strings: a plain string is
// one candidate, a list is several.
func keyCandidates(key any) []string {
	switch t := key.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	default:
		return nil
	}
}

func intersection(expected, given []string) int {
	set := make(map[string]struct{}, len(expected))
	for _, e := range expected {
		set[e] = struct{}{}
	}
	n := 0
	for _, g := range given {
		if _, ok := set[g]; ok {
			n++
		}
	}
	return n
}
