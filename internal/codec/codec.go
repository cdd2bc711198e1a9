package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/whisperexam/whisper-backend/internal/model"
)

var (
	// ErrInvalidShape means the submitted answer does not fit the
	// declared question type (e.g. a list where a string is expected).
	ErrInvalidShape = errors.New("codec: answer shape invalid for question type")

	// ErrDecryptFailed means a cipher-stored answer could not be
	// authenticated (tampering or key mismatch). Never treated as
	// "no answer" by callers.
	ErrDecryptFailed = errors.New("codec: decrypt failed")
)

const (
	fingerprintSalt = "whisper-exam/answer-fingerprint/v1"
	cipherSalt      = "whisper-exam/answer-cipher/v1"
	kdfIterations   = 4096
)

// Codec normalizes raw submitted answers into canonical comparable values
// and derives the two key-material representations: a one-way fingerprint
// for auto-checking and an authenticated reversible cipher for examiner
// review. Both are computed over the same canonical serialization.
type Codec struct {
	hmacKey []byte
	aesKey  []byte
}

// New derives the fingerprint and cipher keys from the process-wide secret.
func New(secret string) *Codec {
	return &Codec{
		hmacKey: pbkdf2.Key([]byte(secret), []byte(fingerprintSalt), kdfIterations, 32, sha256.New),
		aesKey:  pbkdf2.Key([]byte(secret), []byte(cipherSalt), kdfIterations, 32, sha256.New),
	}
}

// Normalize converts a raw JSON answer into its canonical value for the
// given question type. Returns ErrInvalidShape (wrapped) when the payload
// cannot be interpreted as that type.
func (c *Codec) Normalize(qtype model.QuestionType, raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShape, err)
	}

	switch qtype {
	case model.QuestionTypeBoolean:
		return normalizeBoolean(v)
	case model.QuestionTypeMCQ:
		return normalizeSelection(v)
	case model.QuestionTypeMatch:
		return normalizePairs(v)
	case model.QuestionTypeMath:
		return normalizeNumeric(v)
	case model.QuestionTypeImageLabel:
		// Single label or label→value pairing, both accepted.
		if _, ok := v.(map[string]any); ok {
			return normalizePairs(v)
		}
		return normalizeString(v, foldText)
	case model.QuestionTypeFileUpload:
		return normalizeFileRef(v)
	case model.QuestionTypeCode, model.QuestionTypeEssay:
		// Whitespace and case are significant for manual-review types.
		return normalizeString(v, strings.TrimSpace)
	case model.QuestionTypeText, model.QuestionTypeFillBlank:
		return normalizeString(v, foldText)
	default:
		return nil, fmt.Errorf("%w: unknown question type %q", ErrInvalidShape, qtype)
	}
}

// Fingerprint returns the hex HMAC-SHA256 digest of the canonical value.
// Two answers are equal for auto-grading iff their fingerprints are equal.
func (c *Codec) Fingerprint(v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, c.hmacKey)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// FingerprintEqual compares a canonical value against a stored fingerprint
// in constant time.
func (c *Codec) FingerprintEqual(v any, stored string) (bool, error) {
	fp, err := c.Fingerprint(v)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(fp), []byte(stored)), nil
}

// Encrypt seals the canonical value with AES-GCM. Output is
// base64(nonce || ciphertext).
func (c *Codec) Encrypt(v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(c.aesKey)
	if err != nil {
		return "", fmt.Errorf("codec: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("codec: new gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("codec: nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, data, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a cipher-stored canonical value. Fails loudly with
// ErrDecryptFailed on tampering or key mismatch, never returns garbage.
func (c *Codec) Decrypt(sealed string) (any, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}

	block, err := aes.NewCipher(c.aesKey)
	if err != nil {
		return nil, fmt.Errorf("codec: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("codec: new gcm: %w", err)
	}

	if len(raw) < gcm.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptFailed)
	}
	nonce, ct := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]

	data, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}

	v, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	return v, nil
}

// ─── Type-directed normalizers ──────────────────────────────────────────

func normalizeBoolean(v any) (any, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "t", "yes":
			return true, nil
		case "false", "0", "f", "no":
			return false, nil
		}
		return nil, fmt.Errorf("%w: cannot parse %q as boolean", ErrInvalidShape, t)
	case json.Number:
		switch t.String() {
		case "1":
			return true, nil
		case "0":
			return false, nil
		}
		return nil, fmt.Errorf("%w: cannot parse %s as boolean", ErrInvalidShape, t)
	default:
		return nil, fmt.Errorf("%w: boolean expected", ErrInvalidShape)
	}
}

// normalizeSelection handles single and multi-select answers. A single
// selection canonicalizes to a string, a multi-selection to a sorted,
// de-duplicated list, so single-select fingerprints stay comparable to
// string-typed answer keys.
func normalizeSelection(v any) (any, error) {
	switch t := v.(type) {
	case string:
		s := foldText(t)
		if s == "" {
			return nil, fmt.Errorf("%w: empty selection", ErrInvalidShape)
		}
		return s, nil
	case []any:
		items := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("%w: selection list must contain strings", ErrInvalidShape)
			}
			items = append(items, s)
		}
		set := sortedSet(items)
		if len(set) == 0 {
			return nil, fmt.Errorf("%w: empty selection", ErrInvalidShape)
		}
		return set, nil
	default:
		return nil, fmt.Errorf("%w: selection must be string or list", ErrInvalidShape)
	}
}

func normalizePairs(v any) (any, error) {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, fmt.Errorf("%w: key/value pairs expected", ErrInvalidShape)
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		s, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("%w: pair values must be strings", ErrInvalidShape)
		}
		out[foldText(k)] = foldText(s)
	}
	return out, nil
}

// normalizeNumeric parses to an exact rational where possible, falling
// back to folded text so unparsable submissions still compare as strings.
func normalizeNumeric(v any) (any, error) {
	switch t := v.(type) {
	case json.Number:
		if n, ok := parseNumber(t.String()); ok {
			return n, nil
		}
		return foldText(t.String()), nil
	case string:
		if n, ok := parseNumber(t); ok {
			return n, nil
		}
		return foldText(t), nil
	default:
		return nil, fmt.Errorf("%w: numeric answer expected", ErrInvalidShape)
	}
}

func normalizeFileRef(v any) (any, error) {
	switch t := v.(type) {
	case string:
		ref := strings.TrimSpace(t)
		if ref == "" {
			return nil, fmt.Errorf("%w: file_upload answer missing a reference", ErrInvalidShape)
		}
		return ref, nil
	case map[string]any:
		for _, key := range []string{"media_id", "url"} {
			if ref, ok := t[key].(string); ok && strings.TrimSpace(ref) != "" {
				return strings.TrimSpace(ref), nil
			}
		}
		return nil, fmt.Errorf("%w: file_upload answer missing a reference", ErrInvalidShape)
	default:
		return nil, fmt.Errorf("%w: file_upload answer missing a reference", ErrInvalidShape)
	}
}

func normalizeString(v any, fold func(string) string) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("%w: string expected", ErrInvalidShape)
	}
	folded := fold(s)
	if folded == "" {
		return nil, fmt.Errorf("%w: empty answer", ErrInvalidShape)
	}
	return folded, nil
}
