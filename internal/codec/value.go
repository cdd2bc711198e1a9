package codec

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"unicode"
)

// Number is a canonical exact-arithmetic numeric value, stored as a
// big.Rat rational string (e.g. "157/50"). Using the rational form keeps
// fingerprints stable across textual representations of the same number
// ("3.14", "3.140", "157/50").
type Number string

// Rat parses the canonical form back into a big.Rat.
func (n Number) Rat() (*big.Rat, bool) {
	r := new(big.Rat)
	_, ok := r.SetString(string(n))
	return r, ok
}

// A canonical value is one of:
//
//	string             normalized free text / single selection
//	bool               boolean answer
//	Number             exact numeric
//	[]string           sorted multi-selection
//	map[string]string  unordered key→value pairing
//
// The type-tagged envelope below gives every canonical value exactly one
// byte representation, which both the fingerprint and the cipher are
// computed over. Map keys are sorted by encoding/json, list elements are
// sorted during normalization, so serialization is deterministic.
type envelope struct {
	T string          `json:"t"`
	V json.RawMessage `json:"v"`
}

const (
	tagString = "s"
	tagBool   = "b"
	tagNumber = "n"
	tagList   = "l"
	tagPairs  = "m"
)

// Marshal serializes a canonical value deterministically.
func Marshal(v any) ([]byte, error) {
	var tag string
	var inner any

	switch t := v.(type) {
	case string:
		tag, inner = tagString, t
	case bool:
		tag, inner = tagBool, t
	case Number:
		tag, inner = tagNumber, string(t)
	case []string:
		tag, inner = tagList, t
	case map[string]string:
		tag, inner = tagPairs, t
	default:
		return nil, fmt.Errorf("codec: unsupported canonical type %T", v)
	}

	raw, err := json.Marshal(inner)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal value: %w", err)
	}
	return json.Marshal(envelope{T: tag, V: raw})
}

// Unmarshal reverses Marshal back into a canonical value.
func Unmarshal(data []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("codec: unmarshal envelope: %w", err)
	}

	switch env.T {
	case tagString:
		var s string
		if err := json.Unmarshal(env.V, &s); err != nil {
			return nil, fmt.Errorf("codec: unmarshal string: %w", err)
		}
		return s, nil
	case tagBool:
		var b bool
		if err := json.Unmarshal(env.V, &b); err != nil {
			return nil, fmt.Errorf("codec: unmarshal bool: %w", err)
		}
		return b, nil
	case tagNumber:
		var s string
		if err := json.Unmarshal(env.V, &s); err != nil {
			return nil, fmt.Errorf("codec: unmarshal number: %w", err)
		}
		return Number(s), nil
	case tagList:
		var l []string
		if err := json.Unmarshal(env.V, &l); err != nil {
			return nil, fmt.Errorf("codec: unmarshal list: %w", err)
		}
		return l, nil
	case tagPairs:
		var m map[string]string
		if err := json.Unmarshal(env.V, &m); err != nil {
			return nil, fmt.Errorf("codec: unmarshal pairs: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("codec: unknown value tag %q", env.T)
	}
}

// foldText trims, lower-cases and collapses whitespace runs.
func foldText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// fuzzyFold is foldText plus punctuation/symbol stripping, used for the
// punctuation-insensitive free-text comparison mode.
func fuzzyFold(s string) string {
	var b strings.Builder
	space := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			space = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			// dropped
		default:
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// FuzzyEqual compares two strings ignoring case, whitespace runs and
// punctuation.
func FuzzyEqual(a, b string) bool {
	return fuzzyFold(a) == fuzzyFold(b)
}

// parseNumber attempts exact numeric parsing. Accepts decimal, scientific
// and rational notation.
func parseNumber(s string) (Number, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	r := new(big.Rat)
	if _, ok := r.SetString(s); !ok {
		return "", false
	}
	return Number(r.RatString()), true
}

// sortedSet folds, de-duplicates and sorts a list of selections.
func sortedSet(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		f := foldText(it)
		if f == "" {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
