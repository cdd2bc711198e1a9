package codec

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/whisperexam/whisper-backend/internal/model"
)

func testCodec() *Codec {
	return New("test-secret")
}

func TestNormalizeTextFolding(t *testing.T) {
	c := testCodec()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "lowercases", raw: `"OXYGEN"`, want: "oxygen"},
		{name: "trims and collapses whitespace", raw: `"  the   mitochondria  "`, want: "the mitochondria"},
		{name: "tabs and newlines collapse", raw: "\"a\\tb\\nc\"", want: "a b c"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := c.Normalize(model.QuestionTypeText, json.RawMessage(tc.raw))
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeBooleanForms(t *testing.T) {
	c := testCodec()

	for _, raw := range []string{`true`, `"true"`, `"TRUE"`, `"1"`, `"yes"`, `1`} {
		got, err := c.Normalize(model.QuestionTypeBoolean, json.RawMessage(raw))
		require.NoError(t, err, raw)
		require.Equal(t, true, got, raw)
	}
	for _, raw := range []string{`false`, `"false"`, `"0"`, `"no"`, `0`} {
		got, err := c.Normalize(model.QuestionTypeBoolean, json.RawMessage(raw))
		require.NoError(t, err, raw)
		require.Equal(t, false, got, raw)
	}

	_, err := c.Normalize(model.QuestionTypeBoolean, json.RawMessage(`"maybe"`))
	require.ErrorIs(t, err, ErrInvalidShape)
}

func TestNormalizeSelectionSortsAndDedupes(t *testing.T) {
	c := testCodec()

	got, err := c.Normalize(model.QuestionTypeMCQ, json.RawMessage(`["C","a","B","A "]`))
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, got)

	// Single selection stays a plain string.
	got, err = c.Normalize(model.QuestionTypeMCQ, json.RawMessage(`"Mercury"`))
	require.NoError(t, err)
	require.Equal(t, "mercury", got)
}

func TestNormalizeNumericExactness(t *testing.T) {
	c := testCodec()

	third, err := c.Normalize(model.QuestionTypeMath, json.RawMessage(`"1/3"`))
	require.NoError(t, err)
	decimal, err := c.Normalize(model.QuestionTypeMath, json.RawMessage(`0.5`))
	require.NoError(t, err)

	n, ok := third.(Number)
	require.True(t, ok)
	r, ok := n.Rat()
	require.True(t, ok)
	require.Equal(t, "1/3", r.RatString())

	m, ok := decimal.(Number)
	require.True(t, ok)
	r2, ok := m.Rat()
	require.True(t, ok)
	require.Equal(t, "1/2", r2.RatString())
}

func TestNormalizeRejectsWrongShapes(t *testing.T) {
	c := testCodec()

	cases := []struct {
		qtype model.QuestionType
		raw   string
	}{
		{model.QuestionTypeText, `["not","a","string"]`},
		{model.QuestionTypeText, `"   "`},
		{model.QuestionTypeMCQ, `[]`},
		{model.QuestionTypeMCQ, `[1,2]`},
		{model.QuestionTypeMatch, `"flat string"`},
		{model.QuestionTypeMatch, `{}`},
		{model.QuestionTypeFileUpload, `{"name":"x"}`},
		{model.QuestionTypeMath, `[1]`},
	}
	for _, tc := range cases {
		_, err := c.Normalize(tc.qtype, json.RawMessage(tc.raw))
		require.ErrorIs(t, err, ErrInvalidShape, "%s %s", tc.qtype, tc.raw)
	}
}

func TestFingerprintStableAcrossEquivalentInputs(t *testing.T) {
	c := testCodec()

	a, err := c.Normalize(model.QuestionTypeMCQ, json.RawMessage(`["B","A"]`))
	require.NoError(t, err)
	b, err := c.Normalize(model.QuestionTypeMCQ, json.RawMessage(`[" a ","b","B"]`))
	require.NoError(t, err)

	fa, err := c.Fingerprint(a)
	require.NoError(t, err)
	fb, err := c.Fingerprint(b)
	require.NoError(t, err)
	require.Equal(t, fa, fb)

	equal, err := c.FingerprintEqual(b, fa)
	require.NoError(t, err)
	require.True(t, equal)

	equal, err = c.FingerprintEqual("something else", fa)
	require.NoError(t, err)
	require.False(t, equal)
}

func TestFingerprintDiffersBetweenSecrets(t *testing.T) {
	f1, err := New("secret-one").Fingerprint("oxygen")
	require.NoError(t, err)
	f2, err := New("secret-two").Fingerprint("oxygen")
	require.NoError(t, err)
	require.NotEqual(t, f1, f2)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := testCodec()

	values := []any{
		"mercury",
		true,
		[]string{"a", "b", "c"},
		map[string]string{"france": "paris", "japan": "tokyo"},
	}
	for _, v := range values {
		sealed, err := c.Encrypt(v)
		require.NoError(t, err)
		got, err := c.Decrypt(sealed)
		require.NoError(t, err)
		require.Equal(t, v, got)
	}

	// Numbers round-trip through their exact rational form.
	n, err := c.Normalize(model.QuestionTypeMath, json.RawMessage(`"1/3"`))
	require.NoError(t, err)
	sealed, err := c.Encrypt(n)
	require.NoError(t, err)
	got, err := c.Decrypt(sealed)
	require.NoError(t, err)
	require.Equal(t, n, got)
}

func TestDecryptRejectsTampering(t *testing.T) {
	c := testCodec()

	sealed, err := c.Encrypt("the answer")
	require.NoError(t, err)

	// Flip one character of the base64 payload.
	tampered := []byte(sealed)
	if tampered[10] == 'A' {
		tampered[10] = 'B'
	} else {
		tampered[10] = 'A'
	}
	_, err = c.Decrypt(string(tampered))
	require.ErrorIs(t, err, ErrDecryptFailed)

	_, err = c.Decrypt("not-base64!!!")
	require.ErrorIs(t, err, ErrDecryptFailed)

	// A different key cannot open the ciphertext.
	_, err = New("other-secret").Decrypt(sealed)
	require.ErrorIs(t, err, ErrDecryptFailed)
}

func TestFuzzyEqual(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"it's a test", "its a test", true},
		{"co-operate", "cooperate", true},
		{"oxygen!", "oxygen", true},
		{"oxygen", "nitrogen", false},
		{"a b", "ab", false},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, FuzzyEqual(tc.a, tc.b), "%q vs %q", tc.a, tc.b)
	}
}
