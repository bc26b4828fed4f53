package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalSortsKeys(t *testing.T) {
	out, err := Canonical(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2}`, string(out))
}

func TestCanonicalNoHTMLEscaping(t *testing.T) {
	out, err := Canonical(map[string]any{"q": "a<b>&c"})
	require.NoError(t, err)
	assert.Equal(t, `{"q":"a<b>&c"}`, string(out))
}

func TestFingerprintStableAcrossKeyOrder(t *testing.T) {
	a, err := Fingerprint(map[string]any{"to": "x@y.com", "subject": "hi", "n": 3})
	require.NoError(t, err)
	b, err := Fingerprint(map[string]any{"n": 3, "subject": "hi", "to": "x@y.com"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestFingerprintUnicodeNormalization(t *testing.T) {
	// "é" precomposed (U+00E9) vs decomposed (U+0065 U+0301).
	composed, err := Fingerprint(map[string]any{"name": "André"})
	require.NoError(t, err)
	decomposed, err := Fingerprint(map[string]any{"name": "André"})
	require.NoError(t, err)
	assert.Equal(t, composed, decomposed)
}

func TestFingerprintNilParams(t *testing.T) {
	a, err := Fingerprint(nil)
	require.NoError(t, err)
	b, err := Fingerprint(map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestFingerprintDistinguishesValues(t *testing.T) {
	a, err := Fingerprint(map[string]any{"cmd": "ls"})
	require.NoError(t, err)
	b, err := Fingerprint(map[string]any{"cmd": "rm -rf /"})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
