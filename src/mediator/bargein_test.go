package mediator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeJPStripsAllWhitespace(t *testing.T) {
	assert.Equal(t, "ちょっと待って", normalizeJP("ちょっと 待って"))
	assert.Equal(t, "ちょっと待って", normalizeJP("  ちょっと\t待って\n"))
}

func TestIsBargeInPhraseMatchesSubstring(t *testing.T) {
	phrases := []string{"ちょっと待って", "ちょっとまって"}
	assert.True(t, isBargeInPhrase("あの、ちょっと待ってください", phrases))
	assert.True(t, isBargeInPhrase("ちょっと 待って ください", phrases))
	assert.False(t, isBargeInPhrase("こんにちは", phrases))
}

func TestIsBargeInPhraseEmptyInputs(t *testing.T) {
	assert.False(t, isBargeInPhrase("", []string{"x"}))
	assert.False(t, isBargeInPhrase("something", nil))
}
