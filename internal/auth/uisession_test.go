package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractBearerTokenParsesStandardHeader(t *testing.T) {
	token, ok := ExtractBearerToken("Bearer abc.def.ghi")
	assert.True(t, ok)
	assert.Equal(t, "abc.def.ghi", token)
}

func TestExtractBearerTokenRejectsMissingScheme(t *testing.T) {
	_, ok := ExtractBearerToken("abc.def.ghi")
	assert.False(t, ok)
}

func TestExtractBearerTokenRejectsEmptyToken(t *testing.T) {
	_, ok := ExtractBearerToken("Bearer ")
	assert.False(t, ok)
}

func TestExtractBearerTokenRejectsEmptyHeader(t *testing.T) {
	_, ok := ExtractBearerToken("")
	assert.False(t, ok)
}
