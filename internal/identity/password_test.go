package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPasswordRoundTrip(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)

	hash := HashPassword("correct horse battery staple", salt)
	assert.True(t, VerifyPassword("correct horse battery staple", salt, hash))
	assert.False(t, VerifyPassword("wrong password", salt, hash))
}

func TestHashPasswordDifferentSaltsProduceDifferentHashes(t *testing.T) {
	saltA, err := NewSalt()
	require.NoError(t, err)
	saltB, err := NewSalt()
	require.NoError(t, err)

	hashA := HashPassword("same password", saltA)
	hashB := HashPassword("same password", saltB)
	assert.NotEqual(t, hashA, hashB)
}

func TestNewSessionKeyIsRandomAndCorrectLength(t *testing.T) {
	a, err := NewSessionKey()
	require.NoError(t, err)
	b, err := NewSessionKey()
	require.NoError(t, err)

	assert.Len(t, a, sessionKeyLen)
	assert.NotEqual(t, a, b)
}
