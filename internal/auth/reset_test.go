package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResetToken(t *testing.T) {
	plain, digest, err := NewResetToken()
	require.NoError(t, err)

	assert.Len(t, plain, 2*resetTokenBytes)
	assert.Len(t, digest, 64)
	assert.NotEqual(t, plain, digest)
	assert.Equal(t, digest, HashResetToken(plain))
}

func TestNewResetToken_Unique(t *testing.T) {
	a, _, err := NewResetToken()
	require.NoError(t, err)
	b, _, err := NewResetToken()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestHashResetToken_KnownVector(t *testing.T) {
	assert.Equal(t,
		"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		HashResetToken("abc"),
	)
}
