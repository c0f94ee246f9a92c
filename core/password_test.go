package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHasher_RoundTrip(t *testing.T) {
	h := newTestHasher()
	hash, err := h.Hash("correct horse")
	require.NoError(t, err)

	ok, err := h.Verify("correct horse", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("wrong horse", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPasswordHasher_Salted(t *testing.T) {
	h := newTestHasher()
	a, err := h.Hash("same")
	require.NoError(t, err)
	b, err := h.Hash("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestPasswordHasher_InvalidHashFormat(t *testing.T) {
	ok, err := newTestHasher().Verify("anything", "not-a-bcrypt-hash")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrInvalidHashFormat)
}

func TestPasswordHasher_LongPasswords(t *testing.T) {
	h := newTestHasher()
	prefix := strings.Repeat("a", 100)
	hash, err := h.Hash(prefix + "x")
	require.NoError(t, err)

	// bcrypt alone would ignore everything past 72 bytes.
	ok, err := h.Verify(prefix+"y", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPasswordHasher_VerifiesAnyCost(t *testing.T) {
	hash, err := newTestHasher().Hash("pw")
	require.NoError(t, err)
	ok, err := VerifyPassword("pw", hash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewPasswordHasher_OutOfRangeCost(t *testing.T) {
	assert.Equal(t, DefaultBcryptCost, NewPasswordHasher(0).cost)
	assert.Equal(t, DefaultBcryptCost, NewPasswordHasher(99).cost)
}

func TestGeneratePassword(t *testing.T) {
	pw, err := GeneratePassword(16)
	require.NoError(t, err)
	assert.Len(t, pw, 16)
	for _, r := range pw {
		assert.Contains(t, passwordAlphabet, string(r))
	}

	_, err = GeneratePassword(0)
	assert.Error(t, err)
}
