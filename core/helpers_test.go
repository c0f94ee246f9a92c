package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestHasher() *PasswordHasher {
	return NewPasswordHasher(bcrypt.MinCost)
}

func newTestTokens(t *testing.T) *TokenService {
	t.Helper()
	tokens, err := NewTokenService([]byte("test-secret"), time.Hour)
	require.NoError(t, err)
	return tokens
}

// seedAccount stores an account with the given password in repo.
func seedAccount(t *testing.T, repo AccountRepository, username, password string, role Role) *Account {
	t.Helper()
	hash, err := newTestHasher().Hash(password)
	require.NoError(t, err)
	a := &Account{Username: username, Role: role, UserID: NewUserID(), PasswordHash: hash}
	require.NoError(t, repo.Create(context.Background(), a))
	return a
}
