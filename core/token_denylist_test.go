package core

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisRevocationList(t *testing.T) {
	mr, client := newMiniRedis(t)
	list := NewRedisRevocationList(client)
	ctx := context.Background()

	revoked, err := list.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, list.Revoke(ctx, "jti-1", time.Now().Add(time.Minute)))
	revoked, err = list.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	mr.FastForward(2 * time.Minute)
	revoked, err = list.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked, "entry should expire with the token")
}

func TestRedisRevocationList_AlreadyExpired(t *testing.T) {
	mr, client := newMiniRedis(t)
	list := NewRedisRevocationList(client)

	require.NoError(t, list.Revoke(context.Background(), "old", time.Now().Add(-time.Minute)))
	assert.False(t, mr.Exists(revokedTokenPrefix+"old"))
}

func TestRedisRevocationList_RejectsEmptyID(t *testing.T) {
	mr, client := newMiniRedis(t)
	list := NewRedisRevocationList(client)

	err := list.Revoke(context.Background(), "", time.Now().Add(time.Minute))
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Empty(t, mr.Keys())
}
