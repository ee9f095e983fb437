package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStore_RoundTrip(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	sess := testSession()
	require.NoError(t, store.Create(ctx, sess))

	// Key carries a TTL matching the session lifetime.
	ttl := mr.TTL(redisKeyPrefix + sess.ID)
	assert.Greater(t, ttl, 59*time.Minute)

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, sess.UserID, got.UserID)
	assert.Equal(t, sess.Username, got.Username)

	require.NoError(t, store.Delete(ctx, sess.ID))
	got, err = store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStore_Expiry(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	sess := testSession()
	require.NoError(t, store.Create(ctx, sess))

	mr.FastForward(2 * time.Hour)

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStore_RejectsExpiredSession(t *testing.T) {
	store, _ := newRedisStore(t)

	sess := testSession()
	sess.ExpiresAt = time.Now().Add(-time.Minute)
	err := store.Create(context.Background(), sess)
	assert.Error(t, err)
}

func TestRedisStore_DeleteExpiredIsNoOp(t *testing.T) {
	store, _ := newRedisStore(t)

	removed, err := store.DeleteExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)
}
