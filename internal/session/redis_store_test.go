package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redline/api/internal/trackchanges"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	_, err := NewRedisStore(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestRedisSaveAndLoad(t *testing.T) {
	store, mr := setupTestRedis(t)
	ctx := context.Background()

	_, ok, err := store.Load(ctx, "doc-1")
	require.NoError(t, err)
	assert.False(t, ok)

	want := trackchanges.SessionState{Enabled: true, Author: "Jane Doe"}
	require.NoError(t, store.Save(ctx, "doc-1", want))

	got, ok, err := store.Load(ctx, "doc-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)

	assert.Equal(t, "true", mr.HGet("tracking:doc-1", "enabled"))
	assert.Equal(t, defaultIdleTTL, mr.TTL("tracking:doc-1"))
}

func TestRedisSessionsExpireWhenIdle(t *testing.T) {
	store, mr := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "doc-1", trackchanges.SessionState{Enabled: true, Author: "Jane"}))

	mr.FastForward(defaultIdleTTL + time.Second)

	_, ok, err := store.Load(ctx, "doc-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisSessionsAreIsolated(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "doc-1", trackchanges.SessionState{Enabled: true, Author: "Jane"}))
	require.NoError(t, store.Save(ctx, "doc-2", trackchanges.SessionState{Enabled: false, Author: "Bob"}))
	require.NoError(t, store.Delete(ctx, "doc-1"))
	require.NoError(t, store.Delete(ctx, "never-saved"))

	_, ok, err := store.Load(ctx, "doc-1")
	require.NoError(t, err)
	assert.False(t, ok)

	got, ok, err := store.Load(ctx, "doc-2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Bob", got.Author)
}

func TestRedisLoadRejectsCorruptState(t *testing.T) {
	store, mr := setupTestRedis(t)
	mr.HSet("tracking:doc-1", "enabled", "maybe")

	_, _, err := store.Load(context.Background(), "doc-1")
	assert.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	var store Store = NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.Save(ctx, "doc-1", trackchanges.SessionState{Enabled: true, Author: "AI"}))
	got, ok, err := store.Load(ctx, "doc-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "AI", got.Author)

	require.NoError(t, store.Delete(ctx, "doc-1"))
	_, ok, _ = store.Load(ctx, "doc-1")
	assert.False(t, ok)
}
