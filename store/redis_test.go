package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	cfg := DefaultRedisConfig()
	cfg.Addr = mr.Addr()

	s, err := NewRedisStore(cfg, zap.NewNop())
	require.NoError(t, err)

	return mr, s
}

func TestRedisStore_SetAndGet(t *testing.T) {
	mr, s := setupTestRedis(t)
	defer mr.Close()
	defer s.Close()

	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k1", []byte("v1"), time.Minute))

	got, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)
}

func TestRedisStore_GetNonExistent(t *testing.T) {
	mr, s := setupTestRedis(t)
	defer mr.Close()
	defer s.Close()

	_, err := s.Get(context.Background(), "absent")
	assert.True(t, IsNotFound(err))
}

func TestRedisStore_TTL(t *testing.T) {
	mr, s := setupTestRedis(t)
	defer mr.Close()
	defer s.Close()

	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k1", []byte("v1"), 100*time.Millisecond))

	_, err := s.Get(ctx, "k1")
	require.NoError(t, err)

	mr.FastForward(200 * time.Millisecond)

	_, err = s.Get(ctx, "k1")
	assert.True(t, IsNotFound(err))
}

func TestRedisStore_Delete(t *testing.T) {
	mr, s := setupTestRedis(t)
	defer mr.Close()
	defer s.Close()

	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k1", []byte("v1"), time.Minute))
	require.NoError(t, s.Delete(ctx, "k1"))

	_, err := s.Get(ctx, "k1")
	assert.True(t, IsNotFound(err))
}

func TestRedisStore_Ping(t *testing.T) {
	mr, s := setupTestRedis(t)
	defer mr.Close()
	defer s.Close()

	assert.NoError(t, s.Ping(context.Background()))
}

func TestNewRedisStore_FailsFastWhenUnreachable(t *testing.T) {
	cfg := DefaultRedisConfig()
	cfg.Addr = "localhost:1" // nothing listens here
	cfg.DialTimeout = 200 * time.Millisecond

	s, err := NewRedisStore(cfg, zap.NewNop())
	assert.Nil(t, s)
	assert.Error(t, err)
}

func TestRedisStore_DegradedAfterServerGone(t *testing.T) {
	mr, s := setupTestRedis(t)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "k1", []byte("v1"), time.Minute))

	mr.Close()

	_, err := s.Get(ctx, "k1")
	assert.Error(t, err)
	assert.False(t, IsNotFound(err), "backend failure is not reported as a plain miss")
}
