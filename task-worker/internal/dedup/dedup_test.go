package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ceyewan/taskflow/im-infra/cache"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s, err := New(cache.NewWithClient(rdb, ""), "task:processed", 24*time.Hour)
	require.NoError(t, err)
	return s, mr
}

func TestMarkProcessed(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	exists, err := s.Exists(ctx, "t-1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.MarkProcessed(ctx, "t-1", 0))

	exists, err = s.Exists(ctx, "t-1")
	require.NoError(t, err)
	assert.True(t, exists)

	val, err := mr.Get("task:processed:t-1")
	require.NoError(t, err)
	assert.Equal(t, "processed", val)
	assert.Equal(t, 24*time.Hour, mr.TTL("task:processed:t-1"))
}

func TestMarkProcessedDoesNotExtendTTL(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.MarkProcessed(ctx, "t-2", time.Hour))
	mr.FastForward(30 * time.Minute)
	require.NoError(t, s.MarkProcessed(ctx, "t-2", time.Hour))

	assert.Equal(t, 30*time.Minute, mr.TTL("task:processed:t-2"))
}

func TestRecordExpires(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.MarkProcessed(ctx, "t-3", time.Minute))
	mr.FastForward(2 * time.Minute)

	exists, err := s.Exists(ctx, "t-3")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStoreUnavailable(t *testing.T) {
	s, mr := newStore(t)
	mr.Close()

	_, err := s.Exists(context.Background(), "t-4")
	assert.Error(t, err)
	assert.Error(t, s.MarkProcessed(context.Background(), "t-4", 0))
}
