package ratelimit

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

func newLimiter(t *testing.T, now *time.Time) (RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	l, err := New(cache.NewWithClient(rdb, ""), Config{
		Rules: map[string]Rule{"task_submit": {Rate: 1, Capacity: 2}},
	}, WithClock(func() time.Time { return *now }))
	require.NoError(t, err)
	return l, mr
}

func TestTokenBucket(t *testing.T) {
	now := time.Date(2026, 2, 24, 12, 0, 0, 0, time.UTC)
	l, mr := newLimiter(t, &now)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "ip:1.2.3.4", "task_submit")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, "ip:1.2.3.4", "task_submit")
	require.NoError(t, err)
	assert.False(t, ok, "bucket should be empty")

	// 不同资源互不影响
	ok, err = l.Allow(ctx, "ip:5.6.7.8", "task_submit")
	require.NoError(t, err)
	assert.True(t, ok)

	// 1 秒后补充 1 个令牌
	now = now.Add(time.Second)
	ok, err = l.Allow(ctx, "ip:1.2.3.4", "task_submit")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.True(t, mr.Exists("ratelimit:task_submit:ip:1.2.3.4"))
}

func TestUnknownRuleAllows(t *testing.T) {
	now := time.Now()
	l, _ := newLimiter(t, &now)
	ok, err := l.Allow(context.Background(), "ip:1.2.3.4", "missing")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisFailureFailsOpen(t *testing.T) {
	now := time.Now()
	l, mr := newLimiter(t, &now)
	mr.Close()

	ok, err := l.Allow(context.Background(), "ip:1.2.3.4", "task_submit")
	assert.Error(t, err)
	assert.True(t, ok)
}

func TestInvalidRule(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	_, err := New(cache.NewWithClient(rdb, ""), Config{Rules: map[string]Rule{"bad": {Rate: 0, Capacity: 1}}})
	assert.ErrorIs(t, err, ErrInvalidRule)

	_, err = New(nil, Config{})
	assert.Error(t, err)
}
