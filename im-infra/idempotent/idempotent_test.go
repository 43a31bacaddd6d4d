package idempotent

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ceyewan/taskflow/im-infra/cache"
	"github.com/ceyewan/taskflow/im-infra/clog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIdempotent(t *testing.T, cfg Config) (Idempotent, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	cacheCfg := cache.DefaultConfig()
	cacheCfg.Addr = mr.Addr()
	c, err := cache.New(context.Background(), cacheCfg, cache.WithLogger(clog.NewNop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	idem, err := New(c, cfg, WithLogger(clog.NewNop()))
	require.NoError(t, err)
	return idem, mr
}

func TestCheckAndSet(t *testing.T) {
	ctx := context.Background()
	idem, mr := newTestIdempotent(t, Config{KeyPrefix: "test", DefaultTTL: time.Minute, MarkerValue: "done"})

	// 键不存在
	exists, err := idem.Check(ctx, "op:1")
	require.NoError(t, err)
	assert.False(t, exists)

	// 首次设置成功
	ok, err := idem.Set(ctx, "op:1", 0)
	require.NoError(t, err)
	assert.True(t, ok)

	v, err := mr.Get("test:op:1")
	require.NoError(t, err)
	assert.Equal(t, "done", v)

	exists, err = idem.Check(ctx, "op:1")
	require.NoError(t, err)
	assert.True(t, exists)

	// 重复设置失败，且不会延长过期时间
	mr.FastForward(30 * time.Second)
	ok, err = idem.Set(ctx, "op:1", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 30*time.Second, mr.TTL("test:op:1"))
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	idem, mr := newTestIdempotent(t, DefaultConfig())

	ok, err := idem.Set(ctx, "short", 2*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(3 * time.Second)
	exists, err := idem.Check(ctx, "short")
	require.NoError(t, err)
	assert.False(t, exists, "过期后应允许重新执行")
}

func TestEmptyKeyAndConfig(t *testing.T) {
	ctx := context.Background()
	idem, _ := newTestIdempotent(t, DefaultConfig())

	_, err := idem.Check(ctx, " ")
	assert.ErrorIs(t, err, ErrEmptyKey)
	_, err = idem.Set(ctx, "", time.Second)
	assert.ErrorIs(t, err, ErrEmptyKey)

	_, err = New(nil, DefaultConfig())
	assert.Error(t, err)

	c := cache.NewWithClient(nil, "")
	_, err = New(c, Config{DefaultTTL: time.Second})
	assert.Error(t, err)
}

func TestRedisUnavailable(t *testing.T) {
	ctx := context.Background()
	idem, mr := newTestIdempotent(t, DefaultConfig())
	mr.Close()

	_, err := idem.Check(ctx, "k")
	assert.Error(t, err)
	_, err = idem.Set(ctx, "k", 0)
	assert.Error(t, err)
}
