package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	p := New(Policy{FailureThreshold: 3, OpenStateTimeout: time.Hour})
	b := p.GetBreaker("kafka:task_queue")
	ctx := context.Background()
	boom := errors.New("broker down")

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Do(ctx, func(context.Context) error { return boom }), boom)
	}
	assert.Equal(t, "open", b.State())

	called := false
	err := b.Do(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.False(t, called)
}

func TestBreakerRecovers(t *testing.T) {
	p := New(Policy{FailureThreshold: 1, OpenStateTimeout: 20 * time.Millisecond})
	b := p.GetBreaker("x")
	ctx := context.Background()

	require.Error(t, b.Do(ctx, func(context.Context) error { return errors.New("fail") }))
	assert.Equal(t, "open", b.State())

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, "half-open", b.State())
	require.NoError(t, b.Do(ctx, func(context.Context) error { return nil }))
	assert.Equal(t, "closed", b.State())
}

func TestGetBreakerIsCachedAndPerName(t *testing.T) {
	p := New(DefaultPolicy(), WithPolicy("strict", Policy{FailureThreshold: 1}))
	assert.Same(t, p.GetBreaker("a"), p.GetBreaker("a"))

	strict := p.GetBreaker("strict")
	_ = strict.Do(context.Background(), func(context.Context) error { return errors.New("x") })
	assert.Equal(t, "open", strict.State())
	assert.Equal(t, "closed", p.GetBreaker("a").State())
}
