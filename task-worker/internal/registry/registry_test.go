package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ceyewan/taskflow/api/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context, *task.Envelope) error { return nil }

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("send_email", HandlerFunc(noop)))

	h, ok := r.Lookup("send_email")
	require.True(t, ok)
	assert.NoError(t, h.Process(context.Background(), task.New("send_email", nil)))

	_, ok = r.Lookup("unknown")
	assert.False(t, ok)
}

func TestRegisterErrors(t *testing.T) {
	r := New()
	assert.ErrorIs(t, r.Register("", HandlerFunc(noop)), ErrEmptyTaskType)
	assert.ErrorIs(t, r.Register("a", nil), ErrNilHandler)

	require.NoError(t, r.Register("a", HandlerFunc(noop)))
	assert.ErrorIs(t, r.Register("a", HandlerFunc(noop)), ErrDuplicate)

	assert.Panics(t, func() { r.MustRegister("a", HandlerFunc(noop)) })
}

func TestTypesSorted(t *testing.T) {
	r := New()
	for _, name := range []string{"resize_image", "fail_task", "send_email"} {
		r.MustRegister(name, HandlerFunc(noop))
	}
	assert.Equal(t, []string{"fail_task", "resize_image", "send_email"}, r.Types())
}

func TestConcurrentLookup(t *testing.T) {
	r := New()
	boom := errors.New("boom")
	r.MustRegister("x", HandlerFunc(func(context.Context, *task.Envelope) error { return boom }))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, ok := r.Lookup("x")
			assert.True(t, ok)
			assert.ErrorIs(t, h.Process(context.Background(), nil), boom)
		}()
	}
	wg.Wait()
}
