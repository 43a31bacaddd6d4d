package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ceyewan/taskflow/api/task"
	"github.com/ceyewan/taskflow/im-infra/kafka"
	"github.com/ceyewan/taskflow/task-worker/internal/deadletter"
	"github.com/ceyewan/taskflow/task-worker/internal/registry"
	"github.com/ceyewan/taskflow/task-worker/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource 按顺序返回消息，取空后取消上下文，使 Run 退出
type fakeSource struct {
	mu        sync.Mutex
	queue     []*kafka.Message
	committed []*kafka.Message
	released  int
	cancel    context.CancelFunc
}

func (s *fakeSource) push(msgs ...*kafka.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, msgs...)
}

func (s *fakeSource) Poll(ctx context.Context) (*kafka.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		s.cancel()
		return nil, context.Canceled
	}
	msg := s.queue[0]
	s.queue = s.queue[1:]
	return msg, nil
}

func (s *fakeSource) Commit(_ context.Context, msg *kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = append(s.committed, msg)
	return nil
}

func (s *fakeSource) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released++
}

type fakeDedup struct {
	mu        sync.Mutex
	done      map[string]bool
	marks     int
	existsErr error
	markErr   error
}

func newFakeDedup() *fakeDedup { return &fakeDedup{done: make(map[string]bool)} }

func (f *fakeDedup) Exists(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return f.done[id], nil
}

func (f *fakeDedup) MarkProcessed(_ context.Context, id string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks++
	if f.markErr != nil {
		return f.markErr
	}
	f.done[id] = true
	return nil
}

type fakeQuarantine struct {
	letters []deadletter.Letter
	err     error
}

func (f *fakeQuarantine) Route(_ context.Context, l deadletter.Letter) error {
	if f.err != nil {
		return f.err
	}
	f.letters = append(f.letters, l)
	return nil
}

type delayed struct {
	env *task.Envelope
	due time.Time
}

type fakeDelayer struct{ added []delayed }

func (f *fakeDelayer) Add(_ context.Context, env *task.Envelope, due time.Time) error {
	f.added = append(f.added, delayed{env: env, due: due})
	return nil
}

type harness struct {
	source     *fakeSource
	dedup      *fakeDedup
	registry   *registry.Registry
	delayer    *fakeDelayer
	quarantine *fakeQuarantine
	dispatcher *Dispatcher
	calls      map[string]int
}

var t0 = time.Date(2026, 2, 24, 12, 0, 0, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		source:     &fakeSource{},
		dedup:      newFakeDedup(),
		registry:   registry.New(),
		delayer:    &fakeDelayer{},
		quarantine: &fakeQuarantine{},
		calls:      make(map[string]int),
	}
	count := func(err error) registry.HandlerFunc {
		return func(_ context.Context, env *task.Envelope) error {
			h.calls[env.TaskID]++
			return err
		}
	}
	h.registry.MustRegister("send_email", count(nil))
	h.registry.MustRegister("fail_task", count(errors.New("intentional failure")))

	scheduler := retry.NewScheduler(h.delayer, h.quarantine,
		retry.Policy{MaxRetries: 3, BaseDelay: 2.0},
		retry.WithSchedulerClock(func() time.Time { return t0 }),
	)
	h.dispatcher = New(h.source, h.dedup, h.registry, scheduler, h.quarantine, Config{}, Instruments{})
	return h
}

func (h *harness) run(t *testing.T) error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.source.cancel = cancel
	return h.dispatcher.Run(ctx)
}

func envelopeMessage(t *testing.T, env *task.Envelope) *kafka.Message {
	t.Helper()
	body, err := env.Encode()
	require.NoError(t, err)
	return &kafka.Message{Topic: task.TopicTasks, Key: []byte(env.TaskID), Value: body, Headers: task.Headers(env)}
}

// 失败 3 次后依次延迟 2s、4s、8s 重试，第 4 次失败进入死信
func TestRetryThenDeadLetter(t *testing.T) {
	h := newHarness(t)
	h.source.push(envelopeMessage(t, task.NewWithID("t-a", "fail_task", nil)))
	require.NoError(t, h.run(t))

	// 模拟 pump 把延迟队列中的任务重新投递
	for i := 0; i < 3; i++ {
		require.Len(t, h.delayer.added, i+1)
		h.source.push(envelopeMessage(t, h.delayer.added[i].env))
		require.NoError(t, h.run(t))
	}

	require.Len(t, h.delayer.added, 3)
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, a := range h.delayer.added {
		assert.Equal(t, "t-a", a.env.TaskID)
		assert.Equal(t, i+1, a.env.RetryCount)
		assert.Equal(t, t0.Add(want[i]), a.due)
	}

	require.Len(t, h.quarantine.letters, 1)
	letter := h.quarantine.letters[0]
	assert.Equal(t, deadletter.ReasonMaxRetriesExceeded, letter.Reason)
	assert.Equal(t, 4, letter.Envelope.RetryCount)
	assert.Equal(t, "t-a", letter.Envelope.TaskID)

	assert.Equal(t, 4, h.calls["t-a"])
	assert.Len(t, h.source.committed, 4)
	assert.Zero(t, h.dedup.marks)
}

// 成功一次后重复投递会被跳过但仍然提交
func TestDuplicateIsSkipped(t *testing.T) {
	h := newHarness(t)
	msg := envelopeMessage(t, task.NewWithID("t-b", "send_email", map[string]any{"recipient": "a@b.c"}))
	h.source.push(msg, msg)
	require.NoError(t, h.run(t))

	assert.Equal(t, 1, h.calls["t-b"])
	assert.Equal(t, 1, h.dedup.marks)
	assert.Len(t, h.source.committed, 2)
	assert.Empty(t, h.quarantine.letters)
}

// 非法消息进入死信，不影响后续消息
func TestMalformedMessageDoesNotStopLoop(t *testing.T) {
	h := newHarness(t)
	bad := &kafka.Message{Topic: task.TopicTasks, Value: []byte("{not json")}
	missing := &kafka.Message{Topic: task.TopicTasks, Value: []byte(`{"task_type":"send_email"}`)}
	h.source.push(bad, missing, envelopeMessage(t, task.NewWithID("t-c", "send_email", nil)))
	require.NoError(t, h.run(t))

	require.Len(t, h.quarantine.letters, 2)
	for i, l := range h.quarantine.letters {
		assert.Equal(t, deadletter.ReasonDeserialization, l.Reason)
		assert.Nil(t, l.Envelope)
		var derr *task.DeserializationError
		assert.ErrorAs(t, l.Cause, &derr)
		assert.Equal(t, []*kafka.Message{bad, missing}[i].Value, l.Raw)
	}
	assert.Equal(t, 1, h.calls["t-c"])
	assert.Len(t, h.source.committed, 3)
}

func TestUnknownTaskType(t *testing.T) {
	h := newHarness(t)
	h.source.push(envelopeMessage(t, task.NewWithID("t-d", "mystery", nil)))
	require.NoError(t, h.run(t))

	require.Len(t, h.quarantine.letters, 1)
	l := h.quarantine.letters[0]
	assert.Equal(t, deadletter.ReasonUnknownTaskType, l.Reason)
	assert.Equal(t, 0, l.Envelope.RetryCount)
	var uerr *task.UnknownTaskTypeError
	require.ErrorAs(t, l.Cause, &uerr)
	assert.Equal(t, "mystery", uerr.TaskType)
	assert.Len(t, h.source.committed, 1)
	assert.Empty(t, h.delayer.added)
}

func TestDedupFailureFailsOpen(t *testing.T) {
	h := newHarness(t)
	h.dedup.existsErr = errors.New("redis down")
	h.source.push(envelopeMessage(t, task.NewWithID("t-e", "send_email", nil)))
	require.NoError(t, h.run(t))

	assert.Equal(t, 1, h.calls["t-e"])
	assert.Len(t, h.source.committed, 1)
}

func TestMarkFailureStillCommits(t *testing.T) {
	h := newHarness(t)
	h.dedup.markErr = errors.New("redis down")
	h.source.push(envelopeMessage(t, task.NewWithID("t-f", "send_email", nil)))
	require.NoError(t, h.run(t))

	assert.Equal(t, 1, h.dedup.marks)
	assert.Len(t, h.source.committed, 1)
	assert.Empty(t, h.delayer.added)
}

func TestHandlerPanicIsRetried(t *testing.T) {
	h := newHarness(t)
	h.registry.MustRegister("explode", registry.HandlerFunc(func(context.Context, *task.Envelope) error {
		panic("kaboom")
	}))
	h.source.push(envelopeMessage(t, task.NewWithID("t-g", "explode", nil)))

	outcome, err := h.dispatcher.Handle(context.Background(), h.source.queue[0])
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetried, outcome)
	require.Len(t, h.delayer.added, 1)
	assert.Equal(t, 1, h.delayer.added[0].env.RetryCount)
}

func TestQuarantineFailureStopsWithoutCommit(t *testing.T) {
	h := newHarness(t)
	h.quarantine.err = errors.New("dlq down")
	h.source.push(&kafka.Message{Topic: task.TopicTasks, Value: []byte("garbage")})

	err := h.run(t)
	assert.EqualError(t, err, "dlq down")
	assert.Empty(t, h.source.committed)
	assert.Equal(t, 1, h.source.released)
}

func TestInFlightMessageSurvivesCancellation(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.source.cancel = cancel

	var handlerCtxErr error
	h.registry.MustRegister("slow", registry.HandlerFunc(func(hctx context.Context, _ *task.Envelope) error {
		cancel()
		handlerCtxErr = hctx.Err()
		return nil
	}))
	h.source.push(
		envelopeMessage(t, task.NewWithID("t-h", "slow", nil)),
		envelopeMessage(t, task.NewWithID("t-i", "send_email", nil)),
	)

	require.NoError(t, h.dispatcher.Run(ctx))
	assert.NoError(t, handlerCtxErr)
	assert.Len(t, h.source.committed, 1)
	assert.Equal(t, 0, h.calls["t-i"])
}
