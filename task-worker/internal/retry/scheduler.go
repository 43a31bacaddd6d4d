// Package retry 负责失败任务的指数退避重试。
//
// 失败的任务不会在消费循环中休眠等待，而是写入 Redis 延迟队列，由 Pump 在到期后重新投递到主 topic。
// 重试次数超出预算的任务交给死信路由器。
package retry

import (
	"context"
	"time"

	"github.com/ceyewan/taskflow/api/task"
	"github.com/ceyewan/taskflow/im-infra/clog"
	"github.com/ceyewan/taskflow/im-infra/metrics"
	"github.com/ceyewan/taskflow/task-worker/internal/deadletter"
	"go.opentelemetry.io/otel/attribute"
)

// Delayer 延迟投递
type Delayer interface {
	Add(ctx context.Context, env *task.Envelope, due time.Time) error
}

// Quarantine 死信入口
type Quarantine interface {
	Route(ctx context.Context, l deadletter.Letter) error
}

// Policy 重试策略
type Policy struct {
	// MaxRetries 信封未指定 max_retries 时的预算
	MaxRetries int
	// BaseDelay 退避底数（秒）
	BaseDelay float64
	// MaxDelay 单次延迟上限，0 表示不限制
	MaxDelay time.Duration
}

// Action 调度结果
type Action string

const (
	ActionRetry      Action = "retry"
	ActionDeadLetter Action = "dead_letter"
)

// Decision 描述一次失败被如何处理
type Decision struct {
	Action Action
	// Next 递增 retry_count 后的信封
	Next  *task.Envelope
	Delay time.Duration
	// Reason 仅在 Action 为 ActionDeadLetter 时有效
	Reason deadletter.Reason
}

// Scheduler 重试调度器
type Scheduler struct {
	delayer    Delayer
	quarantine Quarantine
	policy     Policy
	source     string
	now        func() time.Time
	logger     clog.Logger
	scheduled  *metrics.Counter
}

// SchedulerOption 定制 Scheduler
type SchedulerOption func(*Scheduler)

// WithSchedulerClock 替换时间源
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// WithScheduledCounter 注入重试计数器
func WithScheduledCounter(c *metrics.Counter) SchedulerOption {
	return func(s *Scheduler) { s.scheduled = c }
}

// WithSource 设置写入死信头的来源 topic
func WithSource(topic string) SchedulerOption {
	return func(s *Scheduler) { s.source = topic }
}

// NewScheduler 创建重试调度器
func NewScheduler(delayer Delayer, quarantine Quarantine, policy Policy, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		delayer:    delayer,
		quarantine: quarantine,
		policy:     policy,
		source:     task.TopicTasks,
		now:        time.Now,
		logger:     clog.Module("retry"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Decide 计算失败任务的下一步，不产生副作用
func (s *Scheduler) Decide(env *task.Envelope) Decision {
	budget := env.EffectiveMaxRetries(s.policy.MaxRetries)
	next := env.NextAttempt()
	if next.RetryCount <= budget {
		return Decision{
			Action: ActionRetry,
			Next:   next,
			Delay:  Delay(s.policy.BaseDelay, next.RetryCount, s.policy.MaxDelay),
		}
	}
	return Decision{Action: ActionDeadLetter, Next: next, Reason: deadletter.ReasonMaxRetriesExceeded}
}

// Schedule 处理一次失败。
// 写入延迟队列失败时升级为死信 (retry_schedule_failed)；只有死信也发送失败时才返回错误。
func (s *Scheduler) Schedule(ctx context.Context, env *task.Envelope, cause error) (Decision, error) {
	d := s.Decide(env)
	budget := env.EffectiveMaxRetries(s.policy.MaxRetries)
	log := clog.C(ctx).Module("retry").With(
		clog.String("task_id", d.Next.TaskID),
		clog.String("task_type", d.Next.TaskType),
		clog.Int("retry_count", d.Next.RetryCount),
		clog.Int("max_retries", budget),
	)

	if d.Action == ActionRetry {
		due := s.now().Add(d.Delay)
		err := s.delayer.Add(ctx, d.Next, due)
		if err == nil {
			s.scheduled.Inc(ctx, attribute.String("task_type", d.Next.TaskType))
			log.Warn("任务失败，已安排重试",
				clog.Float64("delay_seconds", d.Delay.Seconds()),
				clog.Time("due_at", due),
				clog.Err(cause),
			)
			return d, nil
		}

		log.Error("写入延迟队列失败，转入死信", clog.Err(err))
		d = Decision{Action: ActionDeadLetter, Next: d.Next, Reason: deadletter.ReasonRetryScheduleFailed}
		cause = err
	} else {
		log.Error("任务超过最大重试次数，转入死信", clog.Err(cause))
	}

	err := s.quarantine.Route(ctx, deadletter.Letter{
		Envelope: d.Next,
		Reason:   d.Reason,
		Cause:    cause,
		Source:   s.source,
	})
	return d, err
}
