// Package publisher 将任务信封发布到主任务 topic。
package publisher

import (
	"context"
	"errors"
	"fmt"

	"github.com/ceyewan/taskflow/api/task"
	"github.com/ceyewan/taskflow/im-infra/breaker"
	"github.com/ceyewan/taskflow/im-infra/clog"
	"github.com/ceyewan/taskflow/im-infra/kafka"
	"github.com/ceyewan/taskflow/im-infra/metrics"
	"go.opentelemetry.io/otel/attribute"
)

// ErrUnavailable 消息代理不可用（熔断打开或发送失败）
var ErrUnavailable = errors.New("broker unavailable")

// Sender 同步发送消息的最小接口，kafka.Producer 满足该接口
type Sender interface {
	SendSync(ctx context.Context, msg *kafka.Message) error
}

// Option 定制 Publisher
type Option func(*Publisher)

// WithBreaker 为发送操作加上熔断保护
func WithBreaker(b breaker.Breaker) Option {
	return func(p *Publisher) { p.breaker = b }
}

// WithCounter 设置发布计数器
func WithCounter(c *metrics.Counter) Option {
	return func(p *Publisher) { p.published = c }
}

// WithLogger 注入日志器
func WithLogger(logger clog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

// Publisher 负责编码信封并以 task_id 为 key 同步写入主 topic
type Publisher struct {
	sender    Sender
	topic     string
	breaker   breaker.Breaker
	published *metrics.Counter
	logger    clog.Logger
}

// New 创建 Publisher
func New(sender Sender, topic string, opts ...Option) *Publisher {
	p := &Publisher{
		sender: sender,
		topic:  topic,
		logger: clog.Module("publisher"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish 发布一个信封，返回时消息已被 broker 确认。
// 任何发送失败都包装为 ErrUnavailable。
func (p *Publisher) Publish(ctx context.Context, env *task.Envelope) error {
	body, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	msg := &kafka.Message{
		Topic:   p.topic,
		Key:     []byte(env.TaskID),
		Value:   body,
		Headers: task.Headers(env),
	}
	metrics.InjectHeaders(ctx, msg.Headers)

	send := func(ctx context.Context) error { return p.sender.SendSync(ctx, msg) }
	if p.breaker != nil {
		err = p.breaker.Do(ctx, send)
	} else {
		err = send(ctx)
	}

	if err != nil {
		p.published.Inc(ctx, attribute.String("result", "failed"))
		p.logger.Error("发布任务失败",
			clog.String("task_id", env.TaskID),
			clog.String("task_type", env.TaskType),
			clog.String("topic", p.topic),
			clog.Err(err),
		)
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	p.published.Inc(ctx, attribute.String("result", "ok"))
	p.logger.Info("任务已发布",
		clog.String("task_id", env.TaskID),
		clog.String("task_type", env.TaskType),
		clog.String("topic", p.topic),
	)
	return nil
}
