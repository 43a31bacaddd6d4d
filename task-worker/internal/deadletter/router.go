// Package deadletter 将无法继续处理的消息投递到死信 topic。
//
// 无论是反序列化失败、未知任务类型还是重试耗尽，所有消息都走同一个 Route 入口。
package deadletter

import (
	"context"
	"fmt"
	"time"

	"github.com/ceyewan/taskflow/api/task"
	"github.com/ceyewan/taskflow/im-infra/clog"
	"github.com/ceyewan/taskflow/im-infra/kafka"
	"github.com/ceyewan/taskflow/im-infra/metrics"
	"go.opentelemetry.io/otel/attribute"
)

// Reason 死信原因，写入 x-dead-letter-reason 消息头
type Reason string

const (
	ReasonDeserialization     Reason = "deserialization_error"
	ReasonUnknownTaskType     Reason = "unknown_task_type"
	ReasonMaxRetriesExceeded  Reason = "max_retries_exceeded"
	ReasonRetryScheduleFailed Reason = "retry_schedule_failed"
)

// ContentTypeRaw 原始消息体无法解析时使用的 content-type
const ContentTypeRaw = "application/octet-stream"

// Letter 一条待隔离的消息。Envelope 与 Raw 至少设置一个，Envelope 优先。
type Letter struct {
	Envelope *task.Envelope
	Raw      []byte
	Reason   Reason
	Cause    error
	// Source 消息来源 topic
	Source string
}

// Publisher 发送死信消息
type Publisher interface {
	SendSync(ctx context.Context, msg *kafka.Message) error
}

// Router 死信路由器
type Router struct {
	publisher Publisher
	topic     string
	logger    clog.Logger
	now       func() time.Time

	routed   *metrics.Counter
	failures *metrics.Counter
}

// Option 定制 Router
type Option func(*Router)

// WithLogger 注入日志器
func WithLogger(logger clog.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// WithCounters 注入死信成功与失败计数器
func WithCounters(routed, failures *metrics.Counter) Option {
	return func(r *Router) {
		r.routed = routed
		r.failures = failures
	}
}

// WithClock 替换时间源
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// NewRouter 创建死信路由器，topic 需在启动时已经声明
func NewRouter(publisher Publisher, topic string, opts ...Option) *Router {
	r := &Router{
		publisher: publisher,
		topic:     topic,
		logger:    clog.Module("deadletter"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route 将消息发送到死信 topic。
// 发送失败时（生产者内部已做有限次重试）记录告警日志并返回错误，调用方不应提交原消息位点。
func (r *Router) Route(ctx context.Context, l Letter) error {
	msg, err := r.build(ctx, l)
	if err != nil {
		return err
	}

	attrs := attribute.String("reason", string(l.Reason))
	if err := r.publisher.SendSync(ctx, msg); err != nil {
		r.failures.Inc(ctx, attrs)
		r.logger.Error("死信投递失败，需要人工介入",
			clog.Bool("alert", true),
			clog.String("reason", string(l.Reason)),
			clog.String("task_id", string(msg.Key)),
			clog.String("body", string(msg.Value)),
			clog.Err(err),
		)
		return fmt.Errorf("publish dead letter: %w", err)
	}

	r.routed.Inc(ctx, attrs)
	r.logger.Error("消息已投递到死信队列",
		clog.String("reason", string(l.Reason)),
		clog.String("task_id", string(msg.Key)),
		clog.String("topic", r.topic),
		clog.Int64("offset", msg.Offset),
	)
	return nil
}

func (r *Router) build(ctx context.Context, l Letter) (*kafka.Message, error) {
	var (
		key     []byte
		value   []byte
		headers map[string][]byte
	)

	if l.Envelope != nil {
		body, err := l.Envelope.Encode()
		if err != nil {
			return nil, fmt.Errorf("encode dead letter: %w", err)
		}
		key, value = []byte(l.Envelope.TaskID), body
		headers = task.Headers(l.Envelope)
	} else {
		value = l.Raw
		headers = map[string][]byte{task.HeaderContentType: []byte(ContentTypeRaw)}
	}

	headers[task.HeaderDeadLetterReason] = []byte(l.Reason)
	headers[task.HeaderFailedAt] = []byte(r.now().UTC().Format(time.RFC3339Nano))
	if l.Source != "" {
		headers[task.HeaderOriginalTopic] = []byte(l.Source)
	}
	if l.Cause != nil {
		headers[task.HeaderError] = []byte(l.Cause.Error())
	}
	metrics.InjectHeaders(ctx, headers)

	return &kafka.Message{Topic: r.topic, Key: key, Value: value, Headers: headers}, nil
}
