// Package dispatcher 实现 worker 的消费主循环。
//
// 每次只处理一条消息：解码 -> 去重检查 -> 查找处理器 -> 执行 -> 提交位点或进入重试/死信，
// 结果完全确定之后才会拉取下一条。
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/ceyewan/taskflow/api/task"
	"github.com/ceyewan/taskflow/im-infra/clog"
	"github.com/ceyewan/taskflow/im-infra/kafka"
	"github.com/ceyewan/taskflow/im-infra/metrics"
	"github.com/ceyewan/taskflow/task-worker/internal/deadletter"
	"github.com/ceyewan/taskflow/task-worker/internal/registry"
	"github.com/ceyewan/taskflow/task-worker/internal/retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Source 逐条拉取、手动提交的消息来源
type Source interface {
	Poll(ctx context.Context) (*kafka.Message, error)
	Commit(ctx context.Context, msg *kafka.Message) error
	Release()
}

// DedupStore 已处理任务的记录
type DedupStore interface {
	Exists(ctx context.Context, taskID string) (bool, error)
	MarkProcessed(ctx context.Context, taskID string, ttl time.Duration) error
}

// Handlers 按任务类型查找处理器
type Handlers interface {
	Lookup(taskType string) (registry.Handler, bool)
}

// Retrier 处理失败任务
type Retrier interface {
	Schedule(ctx context.Context, env *task.Envelope, cause error) (retry.Decision, error)
}

// Quarantine 死信入口
type Quarantine interface {
	Route(ctx context.Context, l deadletter.Letter) error
}

// Outcome 一条消息的最终处理结果
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRetried   Outcome = "retried"
	OutcomeDiscarded Outcome = "dead_lettered"
)

// Instruments 主循环的监控指标，字段可以为 nil
type Instruments struct {
	Messages        *metrics.Counter
	HandlerDuration *metrics.Histogram
}

// Config 主循环配置
type Config struct {
	// Topic 消费的主 topic，写入死信头
	Topic string
	// DedupTTL 去重记录过期时间
	DedupTTL time.Duration
	// PollErrorBackoff 拉取出错后的等待时间
	PollErrorBackoff time.Duration
}

// Dispatcher 消费主循环
type Dispatcher struct {
	source     Source
	dedup      DedupStore
	handlers   Handlers
	retrier    Retrier
	quarantine Quarantine
	cfg        Config
	inst       Instruments
	logger     clog.Logger
}

// New 创建消费主循环
func New(source Source, dedup DedupStore, handlers Handlers, retrier Retrier, quarantine Quarantine, cfg Config, inst Instruments) *Dispatcher {
	if cfg.Topic == "" {
		cfg.Topic = task.TopicTasks
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 24 * time.Hour
	}
	if cfg.PollErrorBackoff <= 0 {
		cfg.PollErrorBackoff = time.Second
	}
	return &Dispatcher{
		source:     source,
		dedup:      dedup,
		handlers:   handlers,
		retrier:    retrier,
		quarantine: quarantine,
		cfg:        cfg,
		inst:       inst,
		logger:     clog.Module("dispatcher"),
	}
}

// Run 阻塞消费直到 ctx 结束。
// ctx 只在两条消息之间检查，正在处理的消息总会在非取消的上下文中处理完。
// 死信投递失败时返回错误，该消息不会被提交，重启后会被重新投递。
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("开始消费任务", clog.String("topic", d.cfg.Topic))
	for {
		if ctx.Err() != nil {
			d.logger.Info("消费循环已停止")
			return nil
		}

		msg, err := d.source.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, kafka.ErrClientClosed) {
				d.logger.Info("消费循环已停止")
				return nil
			}
			d.logger.Warn("拉取消息失败，稍后重试", clog.Err(err))
			select {
			case <-ctx.Done():
			case <-time.After(d.cfg.PollErrorBackoff):
			}
			continue
		}

		if _, err := d.Handle(context.WithoutCancel(ctx), msg); err != nil {
			d.source.Release()
			return err
		}
	}
}

// Handle 处理单条消息并在结果确定后提交位点
func (d *Dispatcher) Handle(ctx context.Context, msg *kafka.Message) (Outcome, error) {
	ctx = metrics.ExtractHeaders(ctx, msg.Headers)
	ctx, span := metrics.StartSpan(ctx, "task.process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination", msg.Topic),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		),
	)
	defer span.End()
	if traceID := span.SpanContext().TraceID(); traceID.IsValid() {
		ctx = clog.WithTraceID(ctx, traceID.String())
	}

	outcome, err := d.handle(ctx, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return outcome, err
	}
	span.SetAttributes(attribute.String("task.outcome", string(outcome)))
	d.inst.Messages.Inc(ctx, attribute.String("outcome", string(outcome)))
	return outcome, nil
}

func (d *Dispatcher) handle(ctx context.Context, msg *kafka.Message) (Outcome, error) {
	log := clog.C(ctx).Module("dispatcher")

	env, err := task.Decode(msg.Value)
	if err != nil {
		log.Error("消息无法解析，转入死信",
			clog.String("raw_body", string(msg.Value)),
			clog.Err(err),
		)
		if err := d.quarantine.Route(ctx, deadletter.Letter{
			Raw:    msg.Value,
			Reason: deadletter.ReasonDeserialization,
			Cause:  err,
			Source: d.cfg.Topic,
		}); err != nil {
			return OutcomeDiscarded, err
		}
		d.commit(ctx, msg)
		return OutcomeDiscarded, nil
	}

	log = log.With(
		clog.String("task_id", env.TaskID),
		clog.String("task_type", env.TaskType),
		clog.Int("retry_count", env.RetryCount),
	)
	log.Info("收到任务")

	done, err := d.dedup.Exists(ctx, env.TaskID)
	if err != nil {
		// 去重存储不可用时继续处理，宁可重复也不丢失
		log.Warn("去重检查失败，继续处理", clog.Err(err))
	} else if done {
		log.Info("任务已处理过，跳过")
		d.commit(ctx, msg)
		return OutcomeDuplicate, nil
	}

	h, ok := d.handlers.Lookup(env.TaskType)
	if !ok {
		log.Warn("未知的任务类型，转入死信")
		if err := d.quarantine.Route(ctx, deadletter.Letter{
			Envelope: env,
			Reason:   deadletter.ReasonUnknownTaskType,
			Cause:    &task.UnknownTaskTypeError{TaskType: env.TaskType},
			Source:   d.cfg.Topic,
		}); err != nil {
			return OutcomeDiscarded, err
		}
		d.commit(ctx, msg)
		return OutcomeDiscarded, nil
	}

	start := time.Now()
	herr := d.invoke(ctx, h, env)
	status := "success"
	if herr != nil {
		status = "failure"
	}
	d.inst.HandlerDuration.Record(ctx, time.Since(start).Seconds(),
		attribute.String("task_type", env.TaskType),
		attribute.String("status", status),
	)

	if herr == nil {
		if err := d.dedup.MarkProcessed(ctx, env.TaskID, d.cfg.DedupTTL); err != nil {
			log.Error("写入去重记录失败", clog.Err(err))
		}
		d.commit(ctx, msg)
		log.Info("任务处理成功", clog.Duration("elapsed", time.Since(start)))
		return OutcomeProcessed, nil
	}

	// 先提交原消息，重试由延迟队列重新投递
	d.commit(ctx, msg)
	decision, err := d.retrier.Schedule(ctx, env, herr)
	if err != nil {
		return OutcomeDiscarded, err
	}
	if decision.Action == retry.ActionRetry {
		return OutcomeRetried, nil
	}
	return OutcomeDiscarded, nil
}

// invoke 同步执行处理器，panic 会被转换为 HandlerError
func (d *Dispatcher) invoke(ctx context.Context, h registry.Handler, env *task.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			clog.C(ctx).Module("dispatcher").Error("处理器 panic",
				clog.String("task_id", env.TaskID),
				clog.Any("panic", r),
				clog.String("stack", string(debug.Stack())),
			)
			err = &task.HandlerError{TaskID: env.TaskID, TaskType: env.TaskType, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if err := h.Process(ctx, env); err != nil {
		return &task.HandlerError{TaskID: env.TaskID, TaskType: env.TaskType, Err: err}
	}
	return nil
}

// commit 提交失败只记录日志，消息会被重新投递并由去重记录兜底
func (d *Dispatcher) commit(ctx context.Context, msg *kafka.Message) {
	if err := d.source.Commit(ctx, msg); err != nil {
		clog.C(ctx).Module("dispatcher").Warn("提交位点失败", clog.Err(err))
	}
}
