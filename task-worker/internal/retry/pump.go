package retry

import (
	"context"
	"errors"
	"time"

	"github.com/ceyewan/taskflow/api/task"
	"github.com/ceyewan/taskflow/im-infra/clog"
	"github.com/ceyewan/taskflow/im-infra/kafka"
	"github.com/ceyewan/taskflow/task-worker/internal/deadletter"
)

// Publisher 重新投递到主 topic
type Publisher interface {
	SendSync(ctx context.Context, msg *kafka.Message) error
}

// PumpConfig 延迟队列搬运配置
type PumpConfig struct {
	Topic            string
	PollInterval     time.Duration
	BatchSize        int
	RepublishBackoff time.Duration
	// 取出后超过该时长仍未确认的任务会被放回延迟队列
	ClaimTimeout time.Duration
}

// Pump 周期性地把延迟队列中到期的任务重新投递到主 topic
type Pump struct {
	queue      *Queue
	publisher  Publisher
	quarantine Quarantine
	cfg        PumpConfig
	now        func() time.Time
	logger     clog.Logger
}

// NewPump 创建 Pump
func NewPump(queue *Queue, publisher Publisher, quarantine Quarantine, cfg PumpConfig) *Pump {
	if cfg.Topic == "" {
		cfg.Topic = task.TopicTasks
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.RepublishBackoff <= 0 {
		cfg.RepublishBackoff = time.Second
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = time.Minute
	}
	return &Pump{
		queue:      queue,
		publisher:  publisher,
		quarantine: quarantine,
		cfg:        cfg,
		now:        time.Now,
		logger:     clog.Module("retry.pump"),
	}
}

// Run 阻塞运行直到 ctx 结束。正在处理的批次会在非取消的上下文中完成。
func (p *Pump) Run(ctx context.Context) error {
	p.logger.Info("延迟队列搬运已启动",
		clog.String("topic", p.cfg.Topic),
		clog.Duration("poll_interval", p.cfg.PollInterval),
		clog.Int("batch_size", p.cfg.BatchSize),
	)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("延迟队列搬运已停止")
			return nil
		case <-ticker.C:
			// 一次取满说明还有积压，继续搬运直到取不满
			for {
				n, err := p.Tick(context.WithoutCancel(ctx))
				if err != nil {
					p.logger.Warn("搬运延迟队列失败", clog.Err(err))
					break
				}
				if n < p.cfg.BatchSize || ctx.Err() != nil {
					break
				}
			}
		}
	}
}

// Tick 先回收超时未确认的任务，再取出一批到期任务并投递，返回取出的数量
func (p *Pump) Tick(ctx context.Context) (int, error) {
	now := p.now()
	reclaimed, err := p.queue.Reclaim(ctx, now, p.cfg.ClaimTimeout)
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		p.logger.Warn("回收超时未确认的任务", clog.Int("count", reclaimed))
	}

	members, err := p.queue.Claim(ctx, now, p.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	var errs []error
	for _, member := range members {
		if err := p.republish(ctx, member); err != nil {
			errs = append(errs, err)
		}
	}
	return len(members), errors.Join(errs...)
}

func (p *Pump) republish(ctx context.Context, member string) error {
	env, err := task.Decode([]byte(member))
	if err != nil {
		p.logger.Error("延迟队列中的成员无法解析，转入死信", clog.Err(err))
		if routeErr := p.quarantine.Route(ctx, deadletter.Letter{
			Raw:    []byte(member),
			Reason: deadletter.ReasonDeserialization,
			Cause:  err,
			Source: p.cfg.Topic,
		}); routeErr != nil {
			return routeErr
		}
		return p.ack(ctx, "", member)
	}

	msg := &kafka.Message{
		Topic:   p.cfg.Topic,
		Key:     []byte(env.TaskID),
		Value:   []byte(member),
		Headers: task.Headers(env),
	}
	if err := p.publisher.SendSync(ctx, msg); err != nil {
		due := p.now().Add(p.cfg.RepublishBackoff)
		p.logger.Warn("重新投递失败，稍后再试",
			clog.String("task_id", env.TaskID),
			clog.Time("due_at", due),
			clog.Err(err),
		)
		if reqErr := p.queue.Requeue(ctx, member, due); reqErr != nil {
			p.logger.Warn("任务无法放回延迟队列，等待超时回收",
				clog.String("task_id", env.TaskID),
				clog.Duration("claim_timeout", p.cfg.ClaimTimeout),
				clog.Err(reqErr),
			)
			return errors.Join(err, reqErr)
		}
		return nil
	}

	p.logger.Info("任务已重新投递",
		clog.String("task_id", env.TaskID),
		clog.Int("retry_count", env.RetryCount),
		clog.Int64("offset", msg.Offset),
	)
	return p.ack(ctx, env.TaskID, member)
}

// ack 失败时成员会在超时后再次投递，由去重记录吸收重复
func (p *Pump) ack(ctx context.Context, taskID, member string) error {
	if err := p.queue.Ack(ctx, member); err != nil {
		p.logger.Warn("确认延迟队列成员失败",
			clog.String("task_id", taskID),
			clog.Err(err),
		)
		return err
	}
	return nil
}
