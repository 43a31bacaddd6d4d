package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/ceyewan/taskflow/im-infra/clog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// consumer 实现 Consumer 接口
type consumer struct {
	client  *kgo.Client
	groupID string
	logger  clog.Logger
}

// NewConsumer 创建一个逐条消费的消费者。
// groupID 非空时加入消费组并在 Commit 时提交位点；为空时直接按分区读取，Commit 不做任何事，适用于只读工具。
func NewConsumer(ctx context.Context, config *Config, groupID string, topics []string, opts ...Option) (Consumer, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	if config.ConsumerConfig == nil {
		return nil, ErrInvalidConfig("消费者配置不能为空")
	}
	if len(topics) == 0 {
		return nil, ErrInvalidConfig("订阅主题列表不能为空")
	}
	o := applyOptions("kafka-consumer", opts)

	kgoOpts := buildConsumerOpts(config.ConsumerConfig, groupID)
	kgoOpts = append(kgoOpts, kgo.SeedBrokers(config.Brokers...), kgo.ConsumeTopics(topics...))
	if config.ClientID != "" {
		kgoOpts = append(kgoOpts, kgo.ClientID(config.ClientID))
	}

	client, err := kgo.NewClient(kgoOpts...)
	if err != nil {
		return nil, ErrConnection("创建 Kafka 客户端失败", err)
	}

	o.logger.Info("Kafka 消费者初始化成功",
		clog.Strings("brokers", config.Brokers),
		clog.Strings("topics", topics),
		clog.String("group_id", groupID),
		clog.String("auto_offset_reset", config.ConsumerConfig.AutoOffsetReset),
	)

	return &consumer{client: client, groupID: groupID, logger: o.logger}, nil
}

// buildConsumerOpts 构建消费者选项
func buildConsumerOpts(cfg *ConsumerConfig, groupID string) []kgo.Opt {
	var opts []kgo.Opt

	// 设置偏移量重置策略
	switch cfg.AutoOffsetReset {
	case "latest":
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()))
	default:
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	}

	if cfg.FetchMaxWaitMs > 0 {
		opts = append(opts, kgo.FetchMaxWait(time.Duration(cfg.FetchMaxWaitMs)*time.Millisecond))
	}

	if groupID == "" {
		return opts
	}

	// 手动提交，并在处理期间阻止重平衡
	opts = append(opts,
		kgo.ConsumerGroup(groupID),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
	)
	if cfg.SessionTimeoutMs > 0 {
		opts = append(opts, kgo.SessionTimeout(time.Duration(cfg.SessionTimeoutMs)*time.Millisecond))
	}
	if cfg.HeartbeatIntervalMs > 0 {
		opts = append(opts, kgo.HeartbeatInterval(time.Duration(cfg.HeartbeatIntervalMs)*time.Millisecond))
	}
	return opts
}

// Poll 拉取下一条消息
func (c *consumer) Poll(ctx context.Context) (*Message, error) {
	for {
		fetches := c.client.PollRecords(ctx, 1)
		if fetches.IsClientClosed() {
			return nil, ErrClientClosed
		}
		if err := ctx.Err(); err != nil {
			c.client.AllowRebalance()
			return nil, err
		}

		var fetchErr error
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			c.logger.Warn("拉取消息出错",
				clog.String("topic", topic),
				clog.Int32("partition", partition),
				clog.Err(err),
			)
			fetchErr = err
		})

		records := fetches.Records()
		if len(records) == 0 {
			c.client.AllowRebalance()
			if fetchErr != nil {
				return nil, ErrConsumer("拉取消息失败", fetchErr)
			}
			continue
		}
		return fromRecord(records[0]), nil
	}
}

// Commit 提交位点
func (c *consumer) Commit(ctx context.Context, msg *Message) error {
	defer c.client.AllowRebalance()

	if c.groupID == "" || msg == nil || msg.record == nil {
		return nil
	}
	if err := c.client.CommitRecords(ctx, msg.record); err != nil {
		c.logger.Error("提交位点失败",
			clog.String("topic", msg.Topic),
			clog.Int32("partition", msg.Partition),
			clog.Int64("offset", msg.Offset),
			clog.Err(err),
		)
		return ErrConsumer("提交位点失败", err)
	}
	return nil
}

func (c *consumer) Release() {
	c.client.AllowRebalance()
}

func (c *consumer) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx); err != nil {
		return ErrConnection("无法连接 Kafka 集群", err)
	}
	return nil
}

func (c *consumer) Close() {
	c.client.Close()
	c.logger.Info("Kafka 消费者已关闭", clog.String("group_id", c.groupID))
}
