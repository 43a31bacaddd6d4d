package kafka

import (
	"context"
	"time"

	"github.com/ceyewan/taskflow/im-infra/clog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// HeaderTraceID 自动注入的链路追踪消息头
const HeaderTraceID = "X-Trace-ID"

// producer 实现 Producer 接口
type producer struct {
	client *kgo.Client
	logger clog.Logger
}

// NewProducer 创建一个新的同步生产者实例。
func NewProducer(ctx context.Context, config *Config, opts ...Option) (Producer, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	if config.ProducerConfig == nil {
		return nil, ErrInvalidConfig("生产者配置不能为空")
	}
	o := applyOptions("kafka-producer", opts)

	kgoOpts := buildProducerOpts(config.ProducerConfig)
	kgoOpts = append(kgoOpts, kgo.SeedBrokers(config.Brokers...))
	if config.ClientID != "" {
		kgoOpts = append(kgoOpts, kgo.ClientID(config.ClientID))
	}

	client, err := kgo.NewClient(kgoOpts...)
	if err != nil {
		return nil, ErrConnection("创建 Kafka 客户端失败", err)
	}

	o.logger.Info("Kafka 生产者初始化成功",
		clog.Strings("brokers", config.Brokers),
		clog.Int("acks", config.ProducerConfig.Acks),
		clog.Int("retry_max", config.ProducerConfig.RetryMax),
		clog.String("compression", config.ProducerConfig.Compression),
	)

	return &producer{client: client, logger: o.logger}, nil
}

// buildProducerOpts 构建生产者选项
func buildProducerOpts(cfg *ProducerConfig) []kgo.Opt {
	opts := []kgo.Opt{
		kgo.RecordRetries(cfg.RetryMax),
		kgo.ProducerLinger(time.Duration(cfg.LingerMs) * time.Millisecond),
	}
	if cfg.BatchSize > 0 {
		opts = append(opts, kgo.ProducerBatchMaxBytes(int32(cfg.BatchSize)))
	}
	if cfg.DeliveryTimeoutMs > 0 {
		opts = append(opts, kgo.RecordDeliveryTimeout(time.Duration(cfg.DeliveryTimeoutMs)*time.Millisecond))
	}
	if cfg.RequestTimeoutMs > 0 {
		opts = append(opts, kgo.ProduceRequestTimeout(time.Duration(cfg.RequestTimeoutMs)*time.Millisecond))
	}

	// 设置确认级别，幂等写入要求 acks=all
	switch cfg.Acks {
	case 0:
		opts = append(opts, kgo.RequiredAcks(kgo.NoAck()), kgo.DisableIdempotentWrite())
	case 1:
		opts = append(opts, kgo.RequiredAcks(kgo.LeaderAck()), kgo.DisableIdempotentWrite())
	default:
		opts = append(opts, kgo.RequiredAcks(kgo.AllISRAcks()))
	}

	// 设置压缩
	switch cfg.Compression {
	case "gzip":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.GzipCompression()))
	case "snappy":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.SnappyCompression()))
	case "lz4":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.Lz4Compression()))
	case "zstd":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.ZstdCompression()))
	default:
		opts = append(opts, kgo.ProducerBatchCompression(kgo.NoCompression()))
	}

	// 指数退避，上限 5 秒
	opts = append(opts, kgo.RetryBackoffFn(func(tries int) time.Duration {
		backoff := time.Duration(tries*tries) * 100 * time.Millisecond
		if backoff > 5*time.Second {
			backoff = 5 * time.Second
		}
		return backoff
	}))

	return opts
}

// SendSync 同步发送消息。
func (p *producer) SendSync(ctx context.Context, msg *Message) error {
	if msg == nil {
		return ErrProducer("消息不能为空", nil)
	}
	if msg.Topic == "" {
		return ErrProducer("消息主题不能为空", nil)
	}
	if err := ctx.Err(); err != nil {
		return ErrProducer("上下文已结束", err)
	}

	if msg.Headers == nil {
		msg.Headers = make(map[string][]byte)
	}
	if traceID, ok := clog.TraceID(ctx); ok {
		msg.Headers[HeaderTraceID] = []byte(traceID)
	}

	record := &kgo.Record{
		Topic:   msg.Topic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: toRecordHeaders(msg.Headers),
	}

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		p.logger.Error("发送消息失败",
			clog.String("topic", msg.Topic),
			clog.String("key", string(msg.Key)),
			clog.Int("value_size", len(msg.Value)),
			clog.Err(err),
		)
		return ErrProducer("发送消息失败", err)
	}

	msg.Partition = record.Partition
	msg.Offset = record.Offset
	p.logger.Debug("发送消息成功",
		clog.String("topic", msg.Topic),
		clog.String("key", string(msg.Key)),
		clog.Int32("partition", record.Partition),
		clog.Int64("offset", record.Offset),
	)
	return nil
}

func (p *producer) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx); err != nil {
		return ErrConnection("无法连接 Kafka 集群", err)
	}
	return nil
}

func (p *producer) Close() {
	p.client.Close()
	p.logger.Info("Kafka 生产者已关闭")
}
