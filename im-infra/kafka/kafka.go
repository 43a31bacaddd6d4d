// Package kafka 基于 franz-go 封装生产、逐条消费与 topic 管理。
package kafka

import (
	"context"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Message 是在 Kafka 中传递的消息
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string][]byte

	// 以下字段仅在消费或发送成功后有效
	Partition int32
	Offset    int64

	record *kgo.Record
}

// Header 返回指定消息头的字符串值
func (m *Message) Header(key string) string {
	if m == nil || m.Headers == nil {
		return ""
	}
	return string(m.Headers[key])
}

// Producer 同步生产者
type Producer interface {
	// SendSync 同步发送消息，返回时消息已按配置的 acks 级别被确认
	SendSync(ctx context.Context, msg *Message) error
	// Ping 检查与集群的连通性
	Ping(ctx context.Context) error
	Close()
}

// Consumer 逐条拉取、手动提交的消费者。
// 同一时刻最多只有一条未提交的消息，处理完成后调用 Commit 才会继续拉取。
type Consumer interface {
	// Poll 阻塞直到拉取到一条消息或 ctx 结束
	Poll(ctx context.Context) (*Message, error)
	// Commit 提交消息位点并允许消费组重平衡
	Commit(ctx context.Context, msg *Message) error
	// Release 放弃当前消息但不提交位点
	Release()
	// Ping 检查与集群的连通性
	Ping(ctx context.Context) error
	Close()
}

func toRecordHeaders(headers map[string][]byte) []kgo.RecordHeader {
	if len(headers) == 0 {
		return nil
	}
	out := make([]kgo.RecordHeader, 0, len(headers))
	for k, v := range headers {
		out = append(out, kgo.RecordHeader{Key: k, Value: v})
	}
	return out
}

func fromRecordHeaders(headers []kgo.RecordHeader) map[string][]byte {
	out := make(map[string][]byte, len(headers))
	for _, h := range headers {
		out[h.Key] = h.Value
	}
	return out
}

func fromRecord(r *kgo.Record) *Message {
	return &Message{
		Topic:     r.Topic,
		Key:       r.Key,
		Value:     r.Value,
		Headers:   fromRecordHeaders(r.Headers),
		Partition: r.Partition,
		Offset:    r.Offset,
		record:    r,
	}
}
