package kafka

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ceyewan/taskflow/im-infra/clog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

func TestValidateConfig(t *testing.T) {
	require.NoError(t, validateConfig(DefaultConfig()))

	assert.True(t, IsConfigError(validateConfig(nil)))
	assert.True(t, IsConfigError(validateConfig(&Config{})))

	cfg := DefaultConfig()
	cfg.ProducerConfig.Acks = 2
	assert.True(t, IsConfigError(validateConfig(cfg)))

	cfg = DefaultConfig()
	cfg.ProducerConfig.Compression = "brotli"
	assert.True(t, IsConfigError(validateConfig(cfg)))

	cfg = DefaultConfig()
	cfg.ConsumerConfig.AutoOffsetReset = "middle"
	assert.True(t, IsConfigError(validateConfig(cfg)))
}

func TestBuildOpts(t *testing.T) {
	for _, c := range []string{"", "gzip", "snappy", "lz4", "zstd"} {
		cfg := DefaultConfig().ProducerConfig
		cfg.Compression = c
		assert.NotEmpty(t, buildProducerOpts(cfg))
	}

	group := buildConsumerOpts(DefaultConfig().ConsumerConfig, "g")
	direct := buildConsumerOpts(DefaultConfig().ConsumerConfig, "")
	assert.Greater(t, len(group), len(direct), "消费组模式需要额外的提交与重平衡选项")
}

func TestHeaderConversion(t *testing.T) {
	headers := map[string][]byte{"content-type": []byte("application/json"), "message-id": []byte("t-1")}
	back := fromRecordHeaders(toRecordHeaders(headers))
	assert.Equal(t, headers, back)
	assert.Nil(t, toRecordHeaders(nil))

	msg := fromRecord(&kgo.Record{
		Topic:     "task_queue",
		Key:       []byte("t-1"),
		Value:     []byte("{}"),
		Headers:   toRecordHeaders(headers),
		Partition: 2,
		Offset:    42,
	})
	assert.Equal(t, "t-1", msg.Header("message-id"))
	assert.Equal(t, "", msg.Header("missing"))
	assert.EqualValues(t, 42, msg.Offset)
	assert.NotNil(t, msg.record)

	var nilMsg *Message
	assert.Equal(t, "", nilMsg.Header("x"))
}

func TestKafkaError(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := ErrProducer("发送消息失败", cause)

	assert.True(t, IsProducerError(err))
	assert.False(t, IsConsumerError(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), ErrCodeProducer)

	assert.True(t, IsConnectionError(ErrConnection("x", cause)))
	assert.True(t, IsAdminError(ErrAdmin("x", nil)))
	assert.Equal(t, "[CONFIG_ERROR] bad", ErrInvalidConfig("bad").Error())
}

func TestConstructorsRejectBadConfig(t *testing.T) {
	ctx := context.Background()

	_, err := NewProducer(ctx, &Config{Brokers: []string{"localhost:9092"}})
	assert.True(t, IsConfigError(err))

	_, err = NewConsumer(ctx, DefaultConfig(), "g", nil)
	assert.True(t, IsConfigError(err))

	_, err = NewTopicManager(&Config{})
	assert.True(t, IsConfigError(err))
}

// TestProduceConsumeRoundTrip 需要真实的 Kafka，通过 KAFKA_BROKERS 指定
func TestProduceConsumeRoundTrip(t *testing.T) {
	brokers := os.Getenv("KAFKA_BROKERS")
	if testing.Short() || brokers == "" {
		t.Skip("跳过集成测试: 未设置 KAFKA_BROKERS")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := DefaultConfig()
	cfg.Brokers = strings.Split(brokers, ",")
	topic := "taskflow-test-" + time.Now().Format("150405.000")

	tm, err := NewTopicManager(cfg, WithLogger(clog.NewNop()))
	require.NoError(t, err)
	defer tm.Close()
	spec := TopicSpec{Name: topic, Partitions: 1, ReplicationFactor: 1}
	require.NoError(t, tm.EnsureTopics(ctx, spec))
	require.NoError(t, tm.EnsureTopics(ctx, spec), "重复声明应当幂等")

	p, err := NewProducer(ctx, cfg, WithLogger(clog.NewNop()))
	require.NoError(t, err)
	defer p.Close()
	require.NoError(t, p.Ping(ctx))

	require.NoError(t, p.SendSync(clog.WithTraceID(ctx, "trace-1"), &Message{
		Topic:   topic,
		Key:     []byte("k1"),
		Value:   []byte(`{"hello":"world"}`),
		Headers: map[string][]byte{"message-id": []byte("k1")},
	}))

	c, err := NewConsumer(ctx, cfg, topic+"-group", []string{topic}, WithLogger(clog.NewNop()))
	require.NoError(t, err)
	defer c.Close()

	msg, err := c.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "k1", string(msg.Key))
	assert.Equal(t, "k1", msg.Header("message-id"))
	assert.Equal(t, "trace-1", msg.Header(HeaderTraceID))
	require.NoError(t, c.Commit(ctx, msg))
}
