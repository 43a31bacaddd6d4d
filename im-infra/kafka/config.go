package kafka

// Config 是 kafka 组件的配置结构体。
type Config struct {
	// Brokers 是 Kafka 集群的地址列表
	Brokers []string `json:"brokers" yaml:"brokers" mapstructure:"brokers"`
	// ClientID 客户端标识
	ClientID string `json:"clientID" yaml:"clientID" mapstructure:"clientID"`
	// ProducerConfig 生产者专用配置
	ProducerConfig *ProducerConfig `json:"producerConfig,omitempty" yaml:"producerConfig" mapstructure:"producerConfig"`
	// ConsumerConfig 消费者专用配置
	ConsumerConfig *ConsumerConfig `json:"consumerConfig,omitempty" yaml:"consumerConfig" mapstructure:"consumerConfig"`
}

// ProducerConfig 定义生产者的专用配置
type ProducerConfig struct {
	// Acks 确认级别: 0, 1, -1(all)
	Acks int `json:"acks" yaml:"acks" mapstructure:"acks"`
	// RetryMax 单条记录的最大重试次数
	RetryMax int `json:"retryMax" yaml:"retryMax" mapstructure:"retryMax"`
	// BatchSize 批处理大小（字节）
	BatchSize int `json:"batchSize" yaml:"batchSize" mapstructure:"batchSize"`
	// LingerMs 延迟发送时间(毫秒)
	LingerMs int `json:"lingerMs" yaml:"lingerMs" mapstructure:"lingerMs"`
	// DeliveryTimeoutMs 单条记录从生产到确认的最长时间(毫秒)，0 表示不限制
	DeliveryTimeoutMs int `json:"deliveryTimeoutMs" yaml:"deliveryTimeoutMs" mapstructure:"deliveryTimeoutMs"`
	// RequestTimeoutMs 请求超时时间(毫秒)
	RequestTimeoutMs int `json:"requestTimeoutMs" yaml:"requestTimeoutMs" mapstructure:"requestTimeoutMs"`
	// Compression 压缩算法: "none", "gzip", "snappy", "lz4", "zstd"
	Compression string `json:"compression" yaml:"compression" mapstructure:"compression"`
}

// ConsumerConfig 定义消费者的专用配置
type ConsumerConfig struct {
	// AutoOffsetReset 偏移量重置策略: "earliest", "latest"
	AutoOffsetReset string `json:"autoOffsetReset" yaml:"autoOffsetReset" mapstructure:"autoOffsetReset"`
	// SessionTimeoutMs 会话超时时间(毫秒)
	SessionTimeoutMs int `json:"sessionTimeoutMs" yaml:"sessionTimeoutMs" mapstructure:"sessionTimeoutMs"`
	// HeartbeatIntervalMs 心跳间隔(毫秒)
	HeartbeatIntervalMs int `json:"heartbeatIntervalMs" yaml:"heartbeatIntervalMs" mapstructure:"heartbeatIntervalMs"`
	// FetchMaxWaitMs 拉取等待的最长时间(毫秒)
	FetchMaxWaitMs int `json:"fetchMaxWaitMs" yaml:"fetchMaxWaitMs" mapstructure:"fetchMaxWaitMs"`
}

// DefaultConfig 返回默认配置。
// 生产者默认 acks=all，保证消息持久化后才视为发送成功。
func DefaultConfig() *Config {
	return &Config{
		Brokers:  []string{"localhost:9092"},
		ClientID: "taskflow",
		ProducerConfig: &ProducerConfig{
			Acks:              -1,
			RetryMax:          5,
			BatchSize:         1048576,
			LingerMs:          0,
			DeliveryTimeoutMs: 30000,
			RequestTimeoutMs:  10000,
			Compression:       "snappy",
		},
		ConsumerConfig: &ConsumerConfig{
			AutoOffsetReset:     "earliest",
			SessionTimeoutMs:    45000,
			HeartbeatIntervalMs: 3000,
			FetchMaxWaitMs:      500,
		},
	}
}

// validateConfig 校验配置
func validateConfig(cfg *Config) error {
	if cfg == nil {
		return ErrInvalidConfig("配置不能为空")
	}
	if len(cfg.Brokers) == 0 {
		return ErrInvalidConfig("brokers 不能为空")
	}
	if p := cfg.ProducerConfig; p != nil {
		switch p.Acks {
		case 0, 1, -1:
		default:
			return ErrInvalidConfig("acks 只能是 0、1 或 -1")
		}
		switch p.Compression {
		case "", "none", "gzip", "snappy", "lz4", "zstd":
		default:
			return ErrInvalidConfig("不支持的压缩算法: " + p.Compression)
		}
	}
	if c := cfg.ConsumerConfig; c != nil {
		switch c.AutoOffsetReset {
		case "", "earliest", "latest":
		default:
			return ErrInvalidConfig("不支持的 autoOffsetReset: " + c.AutoOffsetReset)
		}
	}
	return nil
}
