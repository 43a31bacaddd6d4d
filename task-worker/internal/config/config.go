package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ceyewan/taskflow/api/task"
	"github.com/ceyewan/taskflow/im-infra/cache"
	"github.com/ceyewan/taskflow/im-infra/clog"
	"github.com/ceyewan/taskflow/im-infra/conf"
	"github.com/ceyewan/taskflow/im-infra/kafka"
	"github.com/ceyewan/taskflow/im-infra/metrics"
)

// EnvPrefix 环境变量前缀，例如 TASKFLOW_RETRY_MAX_RETRIES=5
const EnvPrefix = "TASKFLOW"

// Config 定义 task-worker 服务的完整配置结构
type Config struct {
	// 服务器配置
	Server ServerConfig `yaml:"server" json:"server" mapstructure:"server"`

	// Kafka 客户端配置
	Kafka *kafka.Config `yaml:"kafka" json:"kafka" mapstructure:"kafka"`

	// Topic 拓扑配置
	Topics TopicsConfig `yaml:"topics" json:"topics" mapstructure:"topics"`

	// Redis 配置，去重标记与延迟队列共用
	Redis cache.Config `yaml:"redis" json:"redis" mapstructure:"redis"`

	// 去重配置
	Dedup DedupConfig `yaml:"dedup" json:"dedup" mapstructure:"dedup"`

	// 重试配置
	Retry RetryConfig `yaml:"retry" json:"retry" mapstructure:"retry"`

	// 启动连接配置
	Startup StartupConfig `yaml:"startup" json:"startup" mapstructure:"startup"`

	// 监控与链路追踪配置
	Metrics *metrics.Config `yaml:"metrics" json:"metrics" mapstructure:"metrics"`

	// 日志配置
	Log clog.Config `yaml:"log" json:"log" mapstructure:"log"`
}

// ServerConfig 服务器相关配置
type ServerConfig struct {
	// 服务名称
	ServiceName string `yaml:"service_name" json:"service_name" mapstructure:"service_name"`

	// 服务版本
	Version string `yaml:"version" json:"version" mapstructure:"version"`

	// 健康检查与 /metrics 监听地址
	HTTPAddr string `yaml:"http_addr" json:"http_addr" mapstructure:"http_addr"`

	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// TopicsConfig 主 topic、死信 topic 与消费组
type TopicsConfig struct {
	Tasks         kafka.TopicSpec `yaml:"tasks" json:"tasks" mapstructure:"tasks"`
	DeadLetter    kafka.TopicSpec `yaml:"dead_letter" json:"dead_letter" mapstructure:"dead_letter"`
	ConsumerGroup string          `yaml:"consumer_group" json:"consumer_group" mapstructure:"consumer_group"`
}

// DedupConfig 去重记录配置
type DedupConfig struct {
	// 键前缀，最终键为 {KeyPrefix}:{task_id}
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix" mapstructure:"key_prefix"`

	// 去重记录过期时间
	TTL time.Duration `yaml:"ttl" json:"ttl" mapstructure:"ttl"`
}

// RetryConfig 重试与延迟队列配置
type RetryConfig struct {
	// 消息未指定 max_retries 时的默认重试次数
	MaxRetries int `yaml:"max_retries" json:"max_retries" mapstructure:"max_retries"`

	// 退避底数，第 n 次重试延迟 BaseDelay^n 秒
	BaseDelay float64 `yaml:"base_delay" json:"base_delay" mapstructure:"base_delay"`

	// 最大延迟，0 表示不限制
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay" mapstructure:"max_delay"`

	// 延迟队列的 Redis 有序集合键
	QueueKey string `yaml:"queue_key" json:"queue_key" mapstructure:"queue_key"`

	// 延迟队列轮询间隔
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval" mapstructure:"poll_interval"`

	// 每次最多取出的到期任务数
	BatchSize int `yaml:"batch_size" json:"batch_size" mapstructure:"batch_size"`

	// 重新投递失败后再次尝试的间隔
	RepublishBackoff time.Duration `yaml:"republish_backoff" json:"republish_backoff" mapstructure:"republish_backoff"`

	// 取出后超过该时长仍未确认投递的任务会被放回延迟队列
	ClaimTimeout time.Duration `yaml:"claim_timeout" json:"claim_timeout" mapstructure:"claim_timeout"`
}

// StartupConfig 启动时连接依赖的重试策略
type StartupConfig struct {
	Attempts int           `yaml:"attempts" json:"attempts" mapstructure:"attempts"`
	Delay    time.Duration `yaml:"delay" json:"delay" mapstructure:"delay"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	m := metrics.DefaultConfig()
	m.ServiceName = "task-worker"

	return &Config{
		Server: ServerConfig{
			ServiceName:     "task-worker",
			Version:         "1.0.0",
			HTTPAddr:        ":8081",
			ShutdownTimeout: 30 * time.Second,
		},
		Kafka: kafka.DefaultConfig(),
		Topics: TopicsConfig{
			Tasks:         kafka.TopicSpec{Name: task.TopicTasks, Partitions: 3, ReplicationFactor: -1},
			DeadLetter:    kafka.TopicSpec{Name: task.TopicDeadLetter, Partitions: 1, ReplicationFactor: -1},
			ConsumerGroup: task.ConsumerGroup,
		},
		Redis: cache.DefaultConfig(),
		Dedup: DedupConfig{
			KeyPrefix: "task:processed",
			TTL:       24 * time.Hour,
		},
		Retry: RetryConfig{
			MaxRetries:       3,
			BaseDelay:        2.0,
			QueueKey:         "task:retry:delayed",
			PollInterval:     200 * time.Millisecond,
			BatchSize:        100,
			RepublishBackoff: time.Second,
			ClaimTimeout:     time.Minute,
		},
		Startup: StartupConfig{
			Attempts: 10,
			Delay:    5 * time.Second,
		},
		Metrics: m,
		Log:     clog.DefaultConfig(),
	}
}

// Load 从配置文件与环境变量加载配置，未出现的字段保留默认值
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := conf.Load(path, EnvPrefix, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 验证配置是否有效
func (c *Config) Validate() error {
	if c.Kafka == nil || len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required")
	}
	if c.Topics.Tasks.Name == "" || c.Topics.DeadLetter.Name == "" {
		return errors.New("topics.tasks.name and topics.dead_letter.name are required")
	}
	if c.Topics.Tasks.Name == c.Topics.DeadLetter.Name {
		return errors.New("dead letter topic must differ from task topic")
	}
	if c.Topics.ConsumerGroup == "" {
		return errors.New("topics.consumer_group is required")
	}
	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if c.Dedup.KeyPrefix == "" || c.Dedup.TTL <= 0 {
		return errors.New("dedup.key_prefix and a positive dedup.ttl are required")
	}

	r := c.Retry
	switch {
	case r.MaxRetries < 0:
		return errors.New("retry.max_retries must be >= 0")
	case r.BaseDelay < 1:
		return errors.New("retry.base_delay must be >= 1")
	case r.MaxDelay < 0:
		return errors.New("retry.max_delay must be >= 0")
	case r.QueueKey == "":
		return errors.New("retry.queue_key is required")
	case r.PollInterval <= 0 || r.RepublishBackoff <= 0:
		return errors.New("retry.poll_interval and retry.republish_backoff must be positive")
	case r.BatchSize <= 0:
		return errors.New("retry.batch_size must be positive")
	case r.ClaimTimeout <= 0:
		return errors.New("retry.claim_timeout must be positive")
	}

	if c.Startup.Attempts <= 0 {
		return errors.New("startup.attempts must be positive")
	}
	if c.Startup.Delay < 0 {
		return errors.New("startup.delay must be >= 0")
	}
	return c.Log.Validate()
}
