package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ceyewan/taskflow/api/task"
	"github.com/ceyewan/taskflow/im-infra/breaker"
	"github.com/ceyewan/taskflow/im-infra/cache"
	"github.com/ceyewan/taskflow/im-infra/clog"
	"github.com/ceyewan/taskflow/im-infra/conf"
	"github.com/ceyewan/taskflow/im-infra/kafka"
	"github.com/ceyewan/taskflow/im-infra/metrics"
	"github.com/ceyewan/taskflow/im-infra/ratelimit"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "TASKFLOW"

// RuleTaskSubmit 提交任务接口使用的限流规则名
const RuleTaskSubmit = "task_submit"

// Config 定义 task-producer 服务的完整配置结构
type Config struct {
	// 服务器配置
	Server ServerConfig `yaml:"server" json:"server" mapstructure:"server"`

	// Kafka 客户端配置
	Kafka *kafka.Config `yaml:"kafka" json:"kafka" mapstructure:"kafka"`

	// Topic 拓扑配置，与 worker 声明一致
	Topics TopicsConfig `yaml:"topics" json:"topics" mapstructure:"topics"`

	// 启动连接配置
	Startup StartupConfig `yaml:"startup" json:"startup" mapstructure:"startup"`

	// 发布熔断配置
	Breaker BreakerConfig `yaml:"breaker" json:"breaker" mapstructure:"breaker"`

	// 提交接口限流配置，启用时需要 Redis
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit" mapstructure:"rate_limit"`

	// Redis 配置
	Redis cache.Config `yaml:"redis" json:"redis" mapstructure:"redis"`

	// 监控与链路追踪配置
	Metrics *metrics.Config `yaml:"metrics" json:"metrics" mapstructure:"metrics"`

	// 日志配置
	Log clog.Config `yaml:"log" json:"log" mapstructure:"log"`
}

// ServerConfig 服务器相关配置
type ServerConfig struct {
	ServiceName     string        `yaml:"service_name" json:"service_name" mapstructure:"service_name"`
	Version         string        `yaml:"version" json:"version" mapstructure:"version"`
	HTTPAddr        string        `yaml:"http_addr" json:"http_addr" mapstructure:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// TopicsConfig 主 topic 与死信 topic
type TopicsConfig struct {
	Tasks      kafka.TopicSpec `yaml:"tasks" json:"tasks" mapstructure:"tasks"`
	DeadLetter kafka.TopicSpec `yaml:"dead_letter" json:"dead_letter" mapstructure:"dead_letter"`
}

// StartupConfig 启动时连接 Kafka 的重试策略
type StartupConfig struct {
	Attempts int           `yaml:"attempts" json:"attempts" mapstructure:"attempts"`
	Delay    time.Duration `yaml:"delay" json:"delay" mapstructure:"delay"`
}

// BreakerConfig 发布熔断配置
type BreakerConfig struct {
	Enabled bool           `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Policy  breaker.Policy `yaml:"policy" json:"policy" mapstructure:"policy"`
}

// RateLimitConfig 按客户端 IP 的限流配置
type RateLimitConfig struct {
	Enabled bool           `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Rule    ratelimit.Rule `yaml:"rule" json:"rule" mapstructure:"rule"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	m := metrics.DefaultConfig()
	m.ServiceName = "task-producer"

	return &Config{
		Server: ServerConfig{
			ServiceName:     "task-producer",
			Version:         "1.0.0",
			HTTPAddr:        ":8000",
			ShutdownTimeout: 30 * time.Second,
		},
		Kafka: kafka.DefaultConfig(),
		Topics: TopicsConfig{
			Tasks:      kafka.TopicSpec{Name: task.TopicTasks, Partitions: 3, ReplicationFactor: -1},
			DeadLetter: kafka.TopicSpec{Name: task.TopicDeadLetter, Partitions: 1, ReplicationFactor: -1},
		},
		Startup: StartupConfig{
			Attempts: 10,
			Delay:    5 * time.Second,
		},
		Breaker: BreakerConfig{
			Enabled: true,
			Policy:  breaker.DefaultPolicy(),
		},
		RateLimit: RateLimitConfig{
			Enabled: false,
			Rule:    ratelimit.Rule{Rate: 50, Capacity: 100},
		},
		Redis:   cache.DefaultConfig(),
		Metrics: m,
		Log:     clog.DefaultConfig(),
	}
}

// Load 从配置文件与环境变量加载配置
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
	if c.Server.HTTPAddr == "" {
		return errors.New("server.http_addr is required")
	}
	if c.Startup.Attempts <= 0 {
		return errors.New("startup.attempts must be positive")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Rule.Rate <= 0 || c.RateLimit.Rule.Capacity <= 0 {
			return errors.New("rate_limit.rule rate and capacity must be positive")
		}
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return c.Log.Validate()
}
