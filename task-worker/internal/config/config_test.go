package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "task_queue", cfg.Topics.Tasks.Name)
	assert.Equal(t, "dead_letter_queue", cfg.Topics.DeadLetter.Name)
	assert.Equal(t, "task-workers", cfg.Topics.ConsumerGroup)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 2.0, cfg.Retry.BaseDelay)
	assert.Equal(t, 24*time.Hour, cfg.Dedup.TTL)
	assert.Equal(t, time.Minute, cfg.Retry.ClaimTimeout)
	assert.Equal(t, 10, cfg.Startup.Attempts)
	assert.Equal(t, 5*time.Second, cfg.Startup.Delay)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
kafka:
  brokers: ["kafka:9092"]
retry:
  max_retries: 5
  base_delay: 3
  max_delay: 1m
redis:
  addr: redis:6379
`), 0o644))
	t.Setenv("TASKFLOW_DEDUP_TTL", "2h")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"kafka:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, 3.0, cfg.Retry.BaseDelay)
	assert.Equal(t, time.Minute, cfg.Retry.MaxDelay)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 2*time.Hour, cfg.Dedup.TTL)
	// 文件中未出现的字段保留默认值
	assert.Equal(t, "task:retry:delayed", cfg.Retry.QueueKey)
	assert.Equal(t, "snappy", cfg.Kafka.ProducerConfig.Compression)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no brokers", func(c *Config) { c.Kafka.Brokers = nil }},
		{"same topics", func(c *Config) { c.Topics.DeadLetter.Name = c.Topics.Tasks.Name }},
		{"no group", func(c *Config) { c.Topics.ConsumerGroup = "" }},
		{"negative retries", func(c *Config) { c.Retry.MaxRetries = -1 }},
		{"base below one", func(c *Config) { c.Retry.BaseDelay = 0.5 }},
		{"zero batch", func(c *Config) { c.Retry.BatchSize = 0 }},
		{"zero claim timeout", func(c *Config) { c.Retry.ClaimTimeout = 0 }},
		{"zero ttl", func(c *Config) { c.Dedup.TTL = 0 }},
		{"zero attempts", func(c *Config) { c.Startup.Attempts = 0 }},
		{"bad redis", func(c *Config) { c.Redis.Addr = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
