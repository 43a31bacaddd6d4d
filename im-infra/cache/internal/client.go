package internal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ceyewan/taskflow/im-infra/clog"
	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss 表示键不存在
var ErrCacheMiss = errors.New("cache: key not found")

// Client 是 Cache 接口的内部实现。
// 它包装了一个 *redis.Client，并按数据结构拆分操作。
type Client struct {
	redisClient *redis.Client
	logger      clog.Logger
	keyPrefix   string

	*stringOperations
	*zsetOperations
	*scriptingOperations
}

// NewClient 组装所有操作
func NewClient(rdb *redis.Client, logger clog.Logger, keyPrefix string) *Client {
	return &Client{
		redisClient:         rdb,
		logger:              logger,
		keyPrefix:           keyPrefix,
		stringOperations:    newStringOperations(rdb, logger, keyPrefix),
		zsetOperations:      newZSetOperations(rdb, logger, keyPrefix),
		scriptingOperations: newScriptingOperations(rdb, logger, keyPrefix),
	}
}

// Ping 检查 Redis 连接是否正常
func (c *Client) Ping(ctx context.Context) error {
	start := time.Now()
	err := c.redisClient.Ping(ctx).Err()
	if err != nil {
		c.logger.Error("redis ping failed", clog.Err(err))
		return fmt.Errorf("redis ping failed: %w", err)
	}
	c.logger.Debug("redis ping successful", clog.Duration("duration", time.Since(start)))
	return nil
}

// Close 关闭 Redis 连接
func (c *Client) Close() error {
	if err := c.redisClient.Close(); err != nil {
		c.logger.Error("failed to close redis connection", clog.Err(err))
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	c.logger.Info("redis connection closed")
	return nil
}

// formatKey 为键添加统一前缀
func formatKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + ":" + key
}

func formatKeys(prefix string, keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = formatKey(prefix, k)
	}
	return out
}
