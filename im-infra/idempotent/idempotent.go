// Package idempotent 提供基于 Redis SETNX/EXISTS 的幂等标记。
package idempotent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ceyewan/taskflow/im-infra/cache"
	"github.com/ceyewan/taskflow/im-infra/clog"
)

// ErrEmptyKey 键为空
var ErrEmptyKey = errors.New("idempotent: key cannot be empty")

// Idempotent 定义幂等操作的核心接口。
type Idempotent interface {
	// Check 检查指定键是否已经存在（是否已执行过）
	Check(ctx context.Context, key string) (bool, error)
	// Set 设置幂等标记，如果键已存在则返回 false 且不会改写原有标记与过期时间
	Set(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Option 定制 Idempotent 实例
type Option func(*client)

// WithLogger 注入日志器
func WithLogger(logger clog.Logger) Option {
	return func(c *client) {
		c.logger = logger
	}
}

// client 是 Idempotent 接口的实现，包装一个 cache.StringOperations
type client struct {
	cache  cache.StringOperations
	config Config
	logger clog.Logger
}

// New 基于已有的缓存连接创建幂等客户端
//
// 示例：
//
//	c, _ := cache.New(ctx, cache.DefaultConfig())
//	idem, err := idempotent.New(c, idempotent.Config{KeyPrefix: "order", DefaultTTL: time.Hour})
//	ok, _ := idem.Set(ctx, "123", 0)
func New(store cache.StringOperations, cfg Config, opts ...Option) (Idempotent, error) {
	if store == nil {
		return nil, errors.New("idempotent: cache cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid idempotent config: %w", err)
	}
	if cfg.MarkerValue == "" {
		cfg.MarkerValue = DefaultConfig().MarkerValue
	}

	c := &client{
		cache:  store,
		config: cfg,
		logger: clog.Module("idempotent"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *client) Check(ctx context.Context, key string) (bool, error) {
	formattedKey, err := c.formatKey(key)
	if err != nil {
		return false, err
	}

	existsCount, err := c.cache.Exists(ctx, formattedKey)
	if err != nil {
		c.logger.Error("检查键存在性失败", clog.String("key", formattedKey), clog.Err(err))
		return false, fmt.Errorf("failed to check key existence: %w", err)
	}

	exists := existsCount > 0
	c.logger.Debug("键存在性检查完成", clog.String("key", formattedKey), clog.Bool("exists", exists))
	return exists, nil
}

func (c *client) Set(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	formattedKey, err := c.formatKey(key)
	if err != nil {
		return false, err
	}
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}

	success, err := c.cache.SetNX(ctx, formattedKey, c.config.MarkerValue, ttl)
	if err != nil {
		c.logger.Error("设置幂等标记失败", clog.String("key", formattedKey), clog.Err(err))
		return false, fmt.Errorf("failed to set idempotent key: %w", err)
	}

	c.logger.Debug("幂等标记设置完成",
		clog.String("key", formattedKey),
		clog.Bool("success", success),
		clog.Duration("ttl", ttl),
	)
	return success, nil
}

func (c *client) formatKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", ErrEmptyKey
	}
	return c.config.KeyPrefix + ":" + key, nil
}
