package cache

import (
	"context"
	"fmt"

	"github.com/ceyewan/taskflow/im-infra/cache/internal"
	"github.com/ceyewan/taskflow/im-infra/clog"
	"github.com/redis/go-redis/v9"
)

// New 根据提供的配置创建一个新的 Cache 实例，并立即 Ping 验证连接。
func New(ctx context.Context, cfg Config, opts ...Option) (Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache config: %w", err)
	}

	options := &Options{Logger: clog.Module("cache")}
	for _, opt := range opts {
		opt(options)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolTimeout:     cfg.PoolTimeout,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: cfg.MinRetryBackoff,
		MaxRetryBackoff: cfg.MaxRetryBackoff,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		options.Logger.Error("Redis 连接测试失败", clog.String("addr", cfg.Addr), clog.Err(err))
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	options.Logger.Info("Cache 实例创建成功",
		clog.String("addr", cfg.Addr),
		clog.Int("db", cfg.DB),
		clog.Int("pool_size", cfg.PoolSize),
	)
	return internal.NewClient(rdb, options.Logger, cfg.KeyPrefix), nil
}

// NewWithClient 使用现有的 Redis 客户端创建 Cache 实例，不做连接检查
func NewWithClient(rdb *redis.Client, keyPrefix string, opts ...Option) Cache {
	options := &Options{Logger: clog.Module("cache")}
	for _, opt := range opts {
		opt(options)
	}
	return internal.NewClient(rdb, options.Logger, keyPrefix)
}
