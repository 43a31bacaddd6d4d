package internal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ceyewan/taskflow/im-infra/clog"
	"github.com/redis/go-redis/v9"
)

// stringOperations 实现字符串相关操作
type stringOperations struct {
	client    *redis.Client
	logger    clog.Logger
	keyPrefix string
}

func newStringOperations(client *redis.Client, logger clog.Logger, keyPrefix string) *stringOperations {
	return &stringOperations{client: client, logger: logger, keyPrefix: keyPrefix}
}

// Get 获取字符串值，键不存在时返回 ErrCacheMiss
func (s *stringOperations) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, formatKey(s.keyPrefix, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	if err != nil {
		s.logger.Error("GET 失败", clog.String("key", key), clog.Err(err))
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return val, nil
}

// Set 设置字符串值
func (s *stringOperations) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := s.client.Set(ctx, formatKey(s.keyPrefix, key), value, expiration).Err(); err != nil {
		s.logger.Error("SET 失败", clog.String("key", key), clog.Err(err))
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// SetNX 仅在键不存在时设置，返回是否设置成功
func (s *stringOperations) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, formatKey(s.keyPrefix, key), value, expiration).Result()
	if err != nil {
		s.logger.Error("SETNX 失败", clog.String("key", key), clog.Err(err))
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}

// Expire 设置过期时间
func (s *stringOperations) Expire(ctx context.Context, key string, expiration time.Duration) error {
	if err := s.client.Expire(ctx, formatKey(s.keyPrefix, key), expiration).Err(); err != nil {
		return fmt.Errorf("expire %s: %w", key, err)
	}
	return nil
}

// TTL 获取剩余过期时间
func (s *stringOperations) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.TTL(ctx, formatKey(s.keyPrefix, key)).Result()
	if err != nil {
		return 0, fmt.Errorf("ttl %s: %w", key, err)
	}
	return ttl, nil
}

// Del 删除一个或多个键
func (s *stringOperations) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, formatKeys(s.keyPrefix, keys)...).Err(); err != nil {
		s.logger.Error("DEL 失败", clog.Strings("keys", keys), clog.Err(err))
		return fmt.Errorf("del: %w", err)
	}
	return nil
}

// Exists 返回存在的键数量
func (s *stringOperations) Exists(ctx context.Context, keys ...string) (int64, error) {
	n, err := s.client.Exists(ctx, formatKeys(s.keyPrefix, keys)...).Result()
	if err != nil {
		s.logger.Error("EXISTS 失败", clog.Strings("keys", keys), clog.Err(err))
		return 0, fmt.Errorf("exists: %w", err)
	}
	return n, nil
}
