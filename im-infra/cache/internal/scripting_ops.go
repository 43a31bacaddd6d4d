package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/ceyewan/taskflow/im-infra/clog"
	"github.com/redis/go-redis/v9"
)

// scriptingOperations 实现了 ScriptingOperations 接口
type scriptingOperations struct {
	client    *redis.Client
	logger    clog.Logger
	keyPrefix string

	// 按脚本源码缓存 *redis.Script
	scripts sync.Map
}

func newScriptingOperations(client *redis.Client, logger clog.Logger, keyPrefix string) *scriptingOperations {
	return &scriptingOperations{client: client, logger: logger, keyPrefix: keyPrefix}
}

// ScriptLoad 将 Lua 脚本加载到 Redis 中并返回其 SHA1 哈希值
func (s *scriptingOperations) ScriptLoad(ctx context.Context, script string) (string, error) {
	sha1, err := s.client.ScriptLoad(ctx, script).Result()
	if err != nil {
		s.logger.Error("加载 Lua 脚本失败", clog.Err(err))
		return "", fmt.Errorf("failed to load script: %w", err)
	}
	return sha1, nil
}

// EvalSha 执行已加载的 Lua 脚本
func (s *scriptingOperations) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) (interface{}, error) {
	result, err := s.client.EvalSha(ctx, sha1, formatKeys(s.keyPrefix, keys), args...).Result()
	if err != nil && err != redis.Nil {
		s.logger.Error("执行 Lua 脚本失败",
			clog.String("sha1", sha1),
			clog.Strings("keys", keys),
			clog.Err(err))
		return nil, fmt.Errorf("failed to eval script: %w", err)
	}
	return result, nil
}

// RunScript 执行脚本，脚本未加载时由 go-redis 自动回退到 EVAL
func (s *scriptingOperations) RunScript(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	cached, _ := s.scripts.LoadOrStore(script, redis.NewScript(script))
	result, err := cached.(*redis.Script).Run(ctx, s.client, formatKeys(s.keyPrefix, keys), args...).Result()
	if err != nil && err != redis.Nil {
		s.logger.Error("执行 Lua 脚本失败", clog.Strings("keys", keys), clog.Err(err))
		return nil, fmt.Errorf("failed to run script: %w", err)
	}
	return result, nil
}
