package cache

import (
	"context"
	"time"

	"github.com/ceyewan/taskflow/im-infra/cache/internal"
)

// ZMember 有序集合成员
type ZMember = internal.ZMember

// ErrCacheMiss 表示键不存在
var ErrCacheMiss = internal.ErrCacheMiss

// Cache 定义了缓存服务的核心接口，整合了各数据结构的操作。
// 面向接口设计，便于测试和替换。
type Cache interface {
	StringOperations
	ZSetOperations
	ScriptingOperations

	// Ping 检查与 Redis 服务器的连接是否正常。
	Ping(ctx context.Context) error
	// Close 关闭与 Redis 服务器的连接。
	Close() error
}

// StringOperations 定义了所有与 Redis 字符串相关的操作。
type StringOperations interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	Expire(ctx context.Context, key string, expiration time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, keys ...string) (int64, error)
}

// ZSetOperations 定义了所有与 Redis 有序集合相关的操作。
type ZSetOperations interface {
	ZAdd(ctx context.Context, key string, members ...*ZMember) error
	ZRem(ctx context.Context, key string, members ...interface{}) error
	ZCard(ctx context.Context, key string) (int64, error)
	// ZRangeByScore 按分数区间查询成员，min/max 支持 "-inf"/"+inf"，count <= 0 表示不限制数量
	ZRangeByScore(ctx context.Context, key, min, max string, count int64) ([]*ZMember, error)
}

// ScriptingOperations 定义了与 Redis Lua 脚本相关的操作。
type ScriptingOperations interface {
	// ScriptLoad 将 Lua 脚本加载到 Redis 中并返回其 SHA1 哈希值。
	ScriptLoad(ctx context.Context, script string) (string, error)
	// EvalSha 执行已加载的 Lua 脚本，keys 会自动加上前缀。
	EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) (interface{}, error)
	// RunScript 执行脚本，优先使用 EVALSHA，脚本未加载时自动回退到 EVAL。
	RunScript(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
}
