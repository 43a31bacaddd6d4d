// Package ratelimit 提供了一个基于 Redis 的分布式限流组件。
//
// # 核心特性
//   - 基于令牌桶算法，支持平滑和突发流量。
//   - 通过 Redis Lua 脚本原子地扣减令牌，多个实例共享同一个桶。
//   - 规则在创建时静态注入，未定义的规则默认放行。
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ceyewan/taskflow/im-infra/cache"
	"github.com/ceyewan/taskflow/im-infra/clog"
)

// tokenBucketScript 令牌桶算法的 Lua 脚本
// Keys:
// 1. KEYS[1] - 令牌桶的 key
// Args:
// 1. ARGV[1] - 令牌产生速率 (tokens/second)
// 2. ARGV[2] - 桶容量 (bucket capacity)
// 3. ARGV[3] - 当前时间戳 (milliseconds)
// 4. ARGV[4] - 请求的令牌数量
// 5. ARGV[5] - 桶的过期时间 (seconds)
// Returns:
// 1. 是否允许 (1=允许, 0=拒绝)
// 2. 剩余令牌数
const tokenBucketScript = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local tokens = tonumber(redis.call('hget', key, 'tokens'))
local last_refill_ts = tonumber(redis.call('hget', key, 'last_refill_ts'))
if tokens == nil or last_refill_ts == nil then
    tokens = capacity
    last_refill_ts = now
end

-- 按时间间隔补充令牌
local elapsed = (now - last_refill_ts) / 1000
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
    last_refill_ts = now
end

local allowed = 0
if tokens >= requested then
    tokens = tokens - requested
    allowed = 1
end

redis.call('hset', key, 'tokens', tokens, 'last_refill_ts', last_refill_ts)
redis.call('expire', key, ttl)

return {allowed, math.floor(tokens)}
`

// ErrInvalidRule 规则参数非法
var ErrInvalidRule = errors.New("ratelimit: invalid rule")

// Rule 定义了单个限流规则
type Rule struct {
	// Rate 令牌产生速率 (tokens/second)
	Rate float64 `json:"rate" yaml:"rate" mapstructure:"rate"`
	// Capacity 桶容量，即允许的突发请求数
	Capacity int64 `json:"capacity" yaml:"capacity" mapstructure:"capacity"`
}

// Config 限流器配置
type Config struct {
	// KeyPrefix 键前缀，最终键为 {KeyPrefix}:{ruleName}:{resource}
	KeyPrefix string `json:"keyPrefix" yaml:"keyPrefix" mapstructure:"keyPrefix"`
	// Rules 规则名到规则的映射
	Rules map[string]Rule `json:"rules" yaml:"rules" mapstructure:"rules"`
}

// RateLimiter 是限流器的主接口。
type RateLimiter interface {
	// Allow 检查给定资源的请求是否被允许。
	// resource: 资源的唯一标识符，例如 "ip:1.2.3.4"。
	// ruleName: 规则名称，例如 "task_submit"。
	Allow(ctx context.Context, resource, ruleName string) (bool, error)
}

// Option 定制限流器
type Option func(*limiter)

// WithLogger 注入日志器
func WithLogger(logger clog.Logger) Option {
	return func(l *limiter) { l.logger = logger }
}

// WithClock 替换时间源
func WithClock(now func() time.Time) Option {
	return func(l *limiter) { l.now = now }
}

type limiter struct {
	store  cache.ScriptingOperations
	cfg    Config
	logger clog.Logger
	now    func() time.Time
}

// New 创建一个新的限流器实例。
func New(store cache.ScriptingOperations, cfg Config, opts ...Option) (RateLimiter, error) {
	if store == nil {
		return nil, errors.New("ratelimit: cache cannot be nil")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "ratelimit"
	}
	for name, rule := range cfg.Rules {
		if err := validateRule(rule); err != nil {
			return nil, fmt.Errorf("rule %s: %w", name, err)
		}
	}

	l := &limiter{
		store:  store,
		cfg:    cfg,
		logger: clog.Module("ratelimit"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Allow 检查给定资源的请求是否被允许。
// 脚本执行失败时为了系统可用性默认放行，同时返回错误。
func (l *limiter) Allow(ctx context.Context, resource, ruleName string) (bool, error) {
	rule, ok := l.cfg.Rules[ruleName]
	if !ok {
		l.logger.Warn("未找到限流规则，默认允许", clog.String("ruleName", ruleName))
		return true, nil
	}

	key := fmt.Sprintf("%s:%s:%s", l.cfg.KeyPrefix, ruleName, resource)
	res, err := l.store.RunScript(ctx, tokenBucketScript, []string{key},
		rule.Rate, rule.Capacity, l.now().UnixMilli(), 1, bucketTTL(rule))
	if err != nil {
		l.logger.Error("执行限流脚本失败，默认允许", clog.String("key", key), clog.Err(err))
		return true, err
	}

	result, ok := res.([]interface{})
	if !ok || len(result) < 2 {
		return true, fmt.Errorf("invalid response from token bucket script: %v", res)
	}
	allowed, ok := result[0].(int64)
	if !ok {
		return true, fmt.Errorf("invalid allowed value: %v", result[0])
	}

	if allowed != 1 {
		l.logger.Debug("请求被限流", clog.String("key", key), clog.Any("remaining", result[1]))
	}
	return allowed == 1, nil
}

// bucketTTL 桶从空到满所需时间的两倍，至少 1 秒
func bucketTTL(rule Rule) int64 {
	ttl := int64(2*float64(rule.Capacity)/rule.Rate) + 1
	if ttl < 1 {
		ttl = 1
	}
	return ttl
}

func validateRule(rule Rule) error {
	if rule.Rate <= 0 {
		return fmt.Errorf("%w: rate must be positive, got %f", ErrInvalidRule, rule.Rate)
	}
	if rule.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidRule, rule.Capacity)
	}
	return nil
}
