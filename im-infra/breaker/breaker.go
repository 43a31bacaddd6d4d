// Package breaker 基于 sony/gobreaker 提供按名称管理的熔断器。
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ceyewan/taskflow/im-infra/clog"
	"github.com/sony/gobreaker"
)

// ErrBreakerOpen 熔断器处于打开状态，请求被直接拒绝
var ErrBreakerOpen = errors.New("circuit breaker is open")

// Policy 定义了熔断器的行为策略
type Policy struct {
	// FailureThreshold 连续失败多少次后打开熔断器
	FailureThreshold int `json:"failureThreshold" yaml:"failureThreshold" mapstructure:"failureThreshold"`
	// HalfOpenRequests 半开状态允许通过的探测请求数
	HalfOpenRequests int `json:"halfOpenRequests" yaml:"halfOpenRequests" mapstructure:"halfOpenRequests"`
	// OpenStateTimeout 打开状态持续多久后进入半开
	OpenStateTimeout time.Duration `json:"openStateTimeout" yaml:"openStateTimeout" mapstructure:"openStateTimeout"`
}

// DefaultPolicy 返回默认的熔断策略
func DefaultPolicy() Policy {
	return Policy{
		FailureThreshold: 5,
		HalfOpenRequests: 1,
		OpenStateTimeout: 30 * time.Second,
	}
}

// Breaker 是熔断器的主接口
type Breaker interface {
	// Do 执行受保护的操作；熔断器打开时返回 ErrBreakerOpen 而不执行 op
	Do(ctx context.Context, op func(ctx context.Context) error) error
	// State 返回当前状态：closed、half-open 或 open
	State() string
}

// Provider 负责创建和管理多个熔断器实例
type Provider interface {
	GetBreaker(name string) Breaker
}

// Option 是用于配置 breaker Provider 的函数式选项
type Option func(*provider)

// WithLogger 为 breaker Provider 设置一个 Logger 实例
func WithLogger(logger clog.Logger) Option {
	return func(p *provider) { p.logger = logger }
}

// WithPolicy 为指定名称的熔断器设置独立策略
func WithPolicy(name string, policy Policy) Option {
	return func(p *provider) { p.policies[name] = normalize(policy) }
}

type provider struct {
	defaultPolicy Policy
	policies      map[string]Policy
	logger        clog.Logger

	mu       sync.Mutex
	breakers map[string]Breaker
}

// New 创建一个新的熔断器 Provider，未单独配置的熔断器使用 defaultPolicy
func New(defaultPolicy Policy, opts ...Option) Provider {
	p := &provider{
		defaultPolicy: normalize(defaultPolicy),
		policies:      make(map[string]Policy),
		logger:        clog.Module("breaker"),
		breakers:      make(map[string]Breaker),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetBreaker 获取或创建一个指定名称的熔断器实例
// name 是被保护资源的唯一标识，例如 "kafka:task_queue"
func (p *provider) GetBreaker(name string) Breaker {
	p.mu.Lock()
	defer p.mu.Unlock()

	if b, ok := p.breakers[name]; ok {
		return b
	}
	policy, ok := p.policies[name]
	if !ok {
		policy = p.defaultPolicy
	}
	b := p.newGobreakerAdapter(name, policy)
	p.breakers[name] = b

	p.logger.Info("熔断器已创建",
		clog.String("name", name),
		clog.Int("failure_threshold", policy.FailureThreshold),
		clog.Duration("open_state_timeout", policy.OpenStateTimeout),
	)
	return b
}

// gobreakerAdapter 是 sony/gobreaker 库的适配器
type gobreakerAdapter struct {
	breaker *gobreaker.CircuitBreaker
	name    string
	logger  clog.Logger
}

func (p *provider) newGobreakerAdapter(name string, policy Policy) *gobreakerAdapter {
	logger := p.logger
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(policy.HalfOpenRequests),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(policy.FailureThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("熔断器状态变化",
				clog.String("name", name),
				clog.String("from", from.String()),
				clog.String("to", to.String()),
			)
		},
		Timeout: policy.OpenStateTimeout,
	})
	return &gobreakerAdapter{breaker: cb, name: name, logger: logger}
}

// Do 执行受熔断器保护的操作
func (b *gobreakerAdapter) Do(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, op(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s", ErrBreakerOpen, b.name)
	}
	return err
}

func (b *gobreakerAdapter) State() string {
	return b.breaker.State().String()
}

func normalize(p Policy) Policy {
	d := DefaultPolicy()
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = d.FailureThreshold
	}
	if p.HalfOpenRequests <= 0 {
		p.HalfOpenRequests = d.HalfOpenRequests
	}
	if p.OpenStateTimeout <= 0 {
		p.OpenStateTimeout = d.OpenStateTimeout
	}
	return p
}
