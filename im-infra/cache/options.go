package cache

import (
	"github.com/ceyewan/taskflow/im-infra/clog"
)

// Options 包含创建 cache 实例时的可选配置
type Options struct {
	// Logger 自定义日志记录器
	Logger clog.Logger
}

// Option 定义配置选项的函数类型
type Option func(*Options)

// WithLogger 设置自定义日志记录器
//
// 示例：
//
//	logger := clog.Module("my-app")
//	c, err := cache.New(ctx, cfg, cache.WithLogger(logger))
func WithLogger(logger clog.Logger) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}
