package kafka

import (
	"github.com/ceyewan/taskflow/im-infra/clog"
)

// options 定义了用于定制 kafka Producer/Consumer 的选项
type options struct {
	logger clog.Logger
}

// Option 定义了用于定制 kafka Producer/Consumer 的函数。
type Option func(*options)

// WithLogger 将一个 clog.Logger 实例注入 kafka，用于记录内部日志。
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func applyOptions(module string, opts []Option) *options {
	o := &options{logger: clog.Module(module)}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
