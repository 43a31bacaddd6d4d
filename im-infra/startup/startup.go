// Package startup 在服务启动时以有限次数重试连接外部依赖。
package startup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ceyewan/taskflow/im-infra/clog"
)

// ErrStartupExhausted 重试次数用尽
var ErrStartupExhausted = errors.New("startup attempts exhausted")

// Policy 启动重试策略
type Policy struct {
	Attempts int
	Delay    time.Duration
}

// Retry 最多执行 p.Attempts 次 fn，两次之间等待 p.Delay。
// 全部失败时返回包装了 ErrStartupExhausted 与最后一次错误的 error。
func Retry(ctx context.Context, name string, p Policy, fn func(ctx context.Context) error) error {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	logger := clog.Module("startup")

	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		logger.Info("正在连接依赖",
			clog.String("dependency", name),
			clog.Int("attempt", attempt),
		)
		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
		if attempt == p.Attempts {
			break
		}

		logger.Warn("依赖暂不可用，稍后重试",
			clog.String("dependency", name),
			clog.Int("attempt", attempt),
			clog.Duration("retry_in", p.Delay),
			clog.Err(lastErr),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", name, ctx.Err())
		case <-time.After(p.Delay):
		}
	}

	logger.Error("依赖连接次数用尽",
		clog.String("dependency", name),
		clog.Int("attempts", p.Attempts),
		clog.Err(lastErr),
	)
	return fmt.Errorf("%s: %w after %d attempts: %w", name, ErrStartupExhausted, p.Attempts, lastErr)
}
