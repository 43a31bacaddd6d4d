package clog

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
)

var (
	// 使用 atomic.Value 保证 defaultLogger 的并发安全
	defaultLogger     atomic.Value
	defaultLoggerOnce sync.Once
	moduleLoggers     sync.Map
)

// traceIDKey 是在 context 中存放 TraceID 的键类型
type traceIDKey struct{}

// WithTraceID 返回携带 TraceID 的 context，C(ctx) 会自动将其写入日志
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// TraceID 从 context 中取出 TraceID
func TraceID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(traceIDKey{}).(string)
	return id, ok && id != ""
}

// getDefaultLogger 获取默认日志器
func getDefaultLogger() *zapLogger {
	defaultLoggerOnce.Do(func() {
		if defaultLogger.Load() != nil {
			return
		}
		logger, err := newZapLogger(DefaultConfig())
		if err != nil {
			// 当初始化失败时，至少应在标准错误中打印一条日志
			log.Printf("clog: failed to initialize default logger: %v", err)
			logger = NewNop().(*zapLogger)
		}
		defaultLogger.Store(logger)
	})
	return defaultLogger.Load().(*zapLogger)
}

// New 根据传入的配置创建一个新的、独立的 Logger 实例。
// 推荐在组件中通过依赖注入使用它返回的 logger。
func New(cfg Config) (Logger, error) {
	logger, err := newZapLogger(cfg)
	if err != nil {
		return NewNop(), err
	}
	return logger, nil
}

// Init 根据传入的配置重新初始化全局默认 logger。
// 失败时保留现有 logger，已缓存的模块日志器会被清空以便使用新配置重建。
func Init(cfg Config) error {
	logger, err := newZapLogger(cfg)
	if err != nil {
		return err
	}
	getDefaultLogger()
	defaultLogger.Store(logger)
	moduleLoggers.Range(func(key, _ any) bool {
		moduleLoggers.Delete(key)
		return true
	})
	return nil
}

// Module 返回模块化日志器，同名模块复用同一个实例
func Module(name string) Logger {
	if cached, ok := moduleLoggers.Load(name); ok {
		return cached.(Logger)
	}
	logger, _ := moduleLoggers.LoadOrStore(name, getDefaultLogger().Module(name))
	return logger.(Logger)
}

// C 返回一个带 context 的 logger，如果 context 中有 TraceID 则自动附加
// 使用示例：clog.C(ctx).Info("message", fields...)
func C(ctx context.Context) Logger {
	logger := Logger(getDefaultLogger())
	if traceID, ok := TraceID(ctx); ok {
		return logger.With(String("traceID", traceID))
	}
	return logger
}

// 全局日志方法
func Debug(msg string, fields ...Field) {
	getDefaultLogger().withCallerSkip(1).Debug(msg, fields...)
}

func Info(msg string, fields ...Field) {
	getDefaultLogger().withCallerSkip(1).Info(msg, fields...)
}

func Warn(msg string, fields ...Field) {
	getDefaultLogger().withCallerSkip(1).Warn(msg, fields...)
}

func Error(msg string, fields ...Field) {
	getDefaultLogger().withCallerSkip(1).Error(msg, fields...)
}

// Sync 刷新全局 logger 的缓冲区
func Sync() error {
	return getDefaultLogger().Sync()
}
