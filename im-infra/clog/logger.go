package clog

import (
	"go.uber.org/zap"
)

// Logger 是 clog 对外暴露的结构化日志接口
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With 返回一个附带固定字段的子 Logger
	With(fields ...Field) Logger
	// Module 返回一个带有 module 字段的子 Logger
	Module(name string) Logger

	Sync() error
}

// zapLogger 是 Logger 的 zap 实现
type zapLogger struct {
	zl    *zap.Logger
	level zap.AtomicLevel
}

func (l *zapLogger) Debug(msg string, fields ...Field) { l.zl.Debug(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...Field)  { l.zl.Info(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...Field)  { l.zl.Warn(msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...Field) { l.zl.Error(msg, fields...) }

func (l *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{zl: l.zl.With(fields...), level: l.level}
}

func (l *zapLogger) Module(name string) Logger {
	return l.With(String("module", name))
}

func (l *zapLogger) Sync() error {
	return l.zl.Sync()
}

// withCallerSkip 供包级全局方法使用，使 caller 指向真正的调用方
func (l *zapLogger) withCallerSkip(skip int) *zap.Logger {
	return l.zl.WithOptions(zap.AddCallerSkip(skip))
}

// NewNop 返回一个丢弃所有输出的 Logger，常用于测试
func NewNop() Logger {
	return &zapLogger{zl: zap.NewNop(), level: zap.NewAtomicLevel()}
}
