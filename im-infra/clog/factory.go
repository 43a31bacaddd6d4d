package clog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// newZapLogger 根据配置构建 zap 日志器
func newZapLogger(cfg Config) (*zapLogger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level := zap.NewAtomicLevel()
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			return nil, fmt.Errorf("clog: parse level: %w", err)
		}
	}

	writer, err := createWriter(cfg)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(createEncoder(cfg), writer, level)

	var opts []zap.Option
	if cfg.AddSource {
		opts = append(opts, zap.AddCaller())
	}
	opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))

	return &zapLogger{zl: zap.New(core, opts...), level: level}, nil
}

// createEncoder 根据格式创建编码器
func createEncoder(cfg Config) zapcore.Encoder {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	if cfg.Format == FormatJSON {
		return zapcore.NewJSONEncoder(encoderConfig)
	}

	// 文件输出不带颜色
	if cfg.EnableColor && isConsole(cfg.Output) {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	return zapcore.NewConsoleEncoder(encoderConfig)
}

// createWriter 创建日志写入器，文件输出使用 lumberjack 轮转
func createWriter(cfg Config) (zapcore.WriteSyncer, error) {
	switch cfg.Output {
	case "", "stdout":
		return zapcore.AddSync(os.Stdout), nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Output), 0o755); err != nil {
		return nil, fmt.Errorf("clog: 创建日志目录失败: %w", err)
	}

	rotator := &lumberjack.Logger{Filename: cfg.Output}
	if r := cfg.Rotation; r != nil {
		rotator.MaxSize = r.MaxSize
		rotator.MaxBackups = r.MaxBackups
		rotator.MaxAge = r.MaxAge
		rotator.Compress = r.Compress
	}
	return zapcore.AddSync(rotator), nil
}

func isConsole(output string) bool {
	return output == "" || output == "stdout" || output == "stderr"
}
