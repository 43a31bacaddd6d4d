package clog

import (
	"go.uber.org/zap"
)

// Field 是日志字段，直接复用 zap.Field 以避免额外分配
type Field = zap.Field

var (
	String   = zap.String
	Strings  = zap.Strings
	Int      = zap.Int
	Int32    = zap.Int32
	Int64    = zap.Int64
	Float64  = zap.Float64
	Bool     = zap.Bool
	Time     = zap.Time
	Duration = zap.Duration
	Any      = zap.Any
	Binary   = zap.ByteString
)

// Err 创建一个 error 字段，key 固定为 "error"
func Err(err error) Field {
	return zap.Error(err)
}
