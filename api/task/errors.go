package task

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingField 信封缺少必填字段
	ErrMissingField = errors.New("missing required field")
	// ErrInvalidField 信封字段取值非法
	ErrInvalidField = errors.New("invalid field")
)

// DeserializationError 表示消息体无法解析为合法信封，不可重试
type DeserializationError struct {
	Raw []byte
	Err error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("decode task envelope: %v", e.Err)
}

func (e *DeserializationError) Unwrap() error {
	return e.Err
}

// UnknownTaskTypeError 表示没有为该任务类型注册处理器，不可重试
type UnknownTaskTypeError struct {
	TaskType string
}

func (e *UnknownTaskTypeError) Error() string {
	return fmt.Sprintf("unknown task type %q", e.TaskType)
}

// HandlerError 表示处理器执行失败，可按退避策略重试
type HandlerError struct {
	TaskID   string
	TaskType string
	Err      error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s failed for task %s: %v", e.TaskType, e.TaskID, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// IsRetryable 判断错误是否应进入重试流程
func IsRetryable(err error) bool {
	var he *HandlerError
	return errors.As(err, &he)
}
