// Package handler 提供内置的演示任务处理器。
package handler

import (
	"context"
	"errors"

	"github.com/ceyewan/taskflow/api/task"
	"github.com/ceyewan/taskflow/im-infra/clog"
	"github.com/ceyewan/taskflow/task-worker/internal/registry"
)

// 内置任务类型
const (
	TypeSendEmail      = "send_email"
	TypeResizeImage    = "resize_image"
	TypeProcessPayment = "process_payment"
	TypeFailTask       = "fail_task"
)

// ErrIntentionalFailure 由 fail_task 返回，用于演示重试与死信流程
var ErrIntentionalFailure = errors.New("intentional failure: testing retry mechanism")

// RegisterBuiltins 注册全部内置处理器
func RegisterBuiltins(r *registry.Registry) error {
	builtins := map[string]registry.HandlerFunc{
		TypeSendEmail:      SendEmail,
		TypeResizeImage:    ResizeImage,
		TypeProcessPayment: ProcessPayment,
		TypeFailTask:       FailTask,
	}
	for name, h := range builtins {
		if err := r.Register(name, h); err != nil {
			return err
		}
	}
	return nil
}

func logger(ctx context.Context, env *task.Envelope) clog.Logger {
	return clog.C(ctx).Module("handler").With(
		clog.String("task_id", env.TaskID),
		clog.String("task_type", env.TaskType),
	)
}

func payloadString(env *task.Envelope, key, fallback string) string {
	if v, ok := env.Payload[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// SendEmail 模拟发送邮件
func SendEmail(ctx context.Context, env *task.Envelope) error {
	log := logger(ctx, env)
	log.Info("处理 send_email 任务", clog.Any("payload", env.Payload))
	log.Info("邮件发送成功",
		clog.String("recipient", payloadString(env, "recipient", "unknown")),
		clog.String("subject", payloadString(env, "subject", "(no subject)")),
	)
	return nil
}

// ResizeImage 模拟图片缩放
func ResizeImage(ctx context.Context, env *task.Envelope) error {
	log := logger(ctx, env)
	log.Info("处理 resize_image 任务", clog.Any("payload", env.Payload))
	log.Info("图片缩放成功")
	return nil
}

// ProcessPayment 模拟支付处理
func ProcessPayment(ctx context.Context, env *task.Envelope) error {
	log := logger(ctx, env)
	log.Info("处理 process_payment 任务", clog.Any("payload", env.Payload))
	log.Info("支付处理成功")
	return nil
}

// FailTask 总是失败
func FailTask(ctx context.Context, env *task.Envelope) error {
	logger(ctx, env).Warn("模拟任务失败，用于测试重试与死信流程")
	return ErrIntentionalFailure
}
