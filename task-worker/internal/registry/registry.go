// Package registry 维护任务类型到处理器的映射。
//
// 注册在启动阶段完成，之后只读，可被多个 goroutine 并发查询。
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ceyewan/taskflow/api/task"
)

var (
	// ErrEmptyTaskType 任务类型为空
	ErrEmptyTaskType = errors.New("registry: task type cannot be empty")
	// ErrNilHandler 处理器为空
	ErrNilHandler = errors.New("registry: handler cannot be nil")
	// ErrDuplicate 任务类型重复注册
	ErrDuplicate = errors.New("registry: task type already registered")
)

// Handler 处理一种任务类型。返回 error 表示本次尝试失败，需要重试。
type Handler interface {
	Process(ctx context.Context, env *task.Envelope) error
}

// HandlerFunc 将普通函数适配为 Handler
type HandlerFunc func(ctx context.Context, env *task.Envelope) error

// Process 调用 f(ctx, env)
func (f HandlerFunc) Process(ctx context.Context, env *task.Envelope) error {
	return f(ctx, env)
}

// Registry 任务类型到 Handler 的分发表
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// New 创建空的注册表
func New() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register 注册一个处理器
func (r *Registry) Register(taskType string, h Handler) error {
	if taskType == "" {
		return ErrEmptyTaskType
	}
	if h == nil {
		return ErrNilHandler
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[taskType]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, taskType)
	}
	r.handlers[taskType] = h
	return nil
}

// MustRegister 注册失败时 panic，用于启动期的静态注册
func (r *Registry) MustRegister(taskType string, h Handler) {
	if err := r.Register(taskType, h); err != nil {
		panic(err)
	}
}

// Lookup 查找任务类型对应的处理器
func (r *Registry) Lookup(taskType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[taskType]
	return h, ok
}

// Types 返回已注册的任务类型，按字典序排列
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
