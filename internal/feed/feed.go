// Package feed 提供进程级的存储变更通知源。
//
// 变更通知是可选能力：调用方通过 Available() 判断是否可用，
// 不可用时推送功能降级，请求/响应路径照常工作。
package feed

import (
	"context"
	"log/slog"
	"sync"

	"sudooom.hrchat/internal/model"
)

// Handler 变更事件处理函数
type Handler func(ctx context.Context, ev model.ChangeEvent)

// Feed 变更通知能力
type Feed interface {
	Available() bool
	OnChange(h Handler)
}

// Emitter 存储层在数据可读之后调用 Emit 发布变更
type Emitter interface {
	Emit(ctx context.Context, ev model.ChangeEvent)
}

// Runner 需要后台循环的通知源（postgres / nats / redis）
type Runner interface {
	Start(ctx context.Context) error
	Close() error
}

// dispatcher 处理函数注册表，各实现共用
type dispatcher struct {
	mu       sync.RWMutex
	handlers []Handler
	logger   *slog.Logger
}

func newDispatcher() *dispatcher {
	return &dispatcher{logger: slog.Default()}
}

// OnChange 注册处理函数
func (d *dispatcher) OnChange(h Handler) {
	if h == nil {
		return
	}
	d.mu.Lock()
	d.handlers = append(d.handlers, h)
	d.mu.Unlock()
}

// dispatch 依次调用处理函数，单个处理函数 panic 不影响其他
func (d *dispatcher) dispatch(ctx context.Context, ev model.ChangeEvent) {
	d.mu.RLock()
	handlers := make([]Handler, len(d.handlers))
	copy(handlers, d.handlers)
	d.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("Change handler panic recovered", "kind", ev.Kind, "panic", r)
				}
			}()
			h(ctx, ev)
		}()
	}
}

// Local 进程内通知源：Emit 同步分发给所有处理函数
type Local struct {
	*dispatcher
}

// NewLocal 创建进程内通知源
func NewLocal() *Local {
	return &Local{dispatcher: newDispatcher()}
}

// Available 进程内通知源总是可用
func (l *Local) Available() bool { return true }

// Emit 同步分发事件
func (l *Local) Emit(ctx context.Context, ev model.ChangeEvent) {
	l.dispatch(ctx, ev)
}

// Noop 不可用的通知源（后端不支持变更通知时使用）
type Noop struct{}

func (Noop) Available() bool                          { return false }
func (Noop) OnChange(Handler)                         {}
func (Noop) Emit(context.Context, model.ChangeEvent) {}
