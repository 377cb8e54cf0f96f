package sandbox

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"OpenTask-Engine/pkg/logger"
)

// Policy 描述文件系统的破坏性操作策略。一旦禁止删除便不可恢复。
type Policy struct {
	forbidden atomic.Bool
	once      sync.Once
}

// NewPolicy 创建一个尚未启用删除禁令的策略。
func NewPolicy() *Policy {
	return &Policy{}
}

// ForbidDeletion 启用删除禁令，重复调用无副作用。
func (p *Policy) ForbidDeletion() {
	p.once.Do(func() {
		p.forbidden.Store(true)
		logger.Named("sandbox").Info("文件删除已被禁止", slog.String("scope", "process"))
	})
}

// DeletionForbidden 返回删除禁令是否已启用。
func (p *Policy) DeletionForbidden() bool {
	return p.forbidden.Load()
}

var defaultPolicy = NewPolicy()

// DefaultPolicy 返回进程级共享的策略实例。
func DefaultPolicy() *Policy {
	return defaultPolicy
}

// ForbidDeletion 对进程级策略启用删除禁令。
func ForbidDeletion() {
	defaultPolicy.ForbidDeletion()
}
