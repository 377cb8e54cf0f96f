package engine

import (
	"context"
)

// Capability 表示操作需要访问的外部资源类别。
type Capability string

const (
	CapabilityFilesystem Capability = "filesystem"
	CapabilityNetwork    Capability = "network"
	CapabilityExecution  Capability = "execution"
	CapabilityDatabase   Capability = "database"
	// CapabilityDispatch 表示操作会通过 Dispatcher 调用其他操作。
	CapabilityDispatch Capability = "dispatch"
)

// Descriptor 是操作的静态声明，Dispatcher 在调用 Run 之前据此校验参数。
type Descriptor struct {
	Name         string       `json:"name"`
	Summary      string       `json:"summary"`
	Required     []string     `json:"required"`
	Optional     []string     `json:"optional,omitempty"`
	Idempotent   bool         `json:"idempotent"`
	Capabilities []Capability `json:"capabilities,omitempty"`
}

// Operation 是注册到引擎的无状态工作单元。
//
// 实现需要满足：
//   - 读写任何路径之前先经过 sandbox.FS 校验；
//   - Run 在任何 I/O 之前完成参数解码，缺失或格式错误时返回 INVALID_PARAMS；
//   - 下游失败转换为带错误码的 *errors.Error，并保留原始诊断信息；
//   - 以相同参数重试时收敛到相同的最终状态。
type Operation interface {
	Descriptor() Descriptor
	Run(ctx context.Context, params Params) (*Result, error)
}

// Result 是操作成功时的返回值。
type Result struct {
	Task        string `json:"task"`
	ExecutionID string `json:"execution_id,omitempty"`
	Message     string `json:"message"`
	Output      any    `json:"output,omitempty"`
}

// Executor 是按任务名执行操作的能力，Dispatcher 是唯一的实现入口。
type Executor interface {
	Execute(ctx context.Context, name string, params Params) (*Result, error)
}

// OperationFunc 把函数适配为 Operation，主要用于测试和简单的内置操作。
type OperationFunc struct {
	Desc Descriptor
	Fn   func(ctx context.Context, params Params) (*Result, error)
}

// Descriptor 实现 Operation。
func (f OperationFunc) Descriptor() Descriptor { return f.Desc }

// Run 实现 Operation。
func (f OperationFunc) Run(ctx context.Context, params Params) (*Result, error) {
	return f.Fn(ctx, params)
}
