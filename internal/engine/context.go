package engine

import "context"

type ctxKey int

const (
	executionIDKey ctxKey = iota
	parentIDKey
)

// WithExecutionID 返回携带执行 ID 的上下文。
func WithExecutionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, executionIDKey, id)
}

// ExecutionIDFrom 读取当前执行 ID。
func ExecutionIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(executionIDKey).(string)
	return id, ok && id != ""
}

// ParentIDFrom 读取发起当前执行的上级执行 ID，组合任务的子步骤会带上它。
func ParentIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(parentIDKey).(string)
	return id, ok && id != ""
}

func withParentID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, parentIDKey, id)
}
