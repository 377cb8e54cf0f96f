package ops

import (
	"context"
	"log/slog"
	"strings"

	"OpenTask-Engine/internal/engine"
	xerrors "OpenTask-Engine/internal/errors"
	"OpenTask-Engine/pkg/logger"
)

const runAllName = "run-all"

// StepResult 是 run-all 中一步的结果摘要。
type StepResult struct {
	Task        string `json:"task"`
	ExecutionID string `json:"execution_id"`
	Message     string `json:"message"`
}

// RunAll 通过 Dispatcher 依次执行计划中的每一步，任一步失败立即终止并原样返回该错误。
type RunAll struct {
	exec engine.Executor
	plan Plan
}

// NewRunAll 创建组合操作。
func NewRunAll(exec engine.Executor, plan Plan) (*RunAll, error) {
	if exec == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "run-all 需要调度器")
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &RunAll{exec: exec, plan: plan}, nil
}

// Descriptor 实现 engine.Operation。
func (r *RunAll) Descriptor() engine.Descriptor {
	return engine.Descriptor{
		Name:         runAllName,
		Summary:      "Run the configured plan step by step, stopping at the first failure",
		Idempotent:   false,
		Capabilities: []engine.Capability{engine.CapabilityDispatch},
	}
}

// Run 实现 engine.Operation。
func (r *RunAll) Run(ctx context.Context, _ engine.Params) (*engine.Result, error) {
	log := logger.Named("ops").With(slog.String("task", runAllName), slog.String("plan", r.plan.Name))
	steps := make([]StepResult, 0, len(r.plan.Steps))
	messages := make([]string, 0, len(r.plan.Steps))

	for i, step := range r.plan.Steps {
		if err := ctx.Err(); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeResourceUnavailable, err, "编排在执行前被取消")
		}
		res, err := r.exec.Execute(ctx, step.Task, step.Params.Clone())
		if err != nil {
			log.Warn("编排步骤失败，终止后续步骤",
				slog.Int("step", i+1),
				slog.String("step_task", step.Task),
				slog.Any("error", err),
			)
			return nil, err
		}
		steps = append(steps, StepResult{Task: res.Task, ExecutionID: res.ExecutionID, Message: res.Message})
		messages = append(messages, res.Message)
	}

	log.Info("编排执行完成", slog.Int("steps", len(steps)))
	return &engine.Result{
		Message: strings.Join(messages, "\n"),
		Output:  steps,
	}, nil
}
