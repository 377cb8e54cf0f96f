package engine

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "OpenTask-Engine/internal/errors"
	"OpenTask-Engine/internal/events"
	"OpenTask-Engine/internal/observability/metrics"
	"OpenTask-Engine/internal/sandbox"
	"OpenTask-Engine/pkg/logger"
)

// Dispatcher 是执行任务的唯一入口：按名查找操作、校验参数、执行并归一化错误。
type Dispatcher struct {
	registry     *Registry
	policy       *sandbox.Policy
	capabilities CapabilityPolicy
	publisher    events.Publisher
	logger       *slog.Logger
	timeout      time.Duration
	now          func() time.Time
}

// Option 配置 Dispatcher。
type Option func(*Dispatcher)

// WithCapabilityPolicy 设置能力白名单与黑名单。
func WithCapabilityPolicy(p CapabilityPolicy) Option {
	return func(d *Dispatcher) {
		d.capabilities = p
	}
}

// WithEventPublisher 设置调度事件的发布者。
func WithEventPublisher(p events.Publisher) Option {
	return func(d *Dispatcher) {
		d.publisher = p
	}
}

// WithLogger 替换默认的组件日志。
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithTimeout 为每次调用设置整体超时，0 表示只受操作自身的超时约束。
// run-all 的子任务各自计时，同时受外层调用的截止时间约束。
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// NewDispatcher 创建调度器。policy 为空时使用进程级删除策略。
func NewDispatcher(reg *Registry, policy *sandbox.Policy, opts ...Option) *Dispatcher {
	if policy == nil {
		policy = sandbox.DefaultPolicy()
	}
	d := &Dispatcher{
		registry: reg,
		policy:   policy,
		logger:   logger.Named("dispatcher"),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Execute 按任务名执行操作。未知任务与参数缺失在任何副作用之前失败；
// 操作返回的带错误码的错误原样返回，未分类的错误被归一化。
func (d *Dispatcher) Execute(ctx context.Context, name string, params Params) (*Result, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	op, err := d.registry.Lookup(name)
	if err != nil {
		d.logger.Warn("收到不支持的任务", slog.String("task", name))
		return nil, err
	}
	desc := op.Descriptor()
	if err := d.capabilities.Validate(desc); err != nil {
		return nil, err
	}
	if params == nil {
		params = Params{}
	}
	if missing := params.Missing(desc.Required); len(missing) > 0 {
		return nil, xerrors.New(xerrors.CodeInvalidParams,
			"缺少必填参数 "+strings.Join(missing, ", "),
			xerrors.WithMetadata("task", name),
			xerrors.WithMetadata("missing", strings.Join(missing, ",")),
		)
	}

	executionID := uuid.NewString()
	parentID, _ := ExecutionIDFrom(ctx)
	runCtx := WithExecutionID(ctx, executionID)
	if parentID != "" {
		runCtx = withParentID(runCtx, parentID)
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, d.timeout)
		defer cancel()
	}

	started := d.now()
	result, runErr := op.Run(runCtx, params)
	elapsed := d.now().Sub(started)

	if runErr != nil {
		runErr = normalize(runCtx, runErr)
	} else if result == nil {
		result = &Result{}
	}
	d.record(ctx, name, executionID, parentID, result, runErr, elapsed)
	if runErr != nil {
		return nil, runErr
	}
	result.Task = name
	result.ExecutionID = executionID
	return result, nil
}

// Descriptors 返回所有已注册操作的声明。
func (d *Dispatcher) Descriptors() []Descriptor {
	return d.registry.Descriptors()
}

func (d *Dispatcher) ready() error {
	if d == nil || d.registry == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "调度器未初始化")
	}
	if !d.registry.Frozen() {
		return xerrors.New(xerrors.CodeInitializationFailure, "任务注册尚未完成")
	}
	if !d.policy.DeletionForbidden() {
		return xerrors.New(xerrors.CodeInitializationFailure, "文件删除策略尚未生效")
	}
	return nil
}

// normalize 为未分类的错误补上错误码，已有错误码的错误保持不变。
func normalize(ctx context.Context, err error) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	switch {
	case stdErrors.Is(err, context.Canceled), stdErrors.Is(ctx.Err(), context.Canceled):
		// 调用方主动取消不属于需要关注的故障。
		return xerrors.Wrap(xerrors.CodeResourceUnavailable, err, "任务被取消",
			xerrors.WithSeverity(xerrors.SeverityInfo))
	case stdErrors.Is(err, context.DeadlineExceeded), ctx.Err() != nil:
		return xerrors.Wrap(xerrors.CodeResourceUnavailable, err, "任务超时")
	default:
		return xerrors.Wrap(xerrors.CodeOperationFailed, err, "任务执行失败")
	}
}

func (d *Dispatcher) record(ctx context.Context, name, executionID, parentID string, result *Result, err error, elapsed time.Duration) {
	event := events.Event{
		ExecutionID: executionID,
		ParentID:    parentID,
		Task:        name,
		Status:      events.StatusSucceeded,
		DurationMS:  elapsed.Milliseconds(),
		OccurredAt:  d.now().UTC(),
	}
	code := ""
	if err != nil {
		e, _ := xerrors.From(err)
		code = string(e.Code())
		event.Status = events.StatusFailed
		event.Code = e.Code()
		event.Severity = xerrors.SeverityOf(err)
		event.Retryable = xerrors.RetryableError(err)
		event.Alert = xerrors.ShouldAlert(err)
		event.Message = err.Error()
		event.Metadata = e.Metadata()
		d.logger.Warn("任务执行失败",
			slog.String("task", name),
			slog.String("execution_id", executionID),
			slog.String("error_code", code),
			slog.Any("error", err),
		)
	} else {
		event.Message = result.Message
		d.logger.Info("任务执行完成",
			slog.String("task", name),
			slog.String("execution_id", executionID),
			slog.Duration("duration", elapsed),
		)
	}
	metrics.ObserveTask(name, code, elapsed)

	if d.publisher == nil {
		return
	}
	if pubErr := d.publisher.Publish(context.WithoutCancel(ctx), event); pubErr != nil {
		d.logger.Warn("发布任务事件失败", slog.String("execution_id", executionID), slog.Any("error", pubErr))
	}
}
