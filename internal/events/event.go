package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "OpenTask-Engine/internal/errors"
	"OpenTask-Engine/pkg/logger"
)

// Status 表示一次调度的结果。
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Event 描述一次 Dispatcher 调用的结果，仅用于通知，不做持久化。
type Event struct {
	ExecutionID string            `json:"execution_id"`
	ParentID    string            `json:"parent_id,omitempty"`
	Task        string            `json:"task"`
	Status      Status            `json:"status"`
	Code        xerrors.Code      `json:"code,omitempty"`
	Severity    xerrors.Severity  `json:"severity,omitempty"`
	Retryable   bool              `json:"retryable,omitempty"`
	Alert       bool              `json:"alert,omitempty"`
	Message     string            `json:"message"`
	DurationMS  int64             `json:"duration_ms"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

// Publisher 负责把事件发送到某个渠道。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// FanoutPublisher 把事件广播给多个发布者。
type FanoutPublisher struct {
	publishers []Publisher
}

// NewFanout 创建 FanoutPublisher，忽略空的发布者。
func NewFanout(publishers ...Publisher) *FanoutPublisher {
	set := make([]Publisher, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			set = append(set, p)
		}
	}
	return &FanoutPublisher{publishers: set}
}

// Publish 将事件广播至所有发布者，汇总错误。
func (f *FanoutPublisher) Publish(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, p := range f.publishers {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// Close 关闭所有发布者。
func (f *FanoutPublisher) Close() error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, p := range f.publishers {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}

// LogPublisher 把事件写入审计日志。
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher 创建写审计日志的发布者，logger 为空时使用 logger.Audit()。
func NewLogPublisher(l *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: l}
}

// Publish 记录一条审计日志。失败事件按严重程度选择日志级别。
func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	l := p.logger
	if l == nil {
		l = logger.Audit()
	}
	attrs := []any{
		slog.String("execution_id", event.ExecutionID),
		slog.String("task", event.Task),
		slog.String("status", string(event.Status)),
		slog.Int64("duration_ms", event.DurationMS),
	}
	if event.ParentID != "" {
		attrs = append(attrs, slog.String("parent_id", event.ParentID))
	}
	if event.Status == StatusSucceeded {
		l.InfoContext(ctx, "任务执行成功", append(attrs, slog.String("message", event.Message))...)
		return nil
	}
	attrs = append(attrs,
		slog.String("error_code", string(event.Code)),
		slog.String("error", event.Message),
	)
	if event.Severity == xerrors.SeverityCritical {
		l.ErrorContext(ctx, "任务执行失败", attrs...)
	} else {
		l.WarnContext(ctx, "任务执行失败", attrs...)
	}
	return nil
}

// Close 实现 Publisher。
func (p *LogPublisher) Close() error { return nil }
