package engine

import (
	"context"
	stdErrors "errors"
	"sync"
	"testing"
	"time"

	xerrors "OpenTask-Engine/internal/errors"
	"OpenTask-Engine/internal/events"
	"OpenTask-Engine/internal/sandbox"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) snapshot() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events...)
}

func readyDispatcher(t *testing.T, ops ...Operation) (*Dispatcher, *recordingPublisher) {
	t.Helper()
	policy := sandbox.NewPolicy()
	policy.ForbidDeletion()
	reg := NewRegistry()
	reg.MustRegister(ops...)
	reg.Freeze()
	pub := &recordingPublisher{}
	return NewDispatcher(reg, policy, WithEventPublisher(pub)), pub
}

func TestDispatcherRequiresFrozenRegistryAndPolicy(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(stubOperation("fetch"))
	policy := sandbox.NewPolicy()

	d := NewDispatcher(reg, policy)
	if _, err := d.Execute(context.Background(), "fetch", nil); !xerrors.HasCode(err, xerrors.CodeInitializationFailure) {
		t.Fatalf("expected INITIALIZATION_FAILURE before freeze, got %v", err)
	}
	reg.Freeze()
	if _, err := d.Execute(context.Background(), "fetch", nil); !xerrors.HasCode(err, xerrors.CodeInitializationFailure) {
		t.Fatalf("expected INITIALIZATION_FAILURE before deletion policy, got %v", err)
	}
	policy.ForbidDeletion()
	if _, err := d.Execute(context.Background(), "fetch", nil); err != nil {
		t.Fatalf("expected success once ready, got %v", err)
	}
}

func TestDispatcherUnknownTaskHasNoSideEffects(t *testing.T) {
	called := false
	op := OperationFunc{
		Desc: Descriptor{Name: "fetch"},
		Fn: func(context.Context, Params) (*Result, error) {
			called = true
			return &Result{}, nil
		},
	}
	d, pub := readyDispatcher(t, op)

	_, err := d.Execute(context.Background(), "launch_rockets", Params{"url": "x"})
	if !xerrors.HasCode(err, xerrors.CodeUnsupportedTask) {
		t.Fatalf("expected UNSUPPORTED_TASK, got %v", err)
	}
	if called {
		t.Fatalf("no operation should run for an unknown task")
	}
	if got := len(pub.snapshot()); got != 0 {
		t.Fatalf("expected no events, got %d", got)
	}
}

func TestDispatcherMissingParamsFailBeforeRun(t *testing.T) {
	called := false
	op := OperationFunc{
		Desc: Descriptor{Name: "fetch", Required: []string{"url", "save_path"}},
		Fn: func(context.Context, Params) (*Result, error) {
			called = true
			return &Result{}, nil
		},
	}
	d, _ := readyDispatcher(t, op)

	_, err := d.Execute(context.Background(), "fetch", Params{"url": "http://example.com"})
	if !xerrors.HasCode(err, xerrors.CodeInvalidParams) {
		t.Fatalf("expected INVALID_PARAMS, got %v", err)
	}
	e, _ := xerrors.From(err)
	if e.Metadata()["missing"] != "save_path" {
		t.Fatalf("expected missing=save_path, got %v", e.Metadata())
	}
	if called {
		t.Fatalf("operation must not run when params are missing")
	}
}

func TestDispatcherPreservesErrorKind(t *testing.T) {
	cause := stdErrors.New("connection refused")
	op := OperationFunc{
		Desc: Descriptor{Name: "fetch"},
		Fn: func(context.Context, Params) (*Result, error) {
			return nil, xerrors.Wrap(xerrors.CodeResourceUnavailable, cause, "请求失败")
		},
	}
	d, pub := readyDispatcher(t, op)

	_, err := d.Execute(context.Background(), "fetch", nil)
	if !xerrors.HasCode(err, xerrors.CodeResourceUnavailable) {
		t.Fatalf("expected RESOURCE_UNAVAILABLE, got %v", err)
	}
	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected underlying cause to be preserved")
	}
	evs := pub.snapshot()
	if len(evs) != 1 || evs[0].Status != events.StatusFailed || evs[0].Code != xerrors.CodeResourceUnavailable {
		t.Fatalf("unexpected events: %+v", evs)
	}
	if !evs[0].Retryable || !evs[0].Alert || evs[0].Severity != xerrors.SeverityWarning {
		t.Fatalf("event should carry code attributes: %+v", evs[0])
	}
}

func TestDispatcherNormalizesUntypedErrors(t *testing.T) {
	plain := OperationFunc{
		Desc: Descriptor{Name: "plain"},
		Fn: func(context.Context, Params) (*Result, error) {
			return nil, stdErrors.New("boom")
		},
	}
	slow := OperationFunc{
		Desc: Descriptor{Name: "slow"},
		Fn: func(ctx context.Context, _ Params) (*Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	d, _ := readyDispatcher(t, plain, slow)

	if _, err := d.Execute(context.Background(), "plain", nil); !xerrors.HasCode(err, xerrors.CodeOperationFailed) {
		t.Fatalf("expected OPERATION_FAILED, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := d.Execute(ctx, "slow", nil); !xerrors.HasCode(err, xerrors.CodeResourceUnavailable) {
		t.Fatalf("expected RESOURCE_UNAVAILABLE on timeout, got %v", err)
	}
}

func TestDispatcherTimeoutAndCancellation(t *testing.T) {
	slow := OperationFunc{
		Desc: Descriptor{Name: "slow"},
		Fn: func(ctx context.Context, _ Params) (*Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	policy := sandbox.NewPolicy()
	policy.ForbidDeletion()
	reg := NewRegistry()
	reg.MustRegister(slow)
	reg.Freeze()
	pub := &recordingPublisher{}
	d := NewDispatcher(reg, policy, WithEventPublisher(pub), WithTimeout(10*time.Millisecond))

	_, err := d.Execute(context.Background(), "slow", nil)
	if !xerrors.HasCode(err, xerrors.CodeResourceUnavailable) || !stdErrors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected RESOURCE_UNAVAILABLE from per-call timeout, got %v", err)
	}
	if xerrors.SeverityOf(err) != xerrors.SeverityWarning {
		t.Fatalf("timeout should keep warning severity, got %s", xerrors.SeverityOf(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Execute(ctx, "slow", nil)
	if !xerrors.HasCode(err, xerrors.CodeResourceUnavailable) || xerrors.SeverityOf(err) != xerrors.SeverityInfo {
		t.Fatalf("expected info-level RESOURCE_UNAVAILABLE on cancel, got %v (%s)", err, xerrors.SeverityOf(err))
	}
	evs := pub.snapshot()
	if len(evs) != 2 || evs[1].Severity != xerrors.SeverityInfo || !evs[1].Retryable {
		t.Fatalf("unexpected events %+v", evs)
	}
}

func TestDispatcherStampsResultAndPropagatesParent(t *testing.T) {
	var childParent string
	var d *Dispatcher
	child := OperationFunc{
		Desc: Descriptor{Name: "child"},
		Fn: func(ctx context.Context, _ Params) (*Result, error) {
			childParent, _ = ParentIDFrom(ctx)
			return &Result{Message: "child ok"}, nil
		},
	}
	parent := OperationFunc{
		Desc: Descriptor{Name: "parent", Capabilities: []Capability{CapabilityDispatch}},
		Fn: func(ctx context.Context, _ Params) (*Result, error) {
			return d.Execute(ctx, "child", nil)
		},
	}
	d, pub := readyDispatcher(t, child, parent)

	res, err := d.Execute(context.Background(), "parent", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Task != "parent" || res.ExecutionID == "" {
		t.Fatalf("result not stamped: %+v", res)
	}
	if childParent != res.ExecutionID {
		t.Fatalf("expected child parent %q, got %q", res.ExecutionID, childParent)
	}
	if got := len(pub.snapshot()); got != 2 {
		t.Fatalf("expected 2 events, got %d", got)
	}
}

func TestDispatcherCapabilityDenied(t *testing.T) {
	called := false
	op := OperationFunc{
		Desc: Descriptor{Name: "sync-repo", Capabilities: []Capability{CapabilityExecution}},
		Fn: func(context.Context, Params) (*Result, error) {
			called = true
			return &Result{}, nil
		},
	}
	policy := sandbox.NewPolicy()
	policy.ForbidDeletion()
	reg := NewRegistry()
	reg.MustRegister(op)
	reg.Freeze()
	d := NewDispatcher(reg, policy, WithCapabilityPolicy(CapabilityPolicy{Denied: []Capability{CapabilityExecution}}))

	if _, err := d.Execute(context.Background(), "sync-repo", nil); !xerrors.HasCode(err, xerrors.CodePermissionDenied) {
		t.Fatalf("expected PERMISSION_DENIED, got %v", err)
	}
	if called {
		t.Fatalf("denied operation must not run")
	}
}
