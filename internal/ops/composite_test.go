package ops

import (
	"context"
	stdErrors "errors"
	"testing"

	"OpenTask-Engine/internal/engine"
	xerrors "OpenTask-Engine/internal/errors"
)

type scriptedExecutor struct {
	calls []string
	fail  map[string]error
}

func (s *scriptedExecutor) Execute(_ context.Context, name string, _ engine.Params) (*engine.Result, error) {
	s.calls = append(s.calls, name)
	if err := s.fail[name]; err != nil {
		return nil, err
	}
	return &engine.Result{Task: name, ExecutionID: "id-" + name, Message: name + " ok"}, nil
}

func TestRunAllExecutesStepsInOrder(t *testing.T) {
	exec := &scriptedExecutor{}
	op, err := NewRunAll(exec, DefaultPlan())
	if err != nil {
		t.Fatalf("new run-all: %v", err)
	}
	res, err := op.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("run-all failed: %v", err)
	}
	want := []string{"fetch", "sync-repo", "run-query", "resize-image", "scrape"}
	if len(exec.calls) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, exec.calls)
	}
	for i := range want {
		if exec.calls[i] != want[i] {
			t.Fatalf("expected calls %v, got %v", want, exec.calls)
		}
	}
	steps := res.Output.([]StepResult)
	if len(steps) != 5 || steps[4].ExecutionID != "id-scrape" {
		t.Fatalf("unexpected step results %+v", steps)
	}
}

func TestRunAllAbortsOnFirstFailure(t *testing.T) {
	failure := xerrors.New(xerrors.CodeResourceUnavailable, "remote down")
	exec := &scriptedExecutor{fail: map[string]error{"sync-repo": failure}}
	op, err := NewRunAll(exec, DefaultPlan())
	if err != nil {
		t.Fatalf("new run-all: %v", err)
	}

	res, err := op.Run(context.Background(), nil)
	if res != nil {
		t.Fatalf("no partial result expected, got %+v", res)
	}
	if err != failure {
		t.Fatalf("expected the step failure to be returned unchanged, got %v", err)
	}
	if len(exec.calls) != 2 {
		t.Fatalf("expected execution to stop after sync-repo, got %v", exec.calls)
	}
}

func TestRunAllStopsWhenCancelled(t *testing.T) {
	exec := &scriptedExecutor{}
	op, _ := NewRunAll(exec, DefaultPlan())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := op.Run(ctx, nil)
	if !xerrors.HasCode(err, xerrors.CodeResourceUnavailable) || !stdErrors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation failure, got %v", err)
	}
	if len(exec.calls) != 0 {
		t.Fatalf("no steps should run after cancellation")
	}
}

func TestPlanValidation(t *testing.T) {
	if _, err := NewRunAll(&scriptedExecutor{}, Plan{}); !xerrors.HasCode(err, xerrors.CodeInitializationFailure) {
		t.Fatalf("expected empty plan to be rejected, got %v", err)
	}
	recursive := Plan{Steps: []Step{{Task: "run-all"}}}
	if _, err := NewRunAll(&scriptedExecutor{}, recursive); !xerrors.HasCode(err, xerrors.CodeInitializationFailure) {
		t.Fatalf("expected recursive plan to be rejected, got %v", err)
	}
	if _, err := NewRunAll(nil, DefaultPlan()); !xerrors.HasCode(err, xerrors.CodeInitializationFailure) {
		t.Fatalf("expected missing executor to be rejected, got %v", err)
	}
}

func TestParsePlanYAML(t *testing.T) {
	data := []byte(`
name: nightly
steps:
  - task: fetch
    params:
      url: https://example.com/data.json
      filename: data.json
  - task: resize-image
    params:
      imagePath: in.jpg
      outputPath: out.jpg
      size: [64, 32]
`)
	plan, err := ParsePlan(data)
	if err != nil {
		t.Fatalf("parse plan: %v", err)
	}
	if plan.Name != "nightly" || len(plan.Steps) != 2 {
		t.Fatalf("unexpected plan %+v", plan)
	}
	size, err := plan.Steps[1].Params.Size("size")
	if err != nil || size != (engine.Size{Width: 64, Height: 32}) {
		t.Fatalf("unexpected size %v, %v", size, err)
	}

	if _, err := ParsePlan([]byte("steps: [")); !xerrors.HasCode(err, xerrors.CodeInitializationFailure) {
		t.Fatalf("expected malformed yaml to fail, got %v", err)
	}
}
