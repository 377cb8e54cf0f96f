package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"OpenTask-Engine/internal/config"
	"OpenTask-Engine/internal/engine"
	xerrors "OpenTask-Engine/internal/errors"
	"OpenTask-Engine/internal/llm"
	"OpenTask-Engine/internal/resolver"
	"OpenTask-Engine/internal/sandbox"
)

type fixedLLM struct{ resp *llm.Response }

func (f fixedLLM) Generate(context.Context, llm.Request) (*llm.Response, error) {
	if f.resp == nil {
		return nil, errors.New("no answer")
	}
	return f.resp, nil
}

func buildTestApp(t *testing.T, opts ...Option) (*App, *sandbox.Policy) {
	t.Helper()
	cfg := config.Default(t.TempDir())
	policy := sandbox.NewPolicy()
	a, err := Build(context.Background(), cfg, append([]Option{WithPolicy(policy)}, opts...)...)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a, policy
}

func TestBuildFreezesRegistryAndForbidsDeletion(t *testing.T) {
	a, policy := buildTestApp(t)

	if !a.Registry.Frozen() {
		t.Fatalf("registry should be frozen after build")
	}
	if !policy.DeletionForbidden() {
		t.Fatalf("deletion should be forbidden after build")
	}
	if _, err := os.Stat(a.FS.Root()); err != nil {
		t.Fatalf("data dir should exist: %v", err)
	}
	want := []string{"count-weekday", "fetch", "resize-image", "run-all", "run-query", "scrape", "sort-contacts", "sync-repo"}
	got := a.Registry.Names()
	if len(got) != len(want) {
		t.Fatalf("unexpected tasks %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected tasks %v", got)
		}
	}
	if err := a.FS.Remove("anything"); !xerrors.HasCode(err, xerrors.CodePermissionDenied) {
		t.Fatalf("expected PERMISSION_DENIED on delete, got %v", err)
	}
}

func TestExecuteByAlias(t *testing.T) {
	a, _ := buildTestApp(t)

	res, err := a.Execute(context.Background(), resolver.Request{
		Task: "run_sql",
		Params: engine.Params{
			"dbName": "app.db",
			"query":  "SELECT 1",
			"engine": "embedded-row",
		},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Task != "run-query" || res.ExecutionID == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := os.Stat(filepath.Join(a.FS.Root(), "app.db")); err != nil {
		t.Fatalf("database file should be created in data dir: %v", err)
	}
}

func TestExecuteUnknownTask(t *testing.T) {
	a, _ := buildTestApp(t)
	_, err := a.Execute(context.Background(), resolver.Request{Task: "launch_rockets"})
	if !xerrors.HasCode(err, xerrors.CodeUnsupportedTask) {
		t.Fatalf("expected UNSUPPORTED_TASK, got %v", err)
	}
}

func TestExecuteDescriptionViaLLM(t *testing.T) {
	client := fixedLLM{resp: &llm.Response{Task: "run_sql", Params: map[string]any{
		"dbName": "llm.db",
		"query":  "SELECT 2",
		"engine": "embedded-row",
	}}}
	a, _ := buildTestApp(t, WithLLMClient(client))

	res, err := a.Execute(context.Background(), resolver.Request{Description: "something only a model understands"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Task != "run-query" {
		t.Fatalf("expected run-query, got %s", res.Task)
	}
}

func TestBuildRejectsBadDrivers(t *testing.T) {
	cases := map[string]func(*config.Config){
		"lock":   func(c *config.Config) { c.Lock.Driver = "etcd" },
		"events": func(c *config.Config) { c.Events.Drivers = []string{"kafka"} },
		"hook":   func(c *config.Config) { c.Events.Drivers = []string{"log", "webhook"} },
		"mixed":  func(c *config.Config) { c.Events.Drivers = []string{"log", "kafka"} },
		"redis":  func(c *config.Config) {
			c.Lock.Driver = "redis"
			c.Lock.Redis.Address = "127.0.0.1:1"
		},
		"llm":    func(c *config.Config) { c.LLM.Provider = "crystal-ball" },
		"openai": func(c *config.Config) {
			c.LLM.Provider = "openai"
			c.LLM.OpenAI.APIKey = ""
			c.LLM.OpenAI.APIKeyEnv = "TASKENGINE_TEST_MISSING_KEY"
		},
		"plan": func(c *config.Config) { c.Runtime.PlanFile = filepath.Join(c.Runtime.DataDir, "missing.yaml") },
	}
	for name, mutate := range cases {
		cfg := config.Default(t.TempDir())
		mutate(cfg)
		_, err := Build(context.Background(), cfg, WithPolicy(sandbox.NewPolicy()))
		if !xerrors.HasCode(err, xerrors.CodeInitializationFailure) {
			t.Fatalf("%s: expected INITIALIZATION_FAILURE, got %v", name, err)
		}
	}
	if _, err := Build(context.Background(), nil); !xerrors.HasCode(err, xerrors.CodeInitializationFailure) {
		t.Fatalf("expected INITIALIZATION_FAILURE for nil config, got %v", err)
	}
}

func TestLoggerConfig(t *testing.T) {
	lc := LoggerConfig(config.LoggingConfig{
		Level:  "debug",
		Format: "text",
		Audit:  config.AuditConfig{Enabled: true, Path: "audit.log", MaxSizeMB: 5},
	})
	if lc.Level != "debug" || lc.Format != "text" || !lc.Audit.Enabled || lc.Audit.MaxSizeMB != 5 {
		t.Fatalf("unexpected logger config %+v", lc)
	}
}
