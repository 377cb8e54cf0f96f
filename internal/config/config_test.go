package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskengine.json")
	if err := os.WriteFile(path, []byte(`{"runtime":{"data_dir":"sandbox","plan_file":"plan.yaml"}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Runtime.DataDir != filepath.Join(dir, "sandbox") {
		t.Fatalf("expected data dir relative to config, got %s", cfg.Runtime.DataDir)
	}
	if cfg.Runtime.PlanFile != filepath.Join(dir, "plan.yaml") {
		t.Fatalf("expected plan file relative to config, got %s", cfg.Runtime.PlanFile)
	}
	if cfg.Runtime.FetchTimeout() != 30*time.Second || cfg.Runtime.GitTimeout() != 120*time.Second {
		t.Fatalf("unexpected timeouts %v %v", cfg.Runtime.FetchTimeout(), cfg.Runtime.GitTimeout())
	}
	if cfg.Runtime.TaskTimeout() != 0 {
		t.Fatalf("task timeout should be disabled by default, got %v", cfg.Runtime.TaskTimeout())
	}
	if cfg.Server.Address != ":8000" || cfg.LLM.Provider != "keyword" || cfg.Lock.Driver != "memory" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if len(cfg.Events.Drivers) != 1 || cfg.Events.Drivers[0] != "log" {
		t.Fatalf("expected log events by default, got %v", cfg.Events.Drivers)
	}
}

func TestLoadRejectsUnknownDrivers(t *testing.T) {
	dir := t.TempDir()
	cases := []string{
		`{"llm":{"provider":"crystal-ball"}}`,
		`{"lock":{"driver":"etcd"}}`,
		`{"events":{"drivers":["kafka"]}}`,
	}
	for _, body := range cases {
		path := filepath.Join(dir, "c.json")
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		if _, err := Load(path); err == nil {
			t.Fatalf("expected error for %s", body)
		}
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestMySQLDSNFromEnv(t *testing.T) {
	t.Setenv("TASKENGINE_TEST_DSN", "user:pw@tcp(db:3306)/")
	m := MySQLConfig{DSNEnv: "TASKENGINE_TEST_DSN"}
	if got := m.ResolvedDSN(); got != "user:pw@tcp(db:3306)/" {
		t.Fatalf("unexpected dsn %q", got)
	}
	m.DSN = "explicit"
	if got := m.ResolvedDSN(); got != "explicit" {
		t.Fatalf("explicit dsn should win, got %q", got)
	}
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	if PathFromEnv() != DefaultPath {
		t.Fatalf("expected default path")
	}
	t.Setenv(EnvConfigPath, "/etc/taskengine.json")
	if PathFromEnv() != "/etc/taskengine.json" {
		t.Fatalf("expected env path")
	}
}
