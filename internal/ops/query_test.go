package ops

import (
	"context"
	"strings"
	"testing"

	"OpenTask-Engine/internal/engine"
	xerrors "OpenTask-Engine/internal/errors"
)

func TestRunQuerySelectOneEmbeddedRow(t *testing.T) {
	env := newTestEnv(t)
	res, err := NewRunQuery(env).Run(context.Background(), engine.Params{
		"dbName": "database.db",
		"query":  "SELECT 1",
		"engine": "embedded-row",
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	out, ok := res.Output.(*QueryOutput)
	if !ok {
		t.Fatalf("unexpected output type %T", res.Output)
	}
	if len(out.Rows) != 1 || len(out.Rows[0]) != 1 {
		t.Fatalf("expected a single row with a single value, got %v", out.Rows)
	}
	if v, ok := out.Rows[0][0].(int64); !ok || v != 1 {
		t.Fatalf("expected int64 1, got %#v", out.Rows[0][0])
	}
	if res.Message != "SQL query executed: SELECT 1 -> [[1]]" {
		t.Fatalf("unexpected message %q", res.Message)
	}
}

func TestRunQueryPersistsAcrossCalls(t *testing.T) {
	env := newTestEnv(t)
	op := NewRunQuery(env)
	ctx := context.Background()
	for _, stmt := range []string{
		"CREATE TABLE IF NOT EXISTS notes (id INTEGER PRIMARY KEY, body TEXT)",
		"INSERT INTO notes (body) VALUES ('hello')",
	} {
		if _, err := op.Run(ctx, engine.Params{"dbName": "data/notes.db", "query": stmt, "engine": "embedded-row"}); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}
	res, err := op.Run(ctx, engine.Params{"dbName": "data/notes.db", "query": "SELECT body FROM notes", "engine": "embedded-row"})
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	out := res.Output.(*QueryOutput)
	if len(out.Rows) != 1 || out.Rows[0][0] != "hello" || out.Columns[0] != "body" {
		t.Fatalf("unexpected result %+v", out)
	}
}

func TestRunQueryFailures(t *testing.T) {
	env := newTestEnv(t)
	op := NewRunQuery(env)
	ctx := context.Background()

	_, err := op.Run(ctx, engine.Params{"dbName": "database.db", "query": "SELEKT nonsense", "engine": "embedded-row"})
	if !xerrors.HasCode(err, xerrors.CodeOperationFailed) {
		t.Fatalf("expected OPERATION_FAILED, got %v", err)
	}
	if !strings.Contains(err.Error(), "SELEKT") {
		t.Fatalf("expected driver diagnostic in message, got %v", err)
	}

	_, err = op.Run(ctx, engine.Params{"dbName": "database.db", "query": "SELECT 1", "engine": "mongo"})
	if !xerrors.HasCode(err, xerrors.CodeInvalidParams) {
		t.Fatalf("expected INVALID_PARAMS for unknown engine, got %v", err)
	}

	_, err = op.Run(ctx, engine.Params{"dbName": "shop", "query": "SELECT 1", "engine": "server-row"})
	if !xerrors.HasCode(err, xerrors.CodeResourceUnavailable) {
		t.Fatalf("expected RESOURCE_UNAVAILABLE without DSN, got %v", err)
	}

	_, err = op.Run(ctx, engine.Params{"dbName": "../outside.db", "query": "SELECT 1", "engine": "embedded-row"})
	if !xerrors.HasCode(err, xerrors.CodePermissionDenied) {
		t.Fatalf("expected PERMISSION_DENIED, got %v", err)
	}
}
