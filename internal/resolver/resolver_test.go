package resolver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"OpenTask-Engine/internal/engine"
	xerrors "OpenTask-Engine/internal/errors"
	"OpenTask-Engine/internal/llm"
)

type staticCatalog []string

func (c staticCatalog) Descriptors() []engine.Descriptor {
	out := make([]engine.Descriptor, 0, len(c))
	for _, name := range c {
		out = append(out, engine.Descriptor{Name: name, Summary: name + " summary"})
	}
	return out
}

var catalog = staticCatalog{"fetch", "sync-repo", "run-query", "resize-image", "scrape", "run-all", "count-weekday", "sort-contacts"}

type stubLLM struct {
	resp *llm.Response
	err  error
	req  llm.Request
}

func (s *stubLLM) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.req = req
	return s.resp, s.err
}

func TestResolveDirectAndAlias(t *testing.T) {
	r := New(catalog)
	cases := map[string]struct {
		task   string
		source Source
	}{
		"fetch":            {"fetch", SourceDirect},
		"fetch_api":        {"fetch", SourceAlias},
		"clone_git":        {"sync-repo", SourceAlias},
		"run_sql":          {"run-query", SourceAlias},
		"resize_image":     {"resize-image", SourceAlias},
		"scrape_website":   {"scrape", SourceAlias},
		"count_wednesdays": {"count-weekday", SourceAlias},
		"sort_contacts":    {"sort-contacts", SourceAlias},
		"launch_rockets":   {"launch_rockets", SourceDirect},
	}
	for in, want := range cases {
		res, err := r.Resolve(context.Background(), Request{Task: in, Params: engine.Params{"k": "v"}})
		if err != nil {
			t.Fatalf("%s: unexpected error %v", in, err)
		}
		if res.Task != want.task || res.Source != want.source || res.Params["k"] != "v" {
			t.Fatalf("%s: unexpected resolution %+v", in, res)
		}
	}
}

func TestResolveDescriptionByKeyword(t *testing.T) {
	r := New(catalog)
	cases := map[string]string{
		"Please scrape the website example.com": "scrape",
		"clone the git repository":              "sync-repo",
		"run a SQL query on the database":       "run-query",
		"resize this image to a thumbnail":      "resize-image",
		"download the posts API as json":        "fetch",
		"count the Wednesdays in dates.txt":     "count-weekday",
		"sort contacts.json by last name":       "sort-contacts",
		"scrape_website":                        "scrape",
		"run-query":                             "run-query",
	}
	for desc, want := range cases {
		res, err := r.Resolve(context.Background(), Request{Description: desc})
		if err != nil {
			t.Fatalf("%q: unexpected error %v", desc, err)
		}
		if res.Task != want {
			t.Fatalf("%q: expected %s, got %s", desc, want, res.Task)
		}
	}
}

func TestResolveUnknownDescription(t *testing.T) {
	r := New(catalog)
	_, err := r.Resolve(context.Background(), Request{Description: "launch the rockets"})
	if !xerrors.HasCode(err, xerrors.CodeUnsupportedTask) {
		t.Fatalf("expected UNSUPPORTED_TASK, got %v", err)
	}
	_, err = r.Resolve(context.Background(), Request{})
	if !xerrors.HasCode(err, xerrors.CodeInvalidParams) {
		t.Fatalf("expected INVALID_PARAMS for empty request, got %v", err)
	}
}

func TestResolveFallsBackToLLM(t *testing.T) {
	client := &stubLLM{resp: &llm.Response{
		Task:    "fetch_api",
		Thought: "needs a download",
		Params:  map[string]any{"url": "https://llm.example", "filename": "llm.json"},
	}}
	r := New(catalog, WithLLM(client), WithKeywordTable(NewKeywordTable(nil)))

	res, err := r.Resolve(context.Background(), Request{
		Description: "grab the thing",
		Params:      engine.Params{"filename": "caller.json"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Task != "fetch" || res.Source != SourceLLM {
		t.Fatalf("unexpected resolution %+v", res)
	}
	if res.Params["filename"] != "caller.json" || res.Params["url"] != "https://llm.example" {
		t.Fatalf("caller params must override llm params: %+v", res.Params)
	}
	if len(client.req.Tasks) != len(catalog) {
		t.Fatalf("expected task catalogue in llm request, got %+v", client.req.Tasks)
	}
}

func TestResolveLLMFailures(t *testing.T) {
	empty := NewKeywordTable(nil)
	r := New(catalog, WithLLM(&stubLLM{err: errors.New("quota exceeded")}), WithKeywordTable(empty))
	if _, err := r.Resolve(context.Background(), Request{Description: "x"}); !xerrors.HasCode(err, xerrors.CodeResourceUnavailable) {
		t.Fatalf("expected RESOURCE_UNAVAILABLE, got %v", err)
	}
	r = New(catalog, WithLLM(&stubLLM{resp: &llm.Response{Task: "launch_rockets"}}), WithKeywordTable(empty))
	if _, err := r.Resolve(context.Background(), Request{Description: "x"}); !xerrors.HasCode(err, xerrors.CodeUnsupportedTask) {
		t.Fatalf("expected UNSUPPORTED_TASK, got %v", err)
	}
}

func TestLoadKeywordTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keywords.yaml")
	data := "- task: scrape\n  keywords: [Harvest]\n- task: fetch\n  keywords: [grab]\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	table, err := LoadKeywordTable(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := table.Match("harvest the page"); got != "scrape" {
		t.Fatalf("expected scrape, got %q", got)
	}
	if got := table.Match("nothing"); got != "" {
		t.Fatalf("expected no match, got %q", got)
	}
	if _, err := LoadKeywordTable(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
