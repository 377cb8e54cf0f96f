package main

import "testing"

func TestParseParams(t *testing.T) {
	params, err := parseParams(`{"size":[64,64],"input":"a.jpg"}`, []string{"input=b.jpg", "output=c.png"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if params["input"] != "b.jpg" || params["output"] != "c.png" {
		t.Fatalf("pairs should override json: %+v", params)
	}
	if size, ok := params["size"].([]any); !ok || len(size) != 2 {
		t.Fatalf("expected json size to survive, got %#v", params["size"])
	}

	for _, bad := range []string{"novalue", "=x"} {
		if _, err := parseParams("", []string{bad}); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
	if _, err := parseParams("[1,2]", nil); err == nil {
		t.Fatalf("expected error for non-object json")
	}
}
