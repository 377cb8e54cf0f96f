package engine

import (
	"testing"

	xerrors "OpenTask-Engine/internal/errors"
)

func TestParamsMissing(t *testing.T) {
	p := Params{"url": "https://example.com", "save_path": "   ", "nil": nil}
	missing := p.Missing([]string{"url", "save_path", "nil", "absent"})
	want := []string{"absent", "nil", "save_path"}
	if len(missing) != len(want) {
		t.Fatalf("expected %v, got %v", want, missing)
	}
	for i := range want {
		if missing[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, missing)
		}
	}
}

func TestParamsString(t *testing.T) {
	p := Params{"url": "  https://example.com ", "count": 3}
	got, err := p.String("url")
	if err != nil || got != "https://example.com" {
		t.Fatalf("unexpected result %q, %v", got, err)
	}
	if _, err := p.String("count"); !xerrors.HasCode(err, xerrors.CodeInvalidParams) {
		t.Fatalf("expected INVALID_PARAMS for non-string, got %v", err)
	}
	def, err := p.OptionalString("engine", "embedded-row")
	if err != nil || def != "embedded-row" {
		t.Fatalf("expected default value, got %q, %v", def, err)
	}
}

func TestParamsSize(t *testing.T) {
	cases := []struct {
		name  string
		value any
		want  Size
	}{
		{"json array", []any{float64(200), float64(100)}, Size{200, 100}},
		{"int slice", []int{64, 32}, Size{64, 32}},
		{"string", "200x200", Size{200, 200}},
		{"comma string", "10, 20", Size{10, 20}},
		{"object", map[string]any{"width": float64(5), "height": "7"}, Size{5, 7}},
		{"typed", Size{1, 1}, Size{1, 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Params{"size": tc.value}.Size("size")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestParamsSizeRejectsInvalid(t *testing.T) {
	for _, value := range []any{
		[]any{float64(0), float64(10)},
		[]any{float64(1.5), float64(10)},
		[]any{float64(1)},
		"abc",
		"20000x10",
		true,
	} {
		if _, err := (Params{"size": value}).Size("size"); !xerrors.HasCode(err, xerrors.CodeInvalidParams) {
			t.Fatalf("expected INVALID_PARAMS for %v, got %v", value, err)
		}
	}
	if _, err := (Params{}).Size("size"); !xerrors.HasCode(err, xerrors.CodeInvalidParams) {
		t.Fatalf("expected INVALID_PARAMS for missing size, got %v", err)
	}
}
