package pathexpr

import "testing"

func mustEval(t *testing.T, expr string, data any) (any, bool) {
	t.Helper()
	e, err := Parse(expr)
	if err != nil {
		t.Fatalf("Parse(%q): %v", expr, err)
	}
	return e.Eval(data)
}

func TestEvalSingle(t *testing.T) {
	data := map[string]any{
		"foo": map[string]any{
			"bar": "baz",
		},
		"items": []any{
			map[string]any{"name": "a"},
			map[string]any{"name": "b"},
		},
	}

	v, ok := mustEval(t, "$.foo.bar", data)
	if !ok || v != "baz" {
		t.Fatalf("got %v, %v", v, ok)
	}

	v, ok = mustEval(t, "$.items[0].name", data)
	if !ok || v != "a" {
		t.Fatalf("got %v, %v", v, ok)
	}

	_, ok = mustEval(t, "$.items[5].name", data)
	if ok {
		t.Fatalf("expected no match for out-of-range index")
	}

	_, ok = mustEval(t, "$.missing.key", data)
	if ok {
		t.Fatalf("expected no match for missing key")
	}
}

func TestEvalWildcard(t *testing.T) {
	data := map[string]any{
		"entities": []any{
			map[string]any{"name": "A"},
			map[string]any{"name": "B"},
		},
	}

	v, ok := mustEval(t, "$.entities[*].name", data)
	if !ok {
		t.Fatalf("expected ok")
	}
	got, ok := v.([]any)
	if !ok || len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Fatalf("unexpected result: %#v", v)
	}
}

func TestEvalWildcardEmpty(t *testing.T) {
	data := map[string]any{"entities": []any{}}
	v, ok := mustEval(t, "$.entities[*].name", data)
	if !ok {
		t.Fatalf("expected ok (empty sequence is not an error)")
	}
	got, ok := v.([]any)
	if !ok || len(got) != 0 {
		t.Fatalf("expected empty slice, got %#v", v)
	}
}

func TestBracketNames(t *testing.T) {
	data := map[string]any{"weird-key": "value"}
	v, ok := mustEval(t, "$['weird-key']", data)
	if !ok || v != "value" {
		t.Fatalf("got %v, %v", v, ok)
	}
}

func TestParseErrors(t *testing.T) {
	cases := []string{
		"foo.bar",
		"$.",
		"$[",
		"$[abc def]",
	}
	for _, c := range cases {
		if _, err := Parse(c); err == nil {
			t.Errorf("Parse(%q): expected error", c)
		}
	}
}
