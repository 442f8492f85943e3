package starlark

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fulcrumlabs/conductor/pkg/jinja2"
	"go.starlark.net/starlark"
)

func TestToStarlark(t *testing.T) {
	tests := []struct {
		name     string
		input    jinja2.Value
		expected starlark.Value
	}{
		{
			name:     "string value",
			input:    jinja2.StringValue("hello"),
			expected: starlark.String("hello"),
		},
		{
			name:     "integral number",
			input:    jinja2.FloatValue(42),
			expected: starlark.MakeInt64(42),
		},
		{
			name:     "fractional number",
			input:    jinja2.FloatValue(3.14),
			expected: starlark.Float(3.14),
		},
		{
			name:     "bool value true",
			input:    jinja2.BoolValue(true),
			expected: starlark.Bool(true),
		},
		{
			name:     "none value",
			input:    jinja2.NoneValue{},
			expected: starlark.None,
		},
		{
			name:     "nil value",
			input:    nil,
			expected: starlark.None,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ToStarlark(tt.input)
			if result.Type() != tt.expected.Type() || result.String() != tt.expected.String() {
				t.Errorf("ToStarlark() = %v (%s), want %v (%s)", result, result.Type(), tt.expected, tt.expected.Type())
			}
		})
	}
}

func TestFromStarlark(t *testing.T) {
	tests := []struct {
		name     string
		input    starlark.Value
		expected jinja2.Value
	}{
		{
			name:     "string value",
			input:    starlark.String("hello"),
			expected: jinja2.StringValue("hello"),
		},
		{
			name:     "int value",
			input:    starlark.MakeInt64(42),
			expected: jinja2.FloatValue(42),
		},
		{
			name:     "float value",
			input:    starlark.Float(3.14),
			expected: jinja2.FloatValue(3.14),
		},
		{
			name:     "bool value",
			input:    starlark.Bool(false),
			expected: jinja2.BoolValue(false),
		},
		{
			name:     "none value",
			input:    starlark.None,
			expected: jinja2.NoneValue{},
		},
		{
			name:     "tuple value",
			input:    starlark.Tuple{starlark.String("a"), starlark.MakeInt(1)},
			expected: jinja2.ListValue{jinja2.StringValue("a"), jinja2.FloatValue(1)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FromStarlark(tt.input)
			if !jinja2.Equal(result, tt.expected) {
				t.Errorf("FromStarlark() = %#v, want %#v", result, tt.expected)
			}
		})
	}
}

func TestDictConversionRoundTrip(t *testing.T) {
	in := jinja2.DictValue{
		"key1": jinja2.StringValue("value1"),
		"key2": jinja2.FloatValue(42),
		"list": jinja2.ListValue{jinja2.BoolValue(true), jinja2.NoneValue{}},
	}

	converted := ToStarlark(in)
	dict, ok := converted.(*starlark.Dict)
	if !ok {
		t.Fatalf("Expected starlark.Dict, got %T", converted)
	}
	if dict.Len() != 3 {
		t.Errorf("Expected dict length 3, got %d", dict.Len())
	}

	back := FromStarlark(dict)
	if !jinja2.Equal(back, in) {
		t.Errorf("round trip = %v, want %v", back, in)
	}
}

func TestEvaluatorEval(t *testing.T) {
	eval := NewEvaluator(nil)
	ctx := jinja2.NewContextFromAny(map[string]any{"name": "web", "replicas": 3})

	result, err := eval.Eval("name + '-' + str(replicas * 2)", ctx)
	if err != nil {
		t.Fatalf("Eval error: %v", err)
	}
	if result.String() != "web-6" {
		t.Errorf("Expected 'web-6', got %v", result.String())
	}

	eval.SetGlobal("greeting", jinja2.StringValue("hello"))
	result, err = eval.Eval("greeting + ' ' + lookup('name')", ctx)
	if err != nil {
		t.Fatalf("Eval error: %v", err)
	}
	if result.String() != "hello web" {
		t.Errorf("Expected 'hello web', got %v", result.String())
	}

	if _, err := eval.Eval("1 +", ctx); err == nil {
		t.Error("Expected syntax error")
	}
}

func TestEvaluatorScript(t *testing.T) {
	eval := NewEvaluator(nil)

	script := `
x = 10
y = 20
result = x + y
`
	globals, err := eval.ExecString(script)
	if err != nil {
		t.Fatalf("ExecString error: %v", err)
	}
	if _, ok := globals["result"]; !ok {
		t.Error("Expected 'result' variable to be set")
	}

	result, ok := eval.GetGlobal("result")
	if !ok {
		t.Fatal("Expected 'result' to be accessible via GetGlobal")
	}
	if result.String() != "30" {
		t.Errorf("Expected result='30', got %v", result.String())
	}
}

const filtersScript = `
def slugify(value, sep="-"):
    return sep.join(value.lower().split())

def greet(value):
    return render("{{ greeting }}, ") + value + lookup("suffix", "!")

def explode(value):
    fail("boom: " + value)

def _helper(value):
    return value

answer = 42
`

func TestRegisterFilters(t *testing.T) {
	eval := NewEvaluator(nil)
	if _, err := eval.ExecFile("filters.star", filtersScript); err != nil {
		t.Fatalf("ExecFile error: %v", err)
	}

	filters := jinja2.DefaultFilters()
	names := eval.RegisterFilters(filters)
	want := []string{"explode", "greet", "slugify"}
	if len(names) != len(want) {
		t.Fatalf("registered %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("registered %v, want %v", names, want)
		}
	}

	r := jinja2.NewRenderer(filters)
	ctx := jinja2.NewContextFromAny(map[string]any{"title": "Hello Big World", "greeting": "Hi"})
	tests := []struct {
		tpl  string
		want string
	}{
		{"{{ title | slugify }}", "hello-big-world"},
		{"{{ title | slugify('_') | upper }}", "HELLO_BIG_WORLD"},
		{"{{ 'bob' | greet }}", "Hi, bob!"},
	}
	for _, tt := range tests {
		got, err := r.RenderString(tt.tpl, ctx)
		if err != nil {
			t.Errorf("%s: %v", tt.tpl, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: got %q want %q", tt.tpl, got, tt.want)
		}
	}

	_, err := r.RenderString("{{ 'x' | explode }}", ctx)
	var fe *jinja2.FilterError
	if !errors.As(err, &fe) || fe.Filter != "explode" {
		t.Fatalf("want FilterError from explode, got %v", err)
	}
}

func TestLoadFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filters.star")
	if err := os.WriteFile(path, []byte(filtersScript), 0o644); err != nil {
		t.Fatal(err)
	}
	filters := jinja2.DefaultFilters()
	names, err := LoadFilters(path, filters, nil)
	if err != nil {
		t.Fatalf("LoadFilters error: %v", err)
	}
	if len(names) != 3 {
		t.Fatalf("names = %v", names)
	}
	if _, ok := filters.Get("_helper"); ok {
		t.Error("private functions must not become filters")
	}

	if _, err := LoadFilters(filepath.Join(t.TempDir(), "missing.star"), filters, nil); err == nil {
		t.Error("Expected error for missing script")
	}
	bad := filepath.Join(t.TempDir(), "bad.star")
	if err := os.WriteFile(bad, []byte("def broken(:\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFilters(bad, filters, nil); err == nil {
		t.Error("Expected error for invalid script")
	}
}
