package templating

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/fulcrumlabs/conductor/pkg/jinja2"
)

func testContext() *jinja2.Context {
	return jinja2.NewContextFromAny(map[string]any{
		"name":     "web",
		"port":     8080,
		"packages": []any{"nginx", "curl"},
		"enabled":  true,
		"result":   map[string]any{"rc": 0, "stdout": "ok"},
		"flag":     "True",
		"count":    "42",
		"blank":    "  ",
	})
}

func TestExpandString(t *testing.T) {
	x := New(nil)
	ctx := testContext()
	tests := []struct{ tpl, want string }{
		{"plain text", "plain text"},
		{"{{ name }}:{{ port }}", "web:8080"},
		{"{% for p in packages %}{{ p }};{% endfor %}", "nginx;curl;"},
		{"{{ packages | join(' ') }}", "nginx curl"},
		{"", ""},
	}
	for _, tt := range tests {
		got, err := x.ExpandString(tt.tpl, ctx)
		if err != nil {
			t.Errorf("%q: %v", tt.tpl, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%q: got %q want %q", tt.tpl, got, tt.want)
		}
	}
}

func TestExpandStringErrorCarriesTemplate(t *testing.T) {
	x := New(nil)
	_, err := x.ExpandString("value: {{ name | nope }}", testContext())
	var ee *ExpansionError
	if !errors.As(err, &ee) {
		t.Fatalf("want ExpansionError, got %T: %v", err, err)
	}
	if ee.Template != "value: {{ name | nope }}" {
		t.Fatalf("template = %q", ee.Template)
	}
	if !strings.Contains(err.Error(), "nope") || !strings.Contains(err.Error(), "value: {{ name | nope }}") {
		t.Fatalf("error %q should mention filter and template", err)
	}
	var re *jinja2.RenderError
	if !errors.As(err, &re) {
		t.Fatalf("RenderError should be reachable through Unwrap")
	}

	_, err = x.ExpandString("{% if %}", testContext())
	var pe *jinja2.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("want ParseError, got %v", err)
	}
}

func TestExpandValueKeepsNativeTypes(t *testing.T) {
	x := New(nil)
	in := map[string]any{
		"list":    "{{ packages }}",
		"num":     "{{ port + 1 }}",
		"bool":    "{{ enabled }}",
		"text":    "port={{ port }}",
		"nested":  map[string]any{"items": []any{"{{ name }}", 3, "lit"}},
		"untouch": 7,
		"missing": "{{ nothing }}",
	}
	got, err := x.ExpandParameters(in, testContext())
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	want := map[string]any{
		"list":    []any{"nginx", "curl"},
		"num":     int64(8081),
		"bool":    true,
		"text":    "port=8080",
		"nested":  map[string]any{"items": []any{"web", 3, "lit"}},
		"untouch": 7,
		"missing": nil,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ExpandParameters mismatch (-want +got):\n%s", diff)
	}
	if in["list"] != "{{ packages }}" {
		t.Fatalf("input map must not be modified")
	}
}

func TestEvaluateExpression(t *testing.T) {
	x := New(nil)
	ctx := testContext()
	tests := []struct {
		expr string
		want jinja2.Value
	}{
		{"result.rc == 0", jinja2.BoolValue(true)},
		{"{{ result.rc == 0 }}", jinja2.BoolValue(true)},
		{"  {{ port }}  ", jinja2.FloatValue(8080)},
		{"flag", jinja2.BoolValue(true)},
		{"'FALSE'", jinja2.BoolValue(false)},
		{"count", jinja2.FloatValue(42)},
		{"'3.5'", jinja2.FloatValue(3.5)},
		{"blank", jinja2.NoneValue{}},
		{"", jinja2.NoneValue{}},
		{"{{ }}", jinja2.NoneValue{}},
		{"name ~ '-1'", jinja2.StringValue("web-1")},
		{"packages", jinja2.ListValue{jinja2.StringValue("nginx"), jinja2.StringValue("curl")}},
		{"undefined_thing", jinja2.NoneValue{}},
	}
	for _, tt := range tests {
		got, err := x.EvaluateExpression(tt.expr, ctx)
		if err != nil {
			t.Errorf("%q: %v", tt.expr, err)
			continue
		}
		if !jinja2.Equal(got, tt.want) || jinja2.TypeName(got) != jinja2.TypeName(tt.want) {
			t.Errorf("%q: got %#v want %#v", tt.expr, got, tt.want)
		}
	}
}

func TestEvaluateExpressionError(t *testing.T) {
	x := New(nil)
	_, err := x.EvaluateExpression("result.rc ==", testContext())
	var ee *ExpansionError
	if !errors.As(err, &ee) || ee.Template != "result.rc ==" {
		t.Fatalf("want ExpansionError carrying expression, got %v", err)
	}
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		in   string
		want jinja2.Value
	}{
		{"", jinja2.NoneValue{}},
		{"true", jinja2.BoolValue(true)},
		{"TRUE", jinja2.BoolValue(true)},
		{"False", jinja2.BoolValue(false)},
		{"12", jinja2.FloatValue(12)},
		{"-0.5", jinja2.FloatValue(-0.5)},
		{"1e3", jinja2.FloatValue(1000)},
		{"12abc", jinja2.StringValue("12abc")},
		{"yes", jinja2.StringValue("yes")},
	}
	for _, tt := range tests {
		if got := Coerce(tt.in); !jinja2.Equal(got, tt.want) || jinja2.TypeName(got) != jinja2.TypeName(tt.want) {
			t.Errorf("Coerce(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func TestParseCacheReused(t *testing.T) {
	x := New(nil)
	ctx := testContext()
	for i := 0; i < 3; i++ {
		if _, err := x.ExpandString("{{ name }}", ctx); err != nil {
			t.Fatal(err)
		}
	}
	if len(x.docs) != 1 {
		t.Fatalf("expected one cached document, got %d", len(x.docs))
	}
}

func TestCustomFilters(t *testing.T) {
	filters := jinja2.DefaultFilters()
	filters.Register("twice", func(val jinja2.Value, _ []jinja2.Value, _ *jinja2.FilterContext) (jinja2.Value, error) {
		return jinja2.StringValue(jinja2.Format(val) + jinja2.Format(val)), nil
	})
	x := New(filters)
	got, err := x.ExpandString("{{ name | twice }}", testContext())
	if err != nil {
		t.Fatal(err)
	}
	if got != "webweb" {
		t.Fatalf("got %q", got)
	}
}
