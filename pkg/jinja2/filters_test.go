package jinja2

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuiltinFilters(t *testing.T) {
	vars := map[string]any{
		"s":     "hello",
		"mixed": "hELLO wORLD",
		"l":     []any{"a", "b", "c"},
		"nums":  []any{3, 1, 2, 1},
		"empty": "",
		"d":     map[string]any{"a": 1, "b": []any{true, nil}},
		"csv":   "x,y,z",
	}
	tests := map[string]string{
		"{{ s | upper }}":                    "HELLO",
		"{{ s | upper | upper }}":            "HELLO",
		"{{ 'ABC' | lower }}":                "abc",
		"{{ mixed | capitalize }}":           "Hello world",
		"{{ 'Hello' | capitalize }}":         "Hello",
		"{{ s | length }}":                   "5",
		"{{ 'ünï' | length }}":               "3",
		"{{ l | length }}":                   "3",
		"{{ missing | length }}":             "0",
		"{{ 5 | length }}":                   "0",
		"{{ d | count }}":                    "2",
		"{{ l | first }}":                    "a",
		"{{ l | last }}":                     "c",
		"{{ missing | first }}":              "",
		"{{ s | first }}":                    "h",
		"{{ l | join }}":                     "abc",
		"{{ l | join(', ') }}":               "a, b, c",
		"{{ [1, true, none] | join('-') }}":  "1-True-",
		"{{ 'a b  c' | split | length }}":    "4",
		"{{ csv | split(',') | last }}":      "z",
		"{{ missing | default('x') }}":       "x",
		"{{ empty | default('x') }}":         "",
		"{{ empty | default('x', true) }}":   "x",
		"{{ s | default('x', true) }}":       "hello",
		"{{ missing | d('short') }}":         "short",
		"{{ '  pad  ' | trim }}":             "pad",
		"{{ s | replace('l', 'L') }}":        "heLLo",
		"{{ s | replace('l', 'L', 1) }}":     "heLlo",
		"{{ '42' | int + 1 }}":               "43",
		"{{ '4.7' | int }}":                  "4",
		"{{ 'abc' | int }}":                  "0",
		"{{ '1.5' | float * 2 }}":            "3",
		"{{ 3 | string ~ 'x' }}":             "3x",
		"{{ 'yes' | bool }}":                 "True",
		"{{ 'no' | bool }}":                  "False",
		"{{ s | list | length }}":            "5",
		"{{ nums | sort | join(',') }}":      "1,1,2,3",
		"{{ nums | sort(true) | join(',') }}": "3,2,1,1",
		"{{ nums | unique | join(',') }}":    "3,1,2",
		"{{ l | reverse | join }}":           "cba",
		"{{ s | reverse }}":                  "olleh",
		"{{ s | mandatory }}":                "hello",
	}
	for tpl, want := range tests {
		if got := renderHelper(t, tpl, vars); got != want {
			t.Errorf("%s: got %q want %q", tpl, got, want)
		}
	}
}

func TestAnsibleFilters(t *testing.T) {
	vars := map[string]any{
		"d":    map[string]any{"b": []any{true, nil}, "a": 1, "html": "<x>"},
		"s":    "hello",
		"json": `{"name": "web", "ports": [80, 443]}`,
		"yml":  "name: db\nreplicas: 3\n",
		"quo":  "it's",
	}
	tests := map[string]string{
		"{{ d | to_json }}":                       `{"a":1,"b":[true,null],"html":"<x>"}`,
		"{{ 2.5 | to_json }}":                     "2.5",
		"{{ (json | from_json).name }}":           "web",
		"{{ (json | from_json).ports[1] }}":       "443",
		"{{ (yml | from_yaml).replicas + 1 }}":    "4",
		"{{ s | b64encode }}":                     "aGVsbG8=",
		"{{ 'aGVsbG8=' | b64decode }}":            "hello",
		"{{ quo | quote }}":                       `'it'"'"'s'`,
		"{{ '/etc/hosts' | basename }}":           "hosts",
		"{{ '/etc/hosts' | dirname }}":            "/etc",
	}
	for tpl, want := range tests {
		if got := renderHelper(t, tpl, vars); got != want {
			t.Errorf("%s: got %q want %q", tpl, got, want)
		}
	}

	if got := renderHelper(t, "{{ d | to_yaml }}", map[string]any{"d": map[string]any{"a": 1}}); got != "a: 1\n" {
		t.Errorf("to_yaml: got %q", got)
	}
	want := "{\n    \"a\": 1\n}"
	if got := renderHelper(t, "{{ d | to_nice_json }}", map[string]any{"d": map[string]any{"a": 1}}); got != want {
		t.Errorf("to_nice_json: got %q", got)
	}
}

func TestPathJoinFilter(t *testing.T) {
	tests := []struct {
		tpl  string
		want string
	}{
		{"{{ ['etc', 'app'] | path_join }}", filepath.Join("etc", "app")},
		{"{{ ['etc', 'app'] | path_join('conf.d', 'x.conf') }}", filepath.Join("etc", "app", "conf.d", "x.conf")},
		{"{{ 'base' | path_join('file') }}", filepath.Join("base", "file")},
		{"{{ ['/etc', 'x', '/opt', 'y'] | path_join }}", filepath.Join("/opt", "y")},
	}
	for _, tt := range tests {
		if got := renderHelper(t, tt.tpl, nil); got != tt.want {
			t.Errorf("%s: got %q want %q", tt.tpl, got, tt.want)
		}
	}
}

func TestFilterFailures(t *testing.T) {
	tests := []struct {
		tpl    string
		filter string
		want   string
	}{
		{"{{ '%%%' | b64decode }}", "b64decode", "invalid base64 input"},
		{"{{ '{bad' | from_json }}", "from_json", "invalid JSON"},
		{"{{ missing | mandatory }}", "mandatory", "mandatory variable not defined"},
		{"{{ missing | mandatory('need host') }}", "mandatory", "need host"},
		{"{{ x | default }}", "default", "requires a default value"},
		{"{{ 5 | sort }}", "sort", "not iterable"},
	}
	for _, tt := range tests {
		err := renderErr(t, tt.tpl, nil)
		var fe *FilterError
		if !errors.As(err, &fe) {
			t.Errorf("%s: want FilterError, got %T: %v", tt.tpl, err, err)
			continue
		}
		if fe.Filter != tt.filter || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: got %v", tt.tpl, err)
		}
	}
}

func TestCustomFilterRegistration(t *testing.T) {
	filters := DefaultFilters()
	filters.Register("shout", func(val Value, args []Value, fc *FilterContext) (Value, error) {
		suffix := "!"
		if v, ok := fc.Vars.Get("suffix"); ok {
			suffix = Format(v)
		}
		return StringValue(strings.ToUpper(Format(val)) + suffix), nil
	})
	out, err := NewRenderer(filters).RenderString("{{ 'hi' | shout }}", NewContextFromAny(map[string]any{"suffix": "?!"}))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "HI?!" {
		t.Fatalf("got %q", out)
	}
	if _, ok := DefaultFilters().Get("shout"); ok {
		t.Fatalf("registering on one registry must not affect new default registries")
	}
	clone := filters.Clone()
	delete(clone, "shout")
	if _, ok := filters.Get("shout"); !ok {
		t.Fatalf("clone must be independent")
	}
}
