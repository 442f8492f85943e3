package jinja2

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// Filters commonly used from Ansible playbooks: serialization, encoding
// and path handling.
func registerAnsibleFilters(f Filters) {
	f.Register("to_json", toJSONFilter)
	f.Register("to_nice_json", toNiceJSONFilter)
	f.Register("from_json", fromJSONFilter)
	f.Register("to_yaml", toYAMLFilter)
	f.Register("from_yaml", fromYAMLFilter)
	f.Register("b64encode", b64encodeFilter)
	f.Register("b64decode", b64decodeFilter)
	f.Register("path_join", pathJoinFilter)
	f.Register("basename", stringFilter(filepath.Base))
	f.Register("dirname", stringFilter(filepath.Dir))
	f.Register("quote", stringFilter(shellQuote))
}

func marshalJSON(v Value, indent int) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent > 0 {
		enc.SetIndent("", strings.Repeat(" ", indent))
	}
	if err := enc.Encode(ToGo(v)); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func toJSONFilter(val Value, _ []Value, _ *FilterContext) (Value, error) {
	s, err := marshalJSON(val, 0)
	if err != nil {
		return nil, err
	}
	return StringValue(s), nil
}

func toNiceJSONFilter(val Value, args []Value, _ *FilterContext) (Value, error) {
	indent, err := argInt(args, 0, 4)
	if err != nil {
		return nil, err
	}
	s, err := marshalJSON(val, indent)
	if err != nil {
		return nil, err
	}
	return StringValue(s), nil
}

func fromJSONFilter(val Value, _ []Value, _ *FilterContext) (Value, error) {
	if IsNone(val) {
		return NoneValue{}, nil
	}
	var out any
	if err := json.Unmarshal([]byte(Format(val)), &out); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return FromGo(out), nil
}

func toYAMLFilter(val Value, _ []Value, _ *FilterContext) (Value, error) {
	b, err := yaml.Marshal(ToGo(val))
	if err != nil {
		return nil, err
	}
	return StringValue(b), nil
}

func fromYAMLFilter(val Value, _ []Value, _ *FilterContext) (Value, error) {
	if IsNone(val) {
		return NoneValue{}, nil
	}
	var out any
	if err := yaml.Unmarshal([]byte(Format(val)), &out); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	return FromGo(out), nil
}

func b64encodeFilter(val Value, _ []Value, _ *FilterContext) (Value, error) {
	return StringValue(base64.StdEncoding.EncodeToString([]byte(Format(val)))), nil
}

func b64decodeFilter(val Value, _ []Value, _ *FilterContext) (Value, error) {
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(Format(val)))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 input: %w", err)
	}
	if !utf8.Valid(b) {
		return nil, fmt.Errorf("decoded base64 is not valid UTF-8")
	}
	return StringValue(b), nil
}

// pathJoinFilter flattens a leading list plus any arguments into path
// segments. An absolute segment discards everything before it.
func pathJoinFilter(val Value, args []Value, _ *FilterContext) (Value, error) {
	var segs []string
	add := func(v Value) {
		if IsNone(v) {
			return
		}
		if l, ok := v.(ListValue); ok {
			for _, item := range l {
				segs = append(segs, Format(item))
			}
			return
		}
		segs = append(segs, Format(v))
	}
	add(val)
	for _, a := range args {
		add(a)
	}
	start := 0
	for i, s := range segs {
		if filepath.IsAbs(s) {
			start = i
		}
	}
	return StringValue(filepath.Join(segs[start:]...)), nil
}

// shellQuote wraps s in single quotes for POSIX shells.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
