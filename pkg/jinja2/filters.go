package jinja2

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// FilterContext gives a filter access to the scope it is evaluated in and
// the renderer evaluating it. None of the built-in filters need it.
type FilterContext struct {
	Vars     *Context
	Renderer *Renderer
}

// FilterFunc applies a filter to val with already evaluated arguments.
type FilterFunc func(val Value, args []Value, fc *FilterContext) (Value, error)

// Filters is a registry of filter functions keyed by name.
type Filters map[string]FilterFunc

// Register adds or replaces a filter.
func (f Filters) Register(name string, fn FilterFunc) {
	f[name] = fn
}

func (f Filters) Get(name string) (FilterFunc, bool) {
	fn, ok := f[name]
	return fn, ok && fn != nil
}

// Names returns the registered filter names in sorted order.
func (f Filters) Names() []string {
	names := make([]string, 0, len(f))
	for k := range f {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Clone returns an independent copy of the registry.
func (f Filters) Clone() Filters {
	out := make(Filters, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// DefaultFilters builds a new registry holding the built-in filters. Each
// call returns a fresh map so callers can extend it freely.
func DefaultFilters() Filters {
	f := Filters{
		"upper":      stringFilter(strings.ToUpper),
		"lower":      stringFilter(strings.ToLower),
		"capitalize": stringFilter(capitalize),
		"trim":       stringFilter(strings.TrimSpace),
		"length":     lengthFilter,
		"count":      lengthFilter,
		"first":      firstFilter,
		"last":       lastFilter,
		"join":       joinFilter,
		"split":      splitFilter,
		"default":    defaultFilter,
		"d":          defaultFilter,
		"replace":    replaceFilter,
		"int":        intFilter,
		"float":      floatFilter,
		"string":     func(val Value, _ []Value, _ *FilterContext) (Value, error) { return StringValue(Format(val)), nil },
		"bool":       boolFilter,
		"list":       listFilter,
		"reverse":    reverseFilter,
		"sort":       sortFilter,
		"unique":     uniqueFilter,
		"mandatory":  mandatoryFilter,
	}
	registerAnsibleFilters(f)
	return f
}

func stringFilter(fn func(string) string) FilterFunc {
	return func(val Value, _ []Value, _ *FilterContext) (Value, error) {
		if IsNone(val) {
			return NoneValue{}, nil
		}
		return StringValue(fn(Format(val))), nil
	}
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

func lengthFilter(val Value, _ []Value, _ *FilterContext) (Value, error) {
	switch t := val.(type) {
	case StringValue:
		return FloatValue(utf8.RuneCountInString(string(t))), nil
	case ListValue:
		return FloatValue(len(t)), nil
	case DictValue:
		return FloatValue(len(t)), nil
	}
	return FloatValue(0), nil
}

func firstFilter(val Value, _ []Value, _ *FilterContext) (Value, error) {
	items, err := Iterate(val)
	if err != nil || len(items) == 0 {
		return NoneValue{}, nil
	}
	return items[0], nil
}

func lastFilter(val Value, _ []Value, _ *FilterContext) (Value, error) {
	items, err := Iterate(val)
	if err != nil || len(items) == 0 {
		return NoneValue{}, nil
	}
	return items[len(items)-1], nil
}

func joinFilter(val Value, args []Value, _ *FilterContext) (Value, error) {
	sep := ""
	if len(args) > 0 {
		sep = Format(args[0])
	}
	if IsNone(val) {
		return StringValue(""), nil
	}
	if s, ok := val.(StringValue); ok {
		return s, nil
	}
	items, err := iterateValue(val)
	if err != nil {
		return nil, err
	}
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = Format(item)
	}
	return StringValue(strings.Join(parts, sep)), nil
}

func splitFilter(val Value, args []Value, _ *FilterContext) (Value, error) {
	if IsNone(val) {
		return ListValue{}, nil
	}
	sep := " "
	if len(args) > 0 {
		sep = Format(args[0])
	}
	s := Format(val)
	if sep == "" {
		return ListValue{StringValue(s)}, nil
	}
	parts := strings.Split(s, sep)
	out := make(ListValue, len(parts))
	for i, p := range parts {
		out[i] = StringValue(p)
	}
	return out, nil
}

// defaultFilter substitutes args[0] when val is none, or also when val is
// falsy and args[1] is truthy.
func defaultFilter(val Value, args []Value, _ *FilterContext) (Value, error) {
	if len(args) == 0 {
		return nil, errors.New("requires a default value argument")
	}
	if IsNone(val) {
		return args[0], nil
	}
	if len(args) > 1 && Truthy(args[1]) && !Truthy(val) {
		return args[0], nil
	}
	return val, nil
}

func replaceFilter(val Value, args []Value, _ *FilterContext) (Value, error) {
	if len(args) < 2 {
		return nil, errors.New("requires old and new arguments")
	}
	n := -1
	if len(args) > 2 {
		c, err := ToNumber(args[2])
		if err != nil {
			return nil, err
		}
		n = int(c)
	}
	return StringValue(strings.Replace(Format(val), Format(args[0]), Format(args[1]), n)), nil
}

func intFilter(val Value, args []Value, _ *FilterContext) (Value, error) {
	f, err := ToNumber(val)
	if err != nil {
		if len(args) > 0 {
			return args[0], nil
		}
		return FloatValue(0), nil
	}
	return FloatValue(math.Trunc(f)), nil
}

func floatFilter(val Value, args []Value, _ *FilterContext) (Value, error) {
	f, err := ToNumber(val)
	if err != nil {
		if len(args) > 0 {
			return args[0], nil
		}
		return FloatValue(0), nil
	}
	return FloatValue(f), nil
}

func boolFilter(val Value, _ []Value, _ *FilterContext) (Value, error) {
	if s, ok := val.(StringValue); ok {
		switch strings.ToLower(strings.TrimSpace(string(s))) {
		case "yes", "true", "on", "1", "y":
			return BoolValue(true), nil
		}
		return BoolValue(false), nil
	}
	return BoolValue(Truthy(val)), nil
}

func listFilter(val Value, _ []Value, _ *FilterContext) (Value, error) {
	items, err := Iterate(val)
	if err != nil {
		return ListValue{val}, nil
	}
	return ListValue(items), nil
}

func reverseFilter(val Value, _ []Value, _ *FilterContext) (Value, error) {
	if s, ok := val.(StringValue); ok {
		r := []rune(string(s))
		for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
			r[i], r[j] = r[j], r[i]
		}
		return StringValue(string(r)), nil
	}
	items, err := Iterate(val)
	if err != nil {
		return nil, err
	}
	out := make(ListValue, len(items))
	for i, v := range items {
		out[len(items)-1-i] = v
	}
	return out, nil
}

// sortFilter sorts numerically when every element is a number and by
// string form otherwise. A truthy first argument reverses the order.
func sortFilter(val Value, args []Value, _ *FilterContext) (Value, error) {
	items, err := Iterate(val)
	if err != nil {
		return nil, err
	}
	out := make(ListValue, len(items))
	copy(out, items)
	numeric := true
	for _, v := range out {
		if _, ok := v.(FloatValue); !ok {
			numeric = false
			break
		}
	}
	less := func(i, j int) bool { return Format(out[i]) < Format(out[j]) }
	if numeric {
		less = func(i, j int) bool { return out[i].(FloatValue) < out[j].(FloatValue) }
	}
	if len(args) > 0 && Truthy(args[0]) {
		asc := less
		less = func(i, j int) bool { return asc(j, i) }
	}
	sort.SliceStable(out, less)
	return out, nil
}

func uniqueFilter(val Value, _ []Value, _ *FilterContext) (Value, error) {
	items, err := Iterate(val)
	if err != nil {
		return nil, err
	}
	out := ListValue{}
	for _, v := range items {
		dup := false
		for _, seen := range out {
			if Equal(seen, v) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
		}
	}
	return out, nil
}

func mandatoryFilter(val Value, args []Value, _ *FilterContext) (Value, error) {
	if IsNone(val) {
		if len(args) > 0 {
			return nil, errors.New(Format(args[0]))
		}
		return nil, errors.New("mandatory variable not defined")
	}
	return val, nil
}

// argInt returns args[i] as an int, or def when absent.
func argInt(args []Value, i int, def int) (int, error) {
	if i >= len(args) {
		return def, nil
	}
	f, err := ToNumber(args[i])
	if err != nil {
		return 0, fmt.Errorf("argument %d: %w", i+1, err)
	}
	return int(f), nil
}
