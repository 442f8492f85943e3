package jinja2

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Value is the dynamic type flowing through evaluation. It defines string
// conversion and truthiness semantics.
type Value interface {
	String() string
	Truth() bool
}

// LookupHook can be implemented by host-provided values that want to answer
// member access (obj.name) themselves. Returning false yields none.
type LookupHook interface {
	OnLookup(key string) (Value, bool)
}

// NoneValue represents the absence of a value.
type NoneValue struct{}

func (NoneValue) String() string { return "" }
func (NoneValue) Truth() bool    { return false }

// BoolValue wraps a boolean. It prints as True/False.
type BoolValue bool

func (b BoolValue) String() string {
	if b {
		return "True"
	}
	return "False"
}
func (b BoolValue) Truth() bool { return bool(b) }

// FloatValue is the only numeric type; all arithmetic is done in float64.
type FloatValue float64

func (f FloatValue) String() string { return formatNumber(float64(f)) }
func (f FloatValue) Truth() bool    { return float64(f) != 0 }

// StringValue wraps a string.
type StringValue string

func (s StringValue) String() string { return string(s) }
func (s StringValue) Truth() bool    { return len(string(s)) > 0 }

// ListValue wraps a list of values.
type ListValue []Value

func (l ListValue) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range l {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(repr(v))
	}
	b.WriteByte(']')
	return b.String()
}
func (l ListValue) Truth() bool { return len(l) > 0 }

// DictValue wraps a string-keyed dictionary of values.
type DictValue map[string]Value

func (d DictValue) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range d.Keys() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(repr(StringValue(k)))
		b.WriteString(": ")
		b.WriteString(repr(d[k]))
	}
	b.WriteByte('}')
	return b.String()
}
func (d DictValue) Truth() bool { return len(d) > 0 }

// Keys returns the dictionary keys in sorted order.
func (d DictValue) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// repr formats a value nested inside a list or dict.
func repr(v Value) string {
	switch t := v.(type) {
	case nil, NoneValue:
		return "None"
	case StringValue:
		return "'" + strings.ReplaceAll(string(t), "'", `\'`) + "'"
	}
	return v.String()
}

// formatNumber drops the fractional part of integral values, so 8.0
// prints as 8.
func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	abs := math.Abs(f)
	if abs >= 1e21 || (abs != 0 && abs < 1e-6) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Format returns the canonical output form of v: none is empty, booleans
// are True/False, everything else uses its natural string form.
func Format(v Value) string {
	if v == nil {
		return ""
	}
	return v.String()
}

// IsNone reports whether v is nil or NoneValue.
func IsNone(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(NoneValue)
	return ok
}

// Truthy applies the truthiness rule to v.
func Truthy(v Value) bool {
	if v == nil {
		return false
	}
	return v.Truth()
}

// TypeName is the user-facing name of a value's type, used in messages.
func TypeName(v Value) string {
	switch v.(type) {
	case nil, NoneValue:
		return "none"
	case BoolValue:
		return "bool"
	case FloatValue:
		return "number"
	case StringValue:
		return "string"
	case ListValue:
		return "list"
	case DictValue:
		return "dict"
	}
	return fmt.Sprintf("%T", v)
}

// FromGo converts a Go value to a Value. Maps become DictValue, slices
// become ListValue, every numeric kind becomes FloatValue and exported
// struct fields are keyed by their json tag name or field name.
func FromGo(v any) Value {
	if v == nil {
		return NoneValue{}
	}
	switch t := v.(type) {
	case Value:
		return t
	case string:
		return StringValue(t)
	case bool:
		return BoolValue(t)
	case int:
		return FloatValue(float64(t))
	case int64:
		return FloatValue(float64(t))
	case float64:
		return FloatValue(t)
	case []byte:
		return StringValue(string(t))
	case []any:
		out := make(ListValue, len(t))
		for i, item := range t {
			out[i] = FromGo(item)
		}
		return out
	case map[string]any:
		out := make(DictValue, len(t))
		for k, item := range t {
			out[k] = FromGo(item)
		}
		return out
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return FloatValue(float64(rv.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return FloatValue(float64(rv.Uint()))
	case reflect.Float32, reflect.Float64:
		return FloatValue(rv.Float())
	case reflect.String:
		return StringValue(rv.String())
	case reflect.Bool:
		return BoolValue(rv.Bool())
	case reflect.Slice, reflect.Array:
		n := rv.Len()
		out := make(ListValue, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, FromGo(rv.Index(i).Interface()))
		}
		return out
	case reflect.Map:
		out := DictValue{}
		it := rv.MapRange()
		for it.Next() {
			out[fmt.Sprint(it.Key().Interface())] = FromGo(it.Value().Interface())
		}
		return out
	case reflect.Struct:
		return structToDict(rv)
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return NoneValue{}
		}
		return FromGo(rv.Elem().Interface())
	}
	return StringValue(fmt.Sprintf("%v", v))
}

func structToDict(rv reflect.Value) DictValue {
	out := DictValue{}
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup("json"); ok {
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}
		out[name] = FromGo(rv.Field(i).Interface())
	}
	return out
}

// ToGo converts a Value back to plain Go data suitable for encoding/json
// or YAML: nil, bool, int64 (for integral numbers), float64, string,
// []any and map[string]any.
func ToGo(v Value) any {
	switch t := v.(type) {
	case nil, NoneValue:
		return nil
	case BoolValue:
		return bool(t)
	case FloatValue:
		f := float64(t)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	case StringValue:
		return string(t)
	case ListValue:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = ToGo(item)
		}
		return out
	case DictValue:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = ToGo(item)
		}
		return out
	}
	return v.String()
}

// Equal implements value equality without type coercion.
func Equal(a, b Value) bool {
	if IsNone(a) || IsNone(b) {
		return IsNone(a) && IsNone(b)
	}
	switch x := a.(type) {
	case BoolValue:
		y, ok := b.(BoolValue)
		return ok && x == y
	case FloatValue:
		y, ok := b.(FloatValue)
		return ok && x == y
	case StringValue:
		y, ok := b.(StringValue)
		return ok && x == y
	case ListValue:
		y, ok := b.(ListValue)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case DictValue:
		y, ok := b.(DictValue)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !Equal(xv, yv) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// iterateValue converts a Value into a []Value for iteration semantics.
// Strings iterate by character and dicts by sorted key.
func iterateValue(v Value) ([]Value, error) {
	switch t := v.(type) {
	case StringValue:
		s := string(t)
		out := make([]Value, 0, utf8.RuneCountInString(s))
		for _, r := range s {
			out = append(out, StringValue(string(r)))
		}
		return out, nil
	case ListValue:
		out := make([]Value, len(t))
		copy(out, t)
		return out, nil
	case DictValue:
		keys := t.Keys()
		out := make([]Value, len(keys))
		for i, k := range keys {
			out[i] = StringValue(k)
		}
		return out, nil
	}
	return nil, fmt.Errorf("value of type %s is not iterable", TypeName(v))
}

// Iterate exposes the engine's iteration rule to other packages. None
// yields an empty slice.
func Iterate(v Value) ([]Value, error) {
	if IsNone(v) {
		return nil, nil
	}
	return iterateValue(v)
}

// ToNumber coerces v to float64: booleans are 0 or 1, none is 0 and
// strings must parse as a number.
func ToNumber(v Value) (float64, error) {
	switch t := v.(type) {
	case nil, NoneValue:
		return 0, nil
	case FloatValue:
		return float64(t), nil
	case BoolValue:
		if t {
			return 1, nil
		}
		return 0, nil
	case StringValue:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(t)), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert string %q to a number", string(t))
		}
		return f, nil
	}
	return 0, fmt.Errorf("cannot convert %s to a number", TypeName(v))
}
