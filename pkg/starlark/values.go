package starlark

import (
	"math"

	"github.com/fulcrumlabs/conductor/pkg/jinja2"
	"go.starlark.net/starlark"
)

// maxExactInt is the largest magnitude a float64 holds without rounding.
const maxExactInt = 1 << 53

// ToStarlark converts a template value for use in a script. Integral
// numbers become Starlark ints so scripts can index and range over them.
// Dict keys are inserted in sorted order.
func ToStarlark(val jinja2.Value) starlark.Value {
	switch v := val.(type) {
	case nil, jinja2.NoneValue:
		return starlark.None
	case jinja2.BoolValue:
		return starlark.Bool(v)
	case jinja2.StringValue:
		return starlark.String(v)
	case jinja2.FloatValue:
		if f := float64(v); f == math.Trunc(f) && math.Abs(f) < maxExactInt {
			return starlark.MakeInt64(int64(f))
		}
		return starlark.Float(v)
	case jinja2.ListValue:
		elems := make([]starlark.Value, 0, len(v))
		for _, item := range v {
			elems = append(elems, ToStarlark(item))
		}
		return starlark.NewList(elems)
	case jinja2.DictValue:
		d := starlark.NewDict(len(v))
		for _, k := range v.Keys() {
			// SetKey only fails for unhashable keys or frozen dicts.
			_ = d.SetKey(starlark.String(k), ToStarlark(v[k]))
		}
		return d
	}
	return starlark.String(val.String())
}

// FromStarlark converts a script result back to a template value. Lists
// and tuples both become lists; ints too large for a float64 are kept as
// their decimal text.
func FromStarlark(val starlark.Value) jinja2.Value {
	switch v := val.(type) {
	case nil, starlark.NoneType:
		return jinja2.NoneValue{}
	case starlark.Bool:
		return jinja2.BoolValue(v)
	case starlark.String:
		return jinja2.StringValue(v)
	case starlark.Float:
		return jinja2.FloatValue(v)
	case starlark.Int:
		if i, ok := v.Int64(); ok && i > -maxExactInt && i < maxExactInt {
			return jinja2.FloatValue(i)
		}
		return jinja2.StringValue(v.String())
	case starlark.Indexable:
		out := make(jinja2.ListValue, v.Len())
		for i := range out {
			out[i] = FromStarlark(v.Index(i))
		}
		return out
	case *starlark.Dict:
		out := make(jinja2.DictValue, v.Len())
		for _, kv := range v.Items() {
			key, ok := starlark.AsString(kv[0])
			if !ok {
				key = kv[0].String()
			}
			out[key] = FromStarlark(kv[1])
		}
		return out
	}
	return jinja2.StringValue(val.String())
}

// WrapContext exposes every visible variable as a Starlark global.
func WrapContext(ctx *jinja2.Context) starlark.StringDict {
	globals := starlark.StringDict{}
	if ctx == nil {
		return globals
	}
	for name, val := range ctx.Flatten() {
		globals[name] = ToStarlark(val)
	}
	return globals
}
