package jinja2

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Evaluate computes the value of an expression against ctx.
func (r *Renderer) Evaluate(e Expr, ctx *Context) (Value, error) {
	if ctx == nil {
		ctx = NewContext()
	}
	switch t := e.(type) {
	case *LiteralExpr:
		if t.Value == nil {
			return NoneValue{}, nil
		}
		return t.Value, nil
	case *VariableExpr:
		return ctx.Lookup(t.Name), nil
	case *BinaryExpr:
		return r.evalBinary(t, ctx)
	case *UnaryExpr:
		return r.evalUnary(t, ctx)
	case *MemberExpr:
		obj, err := r.Evaluate(t.Object, ctx)
		if err != nil {
			return nil, err
		}
		return member(obj, t.Name), nil
	case *IndexExpr:
		obj, err := r.Evaluate(t.Object, ctx)
		if err != nil {
			return nil, err
		}
		idx, err := r.Evaluate(t.Index, ctx)
		if err != nil {
			return nil, err
		}
		v, err := index(obj, idx)
		if err != nil {
			return nil, &RenderError{Msg: "invalid index", Pos: t.Pos, Err: err}
		}
		return v, nil
	case *FilterExpr:
		return r.evalFilter(t, ctx)
	case *TestExpr:
		return r.evalTest(t, ctx)
	case *ListExpr:
		out := make(ListValue, 0, len(t.Items))
		for _, item := range t.Items {
			v, err := r.Evaluate(item, ctx)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
	return nil, &RenderError{Msg: "unhandled expression type " + typeOf(e)}
}

func (r *Renderer) evalBinary(e *BinaryExpr, ctx *Context) (Value, error) {
	left, err := r.Evaluate(e.Left, ctx)
	if err != nil {
		return nil, err
	}
	// and/or stop as soon as the left side decides the result
	switch e.Op {
	case "and":
		if !Truthy(left) {
			return BoolValue(false), nil
		}
		right, err := r.Evaluate(e.Right, ctx)
		if err != nil {
			return nil, err
		}
		return BoolValue(Truthy(right)), nil
	case "or":
		if Truthy(left) {
			return BoolValue(true), nil
		}
		right, err := r.Evaluate(e.Right, ctx)
		if err != nil {
			return nil, err
		}
		return BoolValue(Truthy(right)), nil
	}

	right, err := r.Evaluate(e.Right, ctx)
	if err != nil {
		return nil, err
	}
	switch e.Op {
	case "==":
		return BoolValue(Equal(left, right)), nil
	case "!=":
		return BoolValue(!Equal(left, right)), nil
	case "in", "not in":
		found, err := contains(right, left)
		if err != nil {
			return nil, &RenderError{Msg: fmt.Sprintf("'%s' requires an iterable right operand", e.Op), Pos: e.Pos, Err: err}
		}
		if e.Op == "not in" {
			found = !found
		}
		return BoolValue(found), nil
	case "~":
		return StringValue(Format(left) + Format(right)), nil
	}

	l, err := ToNumber(left)
	if err != nil {
		return nil, &RenderError{Msg: fmt.Sprintf("invalid left operand for '%s'", e.Op), Pos: e.Pos, Err: err}
	}
	rt, err := ToNumber(right)
	if err != nil {
		return nil, &RenderError{Msg: fmt.Sprintf("invalid right operand for '%s'", e.Op), Pos: e.Pos, Err: err}
	}
	switch e.Op {
	case "<":
		return BoolValue(l < rt), nil
	case "<=":
		return BoolValue(l <= rt), nil
	case ">":
		return BoolValue(l > rt), nil
	case ">=":
		return BoolValue(l >= rt), nil
	case "+":
		return FloatValue(l + rt), nil
	case "-":
		return FloatValue(l - rt), nil
	case "*":
		return FloatValue(l * rt), nil
	case "**":
		return FloatValue(math.Pow(l, rt)), nil
	case "/", "//", "%":
		if rt == 0 {
			return nil, &RenderError{Msg: "division by zero", Pos: e.Pos}
		}
		switch e.Op {
		case "/":
			return FloatValue(l / rt), nil
		case "//":
			return FloatValue(math.Floor(l / rt)), nil
		default:
			return FloatValue(math.Mod(l, rt)), nil
		}
	}
	return nil, &RenderError{Msg: fmt.Sprintf("unknown operator '%s'", e.Op), Pos: e.Pos}
}

func (r *Renderer) evalUnary(e *UnaryExpr, ctx *Context) (Value, error) {
	v, err := r.Evaluate(e.Operand, ctx)
	if err != nil {
		return nil, err
	}
	switch e.Op {
	case "not":
		return BoolValue(!Truthy(v)), nil
	case "-":
		f, err := ToNumber(v)
		if err != nil {
			return nil, &RenderError{Msg: "invalid operand for unary '-'", Pos: e.Pos, Err: err}
		}
		return FloatValue(-f), nil
	}
	return nil, &RenderError{Msg: fmt.Sprintf("unknown unary operator '%s'", e.Op), Pos: e.Pos}
}

func (r *Renderer) evalFilter(e *FilterExpr, ctx *Context) (Value, error) {
	val, err := r.Evaluate(e.Value, ctx)
	if err != nil {
		return nil, err
	}
	args := make([]Value, len(e.Args))
	for i, a := range e.Args {
		if args[i], err = r.Evaluate(a, ctx); err != nil {
			return nil, err
		}
	}
	fn, ok := r.Filters.Get(e.Name)
	if !ok {
		return nil, &RenderError{Msg: "Unknown filter: " + e.Name + Suggest(e.Name, r.Filters.Names()), Pos: e.Pos}
	}
	out, err := fn(val, args, &FilterContext{Vars: ctx, Renderer: r})
	if err != nil {
		var fe *FilterError
		if !errors.As(err, &fe) {
			err = &FilterError{Filter: e.Name, Err: err}
		}
		return nil, &RenderError{Msg: fmt.Sprintf("filter '%s' failed", e.Name), Pos: e.Pos, Err: err}
	}
	if out == nil {
		out = NoneValue{}
	}
	return out, nil
}

func (r *Renderer) evalTest(e *TestExpr, ctx *Context) (Value, error) {
	name := strings.ToLower(e.Name)
	var result bool
	switch name {
	case "defined", "undefined":
		if v, ok := e.Operand.(*VariableExpr); ok {
			result = ctx.IsDefined(v.Name)
		} else {
			val, err := r.Evaluate(e.Operand, ctx)
			if err != nil {
				return nil, err
			}
			result = !IsNone(val)
		}
		if name == "undefined" {
			result = !result
		}
	default:
		val, err := r.Evaluate(e.Operand, ctx)
		if err != nil {
			return nil, err
		}
		switch name {
		case "none":
			result = IsNone(val)
		case "string":
			_, result = val.(StringValue)
		case "number":
			_, result = val.(FloatValue)
		case "mapping":
			_, result = val.(DictValue)
		case "sequence":
			switch val.(type) {
			case ListValue, StringValue:
				result = true
			}
		case "iterable":
			switch val.(type) {
			case ListValue, StringValue, DictValue:
				result = true
			}
		case "true", "false":
			b, ok := val.(BoolValue)
			result = ok && bool(b) == (name == "true")
		case "even", "odd":
			f, ok := val.(FloatValue)
			if !ok {
				return nil, &RenderError{Msg: fmt.Sprintf("test '%s' requires a number, got %s", name, TypeName(val)), Pos: e.Pos}
			}
			even := math.Mod(float64(f), 2) == 0
			result = even == (name == "even")
		default:
			return nil, &RenderError{Msg: "Unknown test: " + e.Name, Pos: e.Pos}
		}
	}
	if e.Negated {
		result = !result
	}
	return BoolValue(result), nil
}

// member resolves obj.name. Missing keys and non-container values yield
// none rather than an error.
func member(obj Value, name string) Value {
	switch t := obj.(type) {
	case DictValue:
		if v, ok := t[name]; ok {
			return v
		}
	case LookupHook:
		if v, ok := t.OnLookup(name); ok && v != nil {
			return v
		}
	case ListValue:
		if i, err := strconv.Atoi(name); err == nil && i >= 0 && i < len(t) {
			return t[i]
		}
	}
	return NoneValue{}
}

// index resolves obj[idx]. Out of range positions and missing keys yield
// none; indexing a value that is not a container is an error.
func index(obj, idx Value) (Value, error) {
	if IsNone(obj) || IsNone(idx) {
		return NoneValue{}, nil
	}
	switch t := obj.(type) {
	case DictValue:
		if v, ok := t[Format(idx)]; ok {
			return v, nil
		}
		return NoneValue{}, nil
	case ListValue:
		i, err := intIndex(idx)
		if err != nil {
			return nil, err
		}
		if i < 0 || i >= len(t) {
			return NoneValue{}, nil
		}
		return t[i], nil
	case StringValue:
		i, err := intIndex(idx)
		if err != nil {
			return nil, err
		}
		if i < 0 || i >= utf8.RuneCountInString(string(t)) {
			return NoneValue{}, nil
		}
		return StringValue(string([]rune(string(t))[i])), nil
	case LookupHook:
		if v, ok := t.OnLookup(Format(idx)); ok && v != nil {
			return v, nil
		}
		return NoneValue{}, nil
	}
	return nil, fmt.Errorf("value of type %s is not indexable", TypeName(obj))
}

func intIndex(idx Value) (int, error) {
	f, ok := idx.(FloatValue)
	if !ok {
		return 0, fmt.Errorf("indices must be numbers, not %s", TypeName(idx))
	}
	if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
		return -1, nil
	}
	return int(f), nil
}

// contains implements `item in container`. Strings test for a substring
// and dicts for a key.
func contains(container, item Value) (bool, error) {
	switch t := container.(type) {
	case ListValue:
		for _, v := range t {
			if Equal(v, item) {
				return true, nil
			}
		}
		return false, nil
	case StringValue:
		return strings.Contains(string(t), Format(item)), nil
	case DictValue:
		_, ok := t[Format(item)]
		return ok, nil
	}
	return false, fmt.Errorf("value of type %s is not iterable", TypeName(container))
}

// Suggest returns a " (did you mean ...?)" hint for a misspelled name, or
// "" when nothing is close.
func Suggest(name string, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	ranks := fuzzy.RankFindFold(name, candidates)
	if len(ranks) == 0 {
		return ""
	}
	best := ranks[0]
	for _, r := range ranks[1:] {
		if r.Distance < best.Distance {
			best = r
		}
	}
	return fmt.Sprintf(" (did you mean %q?)", best.Target)
}

func typeOf(v any) string { return fmt.Sprintf("%T", v) }
