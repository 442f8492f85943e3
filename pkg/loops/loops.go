// Package loops turns a task's loop definition into the list of items
// the task runs over.
package loops

import (
	"fmt"

	"github.com/fulcrumlabs/conductor/pkg/jinja2"
	"github.com/fulcrumlabs/conductor/pkg/templating"
)

// Kind records which surface syntax declared the loop. Both kinds expand
// the same way.
type Kind int

const (
	Loop Kind = iota
	WithItems
)

func (k Kind) String() string {
	if k == WithItems {
		return "with_items"
	}
	return "loop"
}

// Definition is a loop as written in a task. Items is either a string
// expression or a literal YAML list.
type Definition struct {
	Kind  Kind
	Items any
}

// ExpansionError wraps any failure to produce loop items.
type ExpansionError struct {
	Source string
	Err    error
}

func (e *ExpansionError) Error() string {
	return fmt.Sprintf("expanding %s items: %v", e.Source, e.Err)
}

func (e *ExpansionError) Unwrap() error { return e.Err }

// Expand evaluates def against ctx. A string result becomes a single item,
// none yields no items, sequences are flattened and any other scalar is
// wrapped in a one-item list. Dict results enumerate their sorted keys.
func Expand(x *templating.Expander, def *Definition, ctx *jinja2.Context) ([]jinja2.Value, error) {
	if def == nil || def.Items == nil {
		return nil, nil
	}
	if x == nil {
		x = templating.New(nil)
	}
	src := def.Kind.String()
	var val jinja2.Value
	switch items := def.Items.(type) {
	case string:
		v, err := x.EvaluateExpression(items, ctx)
		if err != nil {
			return nil, &ExpansionError{Source: src, Err: err}
		}
		val = v
	case []any:
		expanded, err := x.ExpandValue(items, ctx)
		if err != nil {
			return nil, &ExpansionError{Source: src, Err: err}
		}
		val = jinja2.FromGo(expanded)
	default:
		val = jinja2.FromGo(items)
	}
	switch v := val.(type) {
	case jinja2.NoneValue:
		return nil, nil
	case jinja2.StringValue:
		return []jinja2.Value{v}, nil
	case jinja2.ListValue:
		return []jinja2.Value(v), nil
	case jinja2.DictValue:
		out := make([]jinja2.Value, 0, len(v))
		for _, k := range v.Keys() {
			out = append(out, jinja2.StringValue(k))
		}
		return out, nil
	}
	return []jinja2.Value{val}, nil
}
