package jinja2

import (
	"strings"
)

// Renderer walks a Document against a Context, applying filters from its
// registry. A Renderer holds no per-render state and may be shared between
// goroutines as long as each render uses its own Context.
type Renderer struct {
	Filters Filters
}

// NewRenderer returns a renderer using filters, or a fresh DefaultFilters
// registry when filters is nil.
func NewRenderer(filters Filters) *Renderer {
	if filters == nil {
		filters = DefaultFilters()
	}
	return &Renderer{Filters: filters}
}

// Render renders doc against ctx. A nil ctx renders against an empty root
// context.
func (r *Renderer) Render(doc *Document, ctx *Context) (string, error) {
	if ctx == nil {
		ctx = NewContext()
	}
	var buf strings.Builder
	if err := r.renderNodes(&buf, doc.Nodes, ctx); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderString parses and renders src in one step.
func (r *Renderer) RenderString(src string, ctx *Context) (string, error) {
	doc, err := Parse(src)
	if err != nil {
		return "", err
	}
	return r.Render(doc, ctx)
}

func (r *Renderer) renderNodes(buf *strings.Builder, nodes []Node, ctx *Context) error {
	for _, n := range nodes {
		switch t := n.(type) {
		case *TextNode:
			buf.WriteString(t.Text)
		case *OutputNode:
			v, err := r.Evaluate(t.Expr, ctx)
			if err != nil {
				return err
			}
			buf.WriteString(Format(v))
		case *IfNode:
			if err := r.renderIf(buf, t, ctx); err != nil {
				return err
			}
		case *ForNode:
			if err := r.renderFor(buf, t, ctx); err != nil {
				return err
			}
		case *Document:
			if err := r.renderNodes(buf, t.Nodes, ctx); err != nil {
				return err
			}
		default:
			return &RenderError{Msg: "unhandled node type " + typeOf(n)}
		}
	}
	return nil
}

func (r *Renderer) renderIf(buf *strings.Builder, n *IfNode, ctx *Context) error {
	ok, err := r.truth(n.Cond, ctx)
	if err != nil {
		return err
	}
	if ok {
		return r.renderNodes(buf, n.Then, ctx)
	}
	for _, e := range n.Elifs {
		ok, err := r.truth(e.Cond, ctx)
		if err != nil {
			return err
		}
		if ok {
			return r.renderNodes(buf, e.Body, ctx)
		}
	}
	return r.renderNodes(buf, n.Else, ctx)
}

// renderFor binds the loop variable into one child scope that is reused
// for every iteration, so neither the target nor `loop` leak into ctx.
func (r *Renderer) renderFor(buf *strings.Builder, n *ForNode, ctx *Context) error {
	v, err := r.Evaluate(n.Iterable, ctx)
	if err != nil {
		return err
	}
	var items []Value
	if !IsNone(v) {
		items, err = iterateValue(v)
		if err != nil {
			return &RenderError{Msg: "'for' requires an iterable", Pos: n.Pos, Err: err}
		}
	}
	if len(items) == 0 {
		return r.renderNodes(buf, n.Else, ctx)
	}
	scope := ctx.Child()
	for i, item := range items {
		scope.Set(n.Target, item)
		scope.Set("loop", LoopInfo(i, len(items)))
		if err := r.renderNodes(buf, n.Body, scope); err != nil {
			return err
		}
	}
	return nil
}

// LoopInfo is the value bound to `loop` inside a for body.
func LoopInfo(i, length int) DictValue {
	return DictValue{
		"index":  FloatValue(i + 1),
		"index0": FloatValue(i),
		"first":  BoolValue(i == 0),
		"last":   BoolValue(i == length-1),
		"length": FloatValue(length),
	}
}

func (r *Renderer) truth(e Expr, ctx *Context) (bool, error) {
	v, err := r.Evaluate(e, ctx)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}
