// Package templating expands task parameters and evaluates bare
// expressions against a variable context.
package templating

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/fulcrumlabs/conductor/pkg/jinja2"
)

// ExpansionError attaches the template or expression text to a failure.
type ExpansionError struct {
	Template string
	Err      error
}

func (e *ExpansionError) Error() string {
	return fmt.Sprintf("expanding %q: %v", e.Template, e.Err)
}

func (e *ExpansionError) Unwrap() error { return e.Err }

// Expander renders templates and expressions with a fixed filter registry.
// Parsed templates are cached per Expander, so one Expander should be reused
// for a whole run.
type Expander struct {
	renderer *jinja2.Renderer

	mu    sync.Mutex
	docs  map[string]*jinja2.Document
	exprs map[string]jinja2.Expr
}

// New returns an Expander using filters, or the default registry when
// filters is nil.
func New(filters jinja2.Filters) *Expander {
	return &Expander{
		renderer: jinja2.NewRenderer(filters),
		docs:     map[string]*jinja2.Document{},
		exprs:    map[string]jinja2.Expr{},
	}
}

func (x *Expander) Renderer() *jinja2.Renderer { return x.renderer }

// IsTemplate reports whether s contains template syntax.
func IsTemplate(s string) bool {
	return strings.Contains(s, "{{") || strings.Contains(s, "{%")
}

func (x *Expander) parse(src string) (*jinja2.Document, error) {
	x.mu.Lock()
	doc, ok := x.docs[src]
	x.mu.Unlock()
	if ok {
		return doc, nil
	}
	doc, err := jinja2.Parse(src)
	if err != nil {
		return nil, err
	}
	x.mu.Lock()
	x.docs[src] = doc
	x.mu.Unlock()
	return doc, nil
}

func (x *Expander) parseExpr(src string) (jinja2.Expr, error) {
	x.mu.Lock()
	e, ok := x.exprs[src]
	x.mu.Unlock()
	if ok {
		return e, nil
	}
	e, err := jinja2.ParseExpression(src)
	if err != nil {
		return nil, err
	}
	x.mu.Lock()
	x.exprs[src] = e
	x.mu.Unlock()
	return e, nil
}

// ExpandString renders tpl against ctx. Strings without template syntax
// are returned unchanged.
func (x *Expander) ExpandString(tpl string, ctx *jinja2.Context) (string, error) {
	if !IsTemplate(tpl) {
		return tpl, nil
	}
	doc, err := x.parse(tpl)
	if err != nil {
		return "", &ExpansionError{Template: tpl, Err: err}
	}
	out, err := x.renderer.Render(doc, ctx)
	if err != nil {
		return "", &ExpansionError{Template: tpl, Err: err}
	}
	return out, nil
}

// ExpandValue expands strings inside arbitrary YAML-shaped data. A string
// that is exactly one {{ expression }} keeps the native type of the
// result, so "{{ packages }}" stays a list.
func (x *Expander) ExpandValue(v any, ctx *jinja2.Context) (any, error) {
	switch t := v.(type) {
	case string:
		if expr, ok := singleExpression(t); ok {
			val, err := x.evaluate(expr, ctx)
			if err != nil {
				return nil, &ExpansionError{Template: t, Err: err}
			}
			return jinja2.ToGo(val), nil
		}
		return x.ExpandString(t, ctx)
	case map[string]any:
		return x.ExpandParameters(t, ctx)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			ev, err := x.ExpandValue(item, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	}
	return v, nil
}

// ExpandParameters returns a copy of params with every value expanded.
func (x *Expander) ExpandParameters(params map[string]any, ctx *jinja2.Context) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for k, v := range params {
		ev, err := x.ExpandValue(v, ctx)
		if err != nil {
			return nil, err
		}
		out[k] = ev
	}
	return out, nil
}

// EvaluateExpression evaluates a bare expression such as `result.rc == 0`.
// An optional surrounding {{ }} is stripped. String results are coerced to
// bool or number when they look like one, and blank results become none.
func (x *Expander) EvaluateExpression(expr string, ctx *jinja2.Context) (jinja2.Value, error) {
	src := strings.TrimSpace(expr)
	if inner, ok := singleExpression(src); ok {
		src = inner
	}
	if strings.TrimSpace(src) == "" {
		return jinja2.NoneValue{}, nil
	}
	val, err := x.evaluate(src, ctx)
	if err != nil {
		return nil, &ExpansionError{Template: expr, Err: err}
	}
	if s, ok := val.(jinja2.StringValue); ok {
		return Coerce(string(s)), nil
	}
	return val, nil
}

func (x *Expander) evaluate(src string, ctx *jinja2.Context) (jinja2.Value, error) {
	e, err := x.parseExpr(src)
	if err != nil {
		return nil, err
	}
	return x.renderer.Evaluate(e, ctx)
}

var numberRe = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// Coerce converts rendered text to its best-guess type: blank is none,
// true/false (any case) is a bool, numeric text is a number and anything
// else stays a string.
func Coerce(s string) jinja2.Value {
	t := strings.TrimSpace(s)
	switch {
	case t == "":
		return jinja2.NoneValue{}
	case strings.EqualFold(t, "true"):
		return jinja2.BoolValue(true)
	case strings.EqualFold(t, "false"):
		return jinja2.BoolValue(false)
	case numberRe.MatchString(t):
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return jinja2.FloatValue(f)
		}
	}
	return jinja2.StringValue(s)
}

// singleExpression reports whether s is exactly "{{ expr }}" with nothing
// around it and no second tag inside, returning expr.
func singleExpression(s string) (string, bool) {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "{{") || !strings.HasSuffix(t, "}}") || len(t) < 4 {
		return "", false
	}
	inner := t[2 : len(t)-2]
	if strings.Contains(inner, "{{") || strings.Contains(inner, "}}") || strings.Contains(inner, "{%") {
		return "", false
	}
	return inner, true
}
