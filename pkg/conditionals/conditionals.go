// Package conditionals evaluates task guards such as `when`,
// `failed_when` and `changed_when`.
package conditionals

import (
	"strings"

	"github.com/fulcrumlabs/conductor/pkg/jinja2"
	"github.com/fulcrumlabs/conductor/pkg/templating"
)

// Evaluator decides conditions with an Expander.
type Evaluator struct {
	Expander *templating.Expander
}

func New(x *templating.Expander) *Evaluator {
	if x == nil {
		x = templating.New(nil)
	}
	return &Evaluator{Expander: x}
}

// Evaluate returns true for a blank condition. Otherwise the condition is
// evaluated as an expression and its truthiness is returned.
func (e *Evaluator) Evaluate(cond string, ctx *jinja2.Context) (bool, error) {
	if strings.TrimSpace(cond) == "" {
		return true, nil
	}
	v, err := e.Expander.EvaluateExpression(cond, ctx)
	if err != nil {
		return false, err
	}
	return jinja2.Truthy(v), nil
}

// EvaluateAll is true when every condition holds. Evaluation stops at the
// first false condition.
func (e *Evaluator) EvaluateAll(conds []string, ctx *jinja2.Context) (bool, error) {
	for _, c := range conds {
		ok, err := e.Evaluate(c, ctx)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}
