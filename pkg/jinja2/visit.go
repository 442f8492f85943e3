package jinja2

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
)

type Visitor interface {
	Visit(n Node) error
}

// Walk calls v.Visit for n and every statement nested inside it, depth
// first in source order.
func Walk(v Visitor, n Node) error {
	if err := v.Visit(n); err != nil {
		return err
	}
	var children [][]Node
	switch t := n.(type) {
	case *Document:
		children = append(children, t.Nodes)
	case *IfNode:
		children = append(children, t.Then)
		for _, e := range t.Elifs {
			children = append(children, e.Body)
		}
		children = append(children, t.Else)
	case *ForNode:
		children = append(children, t.Body, t.Else)
	}
	for _, list := range children {
		for _, c := range list {
			if err := Walk(v, c); err != nil {
				return err
			}
		}
	}
	return nil
}

// VisitorFunc adapts a function to the Visitor interface.
type VisitorFunc func(n Node) error

func (f VisitorFunc) Visit(n Node) error { return f(n) }

// WalkExpr calls fn for e and every sub-expression.
func WalkExpr(e Expr, fn func(Expr)) {
	if e == nil {
		return
	}
	fn(e)
	switch t := e.(type) {
	case *BinaryExpr:
		WalkExpr(t.Left, fn)
		WalkExpr(t.Right, fn)
	case *UnaryExpr:
		WalkExpr(t.Operand, fn)
	case *MemberExpr:
		WalkExpr(t.Object, fn)
	case *IndexExpr:
		WalkExpr(t.Object, fn)
		WalkExpr(t.Index, fn)
	case *FilterExpr:
		WalkExpr(t.Value, fn)
		for _, a := range t.Args {
			WalkExpr(a, fn)
		}
	case *TestExpr:
		WalkExpr(t.Operand, fn)
	case *ListExpr:
		for _, item := range t.Items {
			WalkExpr(item, fn)
		}
	}
}

// Variables returns the sorted names of free variables referenced by doc.
// Loop targets and `loop` are not free inside their own for body.
func Variables(doc *Document) []string {
	seen := map[string]bool{}
	var visit func(nodes []Node, bound map[string]bool)
	exprVars := func(e Expr, bound map[string]bool) {
		WalkExpr(e, func(x Expr) {
			if v, ok := x.(*VariableExpr); ok && !bound[v.Name] {
				seen[v.Name] = true
			}
		})
	}
	visit = func(nodes []Node, bound map[string]bool) {
		for _, n := range nodes {
			switch t := n.(type) {
			case *OutputNode:
				exprVars(t.Expr, bound)
			case *IfNode:
				exprVars(t.Cond, bound)
				visit(t.Then, bound)
				for _, e := range t.Elifs {
					exprVars(e.Cond, bound)
					visit(e.Body, bound)
				}
				visit(t.Else, bound)
			case *ForNode:
				exprVars(t.Iterable, bound)
				inner := map[string]bool{t.Target: true, "loop": true}
				for k := range bound {
					inner[k] = true
				}
				visit(t.Body, inner)
				visit(t.Else, bound)
			}
		}
	}
	visit(doc.Nodes, map[string]bool{})
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Pretty returns a line-oriented string representation of the AST.
func Pretty(doc *Document) string {
	var buf bytes.Buffer
	ppNode(&buf, 0, doc)
	return buf.String()
}

func ppNode(buf *bytes.Buffer, indent int, n Node) {
	ind := strings.Repeat(" ", indent)
	switch t := n.(type) {
	case *Document:
		buf.WriteString(ind + "Document\n")
		for _, c := range t.Nodes {
			ppNode(buf, indent+2, c)
		}
	case *TextNode:
		fmt.Fprintf(buf, "%sText(%q)\n", ind, t.Text)
	case *OutputNode:
		fmt.Fprintf(buf, "%sOutput(%s)\n", ind, ExprString(t.Expr))
	case *IfNode:
		fmt.Fprintf(buf, "%sIf(%s)\n", ind, ExprString(t.Cond))
		for _, c := range t.Then {
			ppNode(buf, indent+2, c)
		}
		for _, e := range t.Elifs {
			fmt.Fprintf(buf, "%sElif(%s)\n", ind, ExprString(e.Cond))
			for _, c := range e.Body {
				ppNode(buf, indent+2, c)
			}
		}
		if len(t.Else) > 0 {
			buf.WriteString(ind + "Else\n")
			for _, c := range t.Else {
				ppNode(buf, indent+2, c)
			}
		}
	case *ForNode:
		fmt.Fprintf(buf, "%sFor(%s in %s)\n", ind, t.Target, ExprString(t.Iterable))
		for _, c := range t.Body {
			ppNode(buf, indent+2, c)
		}
		if len(t.Else) > 0 {
			buf.WriteString(ind + "Else\n")
			for _, c := range t.Else {
				ppNode(buf, indent+2, c)
			}
		}
	}
}

// ExprString renders an expression back to a fully parenthesized source
// form, e.g. (a + (b * 2)).
func ExprString(e Expr) string {
	switch t := e.(type) {
	case *LiteralExpr:
		return repr(t.Value)
	case *VariableExpr:
		return t.Name
	case *BinaryExpr:
		return fmt.Sprintf("(%s %s %s)", ExprString(t.Left), t.Op, ExprString(t.Right))
	case *UnaryExpr:
		if t.Op == "not" {
			return fmt.Sprintf("(not %s)", ExprString(t.Operand))
		}
		return fmt.Sprintf("(%s%s)", t.Op, ExprString(t.Operand))
	case *MemberExpr:
		return ExprString(t.Object) + "." + t.Name
	case *IndexExpr:
		return fmt.Sprintf("%s[%s]", ExprString(t.Object), ExprString(t.Index))
	case *FilterExpr:
		if len(t.Args) == 0 {
			return fmt.Sprintf("(%s | %s)", ExprString(t.Value), t.Name)
		}
		args := make([]string, len(t.Args))
		for i, a := range t.Args {
			args[i] = ExprString(a)
		}
		return fmt.Sprintf("(%s | %s(%s))", ExprString(t.Value), t.Name, strings.Join(args, ", "))
	case *TestExpr:
		not := ""
		if t.Negated {
			not = "not "
		}
		return fmt.Sprintf("(%s is %s%s)", ExprString(t.Operand), not, t.Name)
	case *ListExpr:
		items := make([]string, len(t.Items))
		for i, item := range t.Items {
			items[i] = ExprString(item)
		}
		return "[" + strings.Join(items, ", ") + "]"
	}
	return fmt.Sprintf("<%T>", e)
}
