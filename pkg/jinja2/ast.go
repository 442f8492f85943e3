package jinja2

// Node is a template statement. Document, TextNode, OutputNode, ForNode and
// IfNode are the only implementations.
type Node interface{ node() }

// Expr is an expression inside {{ }} or a statement tag.
type Expr interface {
	expr()
	Position() Position
}

type Document struct {
	Nodes []Node
}

type TextNode struct {
	Text string
	Pos  Position
}

type OutputNode struct {
	Expr Expr
	Pos  Position
}

type ElifBranch struct {
	Cond Expr
	Body []Node
}

type IfNode struct {
	Cond  Expr
	Then  []Node
	Elifs []ElifBranch
	Else  []Node
	Pos   Position
}

type ForNode struct {
	Target   string
	Iterable Expr
	Body     []Node
	Else     []Node
	Pos      Position
}

func (*Document) node()   {}
func (*TextNode) node()   {}
func (*OutputNode) node() {}
func (*IfNode) node()     {}
func (*ForNode) node()    {}

// LiteralExpr holds a none, bool, number or string constant.
type LiteralExpr struct {
	Value Value
	Pos   Position
}

type VariableExpr struct {
	Name string
	Pos  Position
}

// BinaryExpr covers arithmetic, comparison, membership and logical
// operators. Op is the operator's source spelling, e.g. "+", "//", "and",
// "not in".
type BinaryExpr struct {
	Left  Expr
	Op    string
	Right Expr
	Pos   Position
}

// UnaryExpr is "not" or "-".
type UnaryExpr struct {
	Op      string
	Operand Expr
	Pos     Position
}

// MemberExpr is obj.name.
type MemberExpr struct {
	Object Expr
	Name   string
	Pos    Position
}

// IndexExpr is obj[index].
type IndexExpr struct {
	Object Expr
	Index  Expr
	Pos    Position
}

// FilterExpr is value | name(args...).
type FilterExpr struct {
	Value Expr
	Name  string
	Args  []Expr
	Pos   Position
}

// TestExpr is operand is [not] name.
type TestExpr struct {
	Operand Expr
	Name    string
	Negated bool
	Pos     Position
}

// ListExpr is a [a, b, ...] literal.
type ListExpr struct {
	Items []Expr
	Pos   Position
}

func (*LiteralExpr) expr()  {}
func (*VariableExpr) expr() {}
func (*BinaryExpr) expr()   {}
func (*UnaryExpr) expr()    {}
func (*MemberExpr) expr()   {}
func (*IndexExpr) expr()    {}
func (*FilterExpr) expr()   {}
func (*TestExpr) expr()     {}
func (*ListExpr) expr()     {}

func (e *LiteralExpr) Position() Position  { return e.Pos }
func (e *VariableExpr) Position() Position { return e.Pos }
func (e *BinaryExpr) Position() Position   { return e.Pos }
func (e *UnaryExpr) Position() Position    { return e.Pos }
func (e *MemberExpr) Position() Position   { return e.Pos }
func (e *IndexExpr) Position() Position    { return e.Pos }
func (e *FilterExpr) Position() Position   { return e.Pos }
func (e *TestExpr) Position() Position     { return e.Pos }
func (e *ListExpr) Position() Position     { return e.Pos }
