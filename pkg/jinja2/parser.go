package jinja2

import (
	"fmt"
	"slices"
	"strconv"
)

// Parse tokenizes and parses a template string into a Document AST.
// It recognizes text, output expressions, comments and the block
// statements if/elif/else/endif and for/else/endfor.
func Parse(src string) (*Document, error) {
	toks, err := Tokenize(src)
	if err != nil {
		return nil, err
	}
	return ParseTokens(toks)
}

// ParseTokens parses a token stream produced by Tokenize.
func ParseTokens(toks []Token) (*Document, error) {
	if len(toks) == 0 || toks[len(toks)-1].Kind != TokenEOF {
		toks = append(slices.Clip(toks), Token{Kind: TokenEOF})
	}
	p := &parser{toks: toks}
	nodes, err := p.parseNodes()
	if err != nil {
		return nil, err
	}
	if !p.at(TokenEOF) {
		// parseNodes only stops early at a block keyword nobody asked for
		return nil, p.errorf(p.peek(1), "unexpected %s", p.peek(1).Kind)
	}
	return &Document{Nodes: nodes}, nil
}

// ParseExpression parses a bare expression such as `a.b | upper` with no
// surrounding delimiters.
func ParseExpression(src string) (Expr, error) {
	toks, err := Tokenize("{{" + src + "}}")
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	if _, err := p.expect(TokenVarStart); err != nil {
		return nil, err
	}
	if p.at(TokenVarEnd) {
		return nil, p.errorf(p.cur(), "empty expression")
	}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if !p.at(TokenVarEnd) {
		return nil, p.errorf(p.cur(), "unexpected %s after expression", p.cur())
	}
	p.next()
	if !p.at(TokenEOF) {
		return nil, p.errorf(p.cur(), "unexpected %s after expression", p.cur())
	}
	return e, nil
}

type parser struct {
	toks []Token
	i    int
}

func (p *parser) cur() Token { return p.peek(0) }

func (p *parser) peek(n int) Token {
	if p.i+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.i+n]
}

func (p *parser) at(kind TokenKind) bool { return p.cur().Kind == kind }

func (p *parser) next() Token {
	t := p.cur()
	if p.i < len(p.toks)-1 {
		p.i++
	}
	return t
}

func (p *parser) expect(kind TokenKind) (Token, error) {
	t := p.cur()
	if t.Kind != kind {
		return t, p.errorf(t, "expected %s, got %s", kind, t)
	}
	p.next()
	return t, nil
}

func (p *parser) errorf(t Token, format string, args ...any) error {
	return &ParseError{Msg: fmt.Sprintf(format, args...), Pos: t.Pos}
}

// atBlock reports whether the next two tokens are {% followed by one of
// the given keywords. Nothing is consumed.
func (p *parser) atBlock(kinds ...TokenKind) bool {
	return p.at(TokenBlockStart) && slices.Contains(kinds, p.peek(1).Kind)
}

// parseNodes parses statements until EOF or until a {% tag whose keyword
// closes an enclosing block (endfor, endif, elif, else). The closing tag
// is left for the caller.
func (p *parser) parseNodes() ([]Node, error) {
	var nodes []Node
	for {
		t := p.cur()
		switch t.Kind {
		case TokenEOF:
			return nodes, nil
		case TokenText:
			p.next()
			nodes = append(nodes, &TextNode{Text: t.Lit, Pos: t.Pos})
		case TokenVarStart:
			p.next()
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TokenVarEnd); err != nil {
				return nil, err
			}
			nodes = append(nodes, &OutputNode{Expr: e, Pos: t.Pos})
		case TokenBlockStart:
			switch p.peek(1).Kind {
			case TokenFor:
				n, err := p.parseFor()
				if err != nil {
					return nil, err
				}
				nodes = append(nodes, n)
			case TokenIf:
				n, err := p.parseIf()
				if err != nil {
					return nil, err
				}
				nodes = append(nodes, n)
			case TokenEndFor, TokenEndIf, TokenElif, TokenElse:
				return nodes, nil
			default:
				return nil, p.errorf(p.peek(1), "unknown statement %s", p.peek(1))
			}
		default:
			return nil, p.errorf(t, "unexpected %s", t)
		}
	}
}

// parseBody parses a block body and verifies it stopped at one of the
// allowed closing keywords.
func (p *parser) parseBody(block string, closers ...TokenKind) ([]Node, error) {
	body, err := p.parseNodes()
	if err != nil {
		return nil, err
	}
	if !p.atBlock(closers...) {
		if p.at(TokenEOF) {
			return nil, p.errorf(p.cur(), "unexpected end of template, unclosed '%s' block", block)
		}
		return nil, p.errorf(p.peek(1), "unexpected %s inside '%s' block", p.peek(1), block)
	}
	return body, nil
}

// closeTag consumes {% <kind> %}.
func (p *parser) closeTag(kind TokenKind) error {
	if _, err := p.expect(TokenBlockStart); err != nil {
		return err
	}
	if _, err := p.expect(kind); err != nil {
		return err
	}
	_, err := p.expect(TokenBlockEnd)
	return err
}

func (p *parser) parseFor() (*ForNode, error) {
	start := p.next() // {%
	p.next()          // for
	target, err := p.expect(TokenIdent)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenIn); err != nil {
		return nil, err
	}
	iter, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenBlockEnd); err != nil {
		return nil, err
	}
	n := &ForNode{Target: target.Lit, Iterable: iter, Pos: start.Pos}
	if n.Body, err = p.parseBody("for", TokenEndFor, TokenElse); err != nil {
		return nil, err
	}
	if p.atBlock(TokenElse) {
		if err := p.closeTag(TokenElse); err != nil {
			return nil, err
		}
		if n.Else, err = p.parseBody("for", TokenEndFor); err != nil {
			return nil, err
		}
	}
	if err := p.closeTag(TokenEndFor); err != nil {
		return nil, err
	}
	return n, nil
}

func (p *parser) parseIf() (*IfNode, error) {
	start := p.next() // {%
	p.next()          // if
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenBlockEnd); err != nil {
		return nil, err
	}
	n := &IfNode{Cond: cond, Pos: start.Pos}
	if n.Then, err = p.parseBody("if", TokenElif, TokenElse, TokenEndIf); err != nil {
		return nil, err
	}
	for p.atBlock(TokenElif) {
		p.next()
		p.next()
		c, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenBlockEnd); err != nil {
			return nil, err
		}
		body, err := p.parseBody("if", TokenElif, TokenElse, TokenEndIf)
		if err != nil {
			return nil, err
		}
		n.Elifs = append(n.Elifs, ElifBranch{Cond: c, Body: body})
	}
	if p.atBlock(TokenElse) {
		if err := p.closeTag(TokenElse); err != nil {
			return nil, err
		}
		if n.Else, err = p.parseBody("if", TokenEndIf); err != nil {
			return nil, err
		}
	}
	if err := p.closeTag(TokenEndIf); err != nil {
		return nil, err
	}
	return n, nil
}

// Expression grammar, lowest precedence first:
//
//	or -> and -> comparison -> additive -> multiplicative -> unary -> power -> postfix -> primary
func (p *parser) parseExpr() (Expr, error) { return p.parseOr() }

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.at(TokenOr) {
		op := p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Left: left, Op: "or", Right: right, Pos: op.Pos}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.at(TokenAnd) {
		op := p.next()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Left: left, Op: "and", Right: right, Pos: op.Pos}
	}
	return left, nil
}

var comparisonOps = map[TokenKind]string{
	TokenEq: "==",
	TokenNe: "!=",
	TokenLt: "<",
	TokenLe: "<=",
	TokenGt: ">",
	TokenGe: ">=",
	TokenIn: "in",
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		t := p.cur()
		switch {
		case t.Kind == TokenIs:
			p.next()
			test := &TestExpr{Operand: left, Pos: t.Pos}
			if p.at(TokenNot) {
				p.next()
				test.Negated = true
			}
			name := p.next()
			switch name.Kind {
			case TokenIdent, TokenNone, TokenTrue, TokenFalse:
				test.Name = name.Lit
			default:
				return nil, p.errorf(name, "expected test name after 'is', got %s", name)
			}
			left = test
		case t.Kind == TokenNot && p.peek(1).Kind == TokenIn:
			p.next()
			p.next()
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = &BinaryExpr{Left: left, Op: "not in", Right: right, Pos: t.Pos}
		default:
			op, ok := comparisonOps[t.Kind]
			if !ok {
				return left, nil
			}
			p.next()
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = &BinaryExpr{Left: left, Op: op, Right: right, Pos: t.Pos}
		}
	}
}

func (p *parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.at(TokenPlus) || p.at(TokenMinus) || p.at(TokenTilde) {
		op := p.next()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Left: left, Op: op.Lit, Right: right, Pos: op.Pos}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.at(TokenStar) || p.at(TokenSlash) || p.at(TokenFloorDiv) || p.at(TokenPercent) {
		op := p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Left: left, Op: op.Lit, Right: right, Pos: op.Pos}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.at(TokenNot) || p.at(TokenMinus) {
		op := p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: op.Lit, Operand: operand, Pos: op.Pos}, nil
	}
	return p.parsePower()
}

// parsePower is right associative and binds tighter than unary minus on
// its left: -2 ** 2 is -(2 ** 2).
func (p *parser) parsePower() (Expr, error) {
	base, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	if !p.at(TokenPower) {
		return base, nil
	}
	op := p.next()
	exp, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return &BinaryExpr{Left: base, Op: "**", Right: exp, Pos: op.Pos}, nil
}

func (p *parser) parsePostfix() (Expr, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.cur()
		switch t.Kind {
		case TokenDot:
			p.next()
			name := p.next()
			switch {
			case name.Kind == TokenIdent || name.Kind == TokenNumber:
			case keywordToken(name):
			default:
				return nil, p.errorf(name, "expected attribute name after '.', got %s", name)
			}
			e = &MemberExpr{Object: e, Name: name.Lit, Pos: t.Pos}
		case TokenLBracket:
			p.next()
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TokenRBracket); err != nil {
				return nil, err
			}
			e = &IndexExpr{Object: e, Index: idx, Pos: t.Pos}
		case TokenPipe:
			p.next()
			name, err := p.expect(TokenIdent)
			if err != nil {
				return nil, err
			}
			f := &FilterExpr{Value: e, Name: name.Lit, Pos: name.Pos}
			if p.at(TokenLParen) {
				p.next()
				if f.Args, err = p.parseExprList(TokenRParen); err != nil {
					return nil, err
				}
			}
			e = f
		default:
			return e, nil
		}
	}
}

// parseExprList parses comma separated expressions up to and including
// the closing token. A trailing comma is allowed.
func (p *parser) parseExprList(closing TokenKind) ([]Expr, error) {
	var out []Expr
	for !p.at(closing) {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		if !p.at(TokenComma) {
			break
		}
		p.next()
	}
	if _, err := p.expect(closing); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.cur()
	switch t.Kind {
	case TokenNumber:
		p.next()
		f, err := strconv.ParseFloat(t.Lit, 64)
		if err != nil {
			return nil, p.errorf(t, "invalid number %q", t.Lit)
		}
		return &LiteralExpr{Value: FloatValue(f), Pos: t.Pos}, nil
	case TokenString:
		p.next()
		return &LiteralExpr{Value: StringValue(t.Lit), Pos: t.Pos}, nil
	case TokenTrue:
		p.next()
		return &LiteralExpr{Value: BoolValue(true), Pos: t.Pos}, nil
	case TokenFalse:
		p.next()
		return &LiteralExpr{Value: BoolValue(false), Pos: t.Pos}, nil
	case TokenNone:
		p.next()
		return &LiteralExpr{Value: NoneValue{}, Pos: t.Pos}, nil
	case TokenIdent:
		p.next()
		return &VariableExpr{Name: t.Lit, Pos: t.Pos}, nil
	case TokenLParen:
		p.next()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return e, nil
	case TokenLBracket:
		p.next()
		items, err := p.parseExprList(TokenRBracket)
		if err != nil {
			return nil, err
		}
		return &ListExpr{Items: items, Pos: t.Pos}, nil
	}
	return nil, p.errorf(t, "unexpected %s in expression", t)
}

// keywordToken reports whether t is a word token, so `item.if` or
// `loop.first` style attribute names still parse.
func keywordToken(t Token) bool {
	_, ok := keywords[t.Lit]
	return ok && t.Lit != ""
}
