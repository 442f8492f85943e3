package jinja2

import (
	"fmt"
	"strings"
)

// The lexer scans template source and yields a flat token stream. Outside
// of tags it emits text; inside {{ }} and {% %} it emits expression tokens.
// Comments {# #} are consumed and never reach the parser.

type TokenKind int

const (
	TokenEOF TokenKind = iota
	TokenText
	TokenVarStart   // {{
	TokenVarEnd     // }}
	TokenBlockStart // {%
	TokenBlockEnd   // %}

	TokenIdent
	TokenNumber
	TokenString
	TokenTrue
	TokenFalse
	TokenNone

	TokenFor
	TokenEndFor
	TokenIf
	TokenElif
	TokenElse
	TokenEndIf
	TokenIn
	TokenAnd
	TokenOr
	TokenNot
	TokenIs

	TokenDot
	TokenPipe
	TokenComma
	TokenColon
	TokenLParen
	TokenRParen
	TokenLBracket
	TokenRBracket
	TokenLBrace
	TokenRBrace
	TokenPlus
	TokenMinus
	TokenStar
	TokenPower
	TokenSlash
	TokenFloorDiv
	TokenPercent
	TokenTilde
	TokenAssign
	TokenEq
	TokenNe
	TokenLt
	TokenLe
	TokenGt
	TokenGe
)

var tokenNames = map[TokenKind]string{
	TokenEOF:        "end of template",
	TokenText:       "text",
	TokenVarStart:   "'{{'",
	TokenVarEnd:     "'}}'",
	TokenBlockStart: "'{%'",
	TokenBlockEnd:   "'%}'",
	TokenIdent:      "identifier",
	TokenNumber:     "number",
	TokenString:     "string",
	TokenTrue:       "'true'",
	TokenFalse:      "'false'",
	TokenNone:       "'none'",
	TokenFor:        "'for'",
	TokenEndFor:     "'endfor'",
	TokenIf:         "'if'",
	TokenElif:       "'elif'",
	TokenElse:       "'else'",
	TokenEndIf:      "'endif'",
	TokenIn:         "'in'",
	TokenAnd:        "'and'",
	TokenOr:         "'or'",
	TokenNot:        "'not'",
	TokenIs:         "'is'",
	TokenDot:        "'.'",
	TokenPipe:       "'|'",
	TokenComma:      "','",
	TokenColon:      "':'",
	TokenLParen:     "'('",
	TokenRParen:     "')'",
	TokenLBracket:   "'['",
	TokenRBracket:   "']'",
	TokenLBrace:     "'{'",
	TokenRBrace:     "'}'",
	TokenPlus:       "'+'",
	TokenMinus:      "'-'",
	TokenStar:       "'*'",
	TokenPower:      "'**'",
	TokenSlash:      "'/'",
	TokenFloorDiv:   "'//'",
	TokenPercent:    "'%'",
	TokenTilde:      "'~'",
	TokenAssign:     "'='",
	TokenEq:         "'=='",
	TokenNe:         "'!='",
	TokenLt:         "'<'",
	TokenLe:         "'<='",
	TokenGt:         "'>'",
	TokenGe:         "'>='",
}

func (k TokenKind) String() string {
	if s, ok := tokenNames[k]; ok {
		return s
	}
	return fmt.Sprintf("token(%d)", int(k))
}

var keywords = map[string]TokenKind{
	"for":    TokenFor,
	"endfor": TokenEndFor,
	"if":     TokenIf,
	"elif":   TokenElif,
	"else":   TokenElse,
	"endif":  TokenEndIf,
	"in":     TokenIn,
	"and":    TokenAnd,
	"or":     TokenOr,
	"not":    TokenNot,
	"is":     TokenIs,
	"true":   TokenTrue,
	"True":   TokenTrue,
	"false":  TokenFalse,
	"False":  TokenFalse,
	"none":   TokenNone,
	"None":   TokenNone,
	"null":   TokenNone,
}

// two-character operators are matched before their one-character prefixes
var operators2 = map[string]TokenKind{
	"==": TokenEq,
	"!=": TokenNe,
	"<=": TokenLe,
	">=": TokenGe,
	"//": TokenFloorDiv,
	"**": TokenPower,
}

var operators1 = map[byte]TokenKind{
	'.': TokenDot,
	'|': TokenPipe,
	',': TokenComma,
	':': TokenColon,
	'(': TokenLParen,
	')': TokenRParen,
	'[': TokenLBracket,
	']': TokenRBracket,
	'{': TokenLBrace,
	'}': TokenRBrace,
	'+': TokenPlus,
	'-': TokenMinus,
	'*': TokenStar,
	'/': TokenSlash,
	'%': TokenPercent,
	'~': TokenTilde,
	'=': TokenAssign,
	'<': TokenLt,
	'>': TokenGt,
}

// Position locates a token in the template source. Line and Column are
// 1-based, Offset is a 0-based byte offset.
type Position struct {
	Line   int
	Column int
	Offset int
}

func (p Position) String() string { return fmt.Sprintf("line %d, column %d", p.Line, p.Column) }

type Token struct {
	Kind TokenKind
	Lit  string
	Pos  Position
}

func (t Token) String() string {
	switch t.Kind {
	case TokenText, TokenIdent, TokenNumber:
		return fmt.Sprintf("%s %q", t.Kind, t.Lit)
	case TokenString:
		return fmt.Sprintf("string %q", t.Lit)
	}
	return t.Kind.String()
}

type lexer struct {
	src    string
	i      int
	line   int
	col    int
	inTag  bool
	tokens []Token
}

// Tokenize converts template source into tokens. The result always ends
// with a TokenEOF token.
func Tokenize(src string) ([]Token, error) {
	l := &lexer{src: src, line: 1, col: 1}
	for l.i < len(l.src) {
		if l.inTag {
			if err := l.lexInside(); err != nil {
				return nil, err
			}
			continue
		}
		l.lexText()
	}
	l.emit(TokenEOF, "", l.pos())
	return l.tokens, nil
}

func (l *lexer) pos() Position {
	return Position{Line: l.line, Column: l.col, Offset: l.i}
}

func (l *lexer) emit(kind TokenKind, lit string, pos Position) {
	l.tokens = append(l.tokens, Token{Kind: kind, Lit: lit, Pos: pos})
}

func (l *lexer) advance(n int) {
	for ; n > 0 && l.i < len(l.src); n-- {
		b := l.src[l.i]
		l.i++
		switch {
		case b == '\n':
			l.line++
			l.col = 1
		case b&0xC0 != 0x80:
			// count runes, not continuation bytes
			l.col++
		}
	}
}

func (l *lexer) hasPrefix(s string) bool {
	return strings.HasPrefix(l.src[l.i:], s)
}

func (l *lexer) peekByte(off int) byte {
	if l.i+off >= len(l.src) {
		return 0
	}
	return l.src[l.i+off]
}

// lexText scans verbatim text up to the next opening delimiter. Comments
// are skipped in place so the text on either side joins into one token.
func (l *lexer) lexText() {
	start := l.pos()
	var b strings.Builder
	for l.i < len(l.src) {
		if l.hasPrefix("{{") || l.hasPrefix("{%") {
			break
		}
		if l.hasPrefix("{#") {
			l.skipComment()
			continue
		}
		b.WriteByte(l.src[l.i])
		l.advance(1)
	}
	if b.Len() > 0 {
		l.emit(TokenText, b.String(), start)
	}
	switch {
	case l.hasPrefix("{{"):
		l.emit(TokenVarStart, "{{", l.pos())
		l.advance(2)
		l.inTag = true
	case l.hasPrefix("{%"):
		l.emit(TokenBlockStart, "{%", l.pos())
		l.advance(2)
		l.inTag = true
	}
}

// skipComment consumes a {# ... #} comment. An unterminated comment runs
// to the end of the input.
func (l *lexer) skipComment() {
	l.advance(2)
	end := strings.Index(l.src[l.i:], "#}")
	if end < 0 {
		l.advance(len(l.src) - l.i)
		return
	}
	l.advance(end + 2)
}

func (l *lexer) lexInside() error {
	for l.i < len(l.src) && isSpace(l.src[l.i]) {
		l.advance(1)
	}
	if l.i >= len(l.src) {
		return nil
	}
	start := l.pos()
	switch {
	case l.hasPrefix("}}"):
		l.emit(TokenVarEnd, "}}", start)
		l.advance(2)
		l.inTag = false
		return nil
	case l.hasPrefix("%}"):
		l.emit(TokenBlockEnd, "%}", start)
		l.advance(2)
		l.inTag = false
		return nil
	}

	c := l.src[l.i]
	switch {
	case isDigit(c):
		l.lexNumber(start)
		return nil
	case c == '\'' || c == '"':
		return l.lexString(start, c)
	case isIdentStart(c):
		l.lexIdent(start)
		return nil
	}

	if l.i+2 <= len(l.src) {
		if kind, ok := operators2[l.src[l.i:l.i+2]]; ok {
			l.emit(kind, l.src[l.i:l.i+2], start)
			l.advance(2)
			return nil
		}
	}
	if kind, ok := operators1[c]; ok {
		l.emit(kind, string(c), start)
		l.advance(1)
		return nil
	}
	return &LexError{Msg: fmt.Sprintf("unexpected character %q", l.src[l.i:l.i+runeLen(l.src[l.i:])]), Pos: start}
}

func (l *lexer) lexNumber(start Position) {
	begin := l.i
	for l.i < len(l.src) && isDigit(l.src[l.i]) {
		l.advance(1)
	}
	if l.peekByte(0) == '.' && isDigit(l.peekByte(1)) {
		l.advance(1)
		for l.i < len(l.src) && isDigit(l.src[l.i]) {
			l.advance(1)
		}
	}
	l.emit(TokenNumber, l.src[begin:l.i], start)
}

func (l *lexer) lexString(start Position, quote byte) error {
	l.advance(1)
	var b strings.Builder
	for {
		if l.i >= len(l.src) {
			return &LexError{Msg: "unterminated string literal", Pos: start}
		}
		c := l.src[l.i]
		if c == quote {
			l.advance(1)
			l.emit(TokenString, b.String(), start)
			return nil
		}
		if c == '\\' && l.i+1 < len(l.src) {
			switch next := l.src[l.i+1]; next {
			case quote, '\\':
				b.WriteByte(next)
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte('\\')
				b.WriteByte(next)
			}
			l.advance(2)
			continue
		}
		b.WriteByte(c)
		l.advance(1)
	}
}

func (l *lexer) lexIdent(start Position) {
	begin := l.i
	for l.i < len(l.src) && isIdentPart(l.src[l.i]) {
		l.advance(1)
	}
	word := l.src[begin:l.i]
	if kind, ok := keywords[word]; ok {
		l.emit(kind, word, start)
		return
	}
	l.emit(TokenIdent, word, start)
}

func isSpace(c byte) bool      { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }
func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool { return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isIdentPart(c byte) bool  { return isIdentStart(c) || isDigit(c) }

func runeLen(s string) int {
	for i := range s {
		if i > 0 {
			return i
		}
	}
	return len(s)
}
