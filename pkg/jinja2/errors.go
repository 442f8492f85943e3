package jinja2

import "fmt"

// LexError reports a character the lexer cannot classify or an
// unterminated string literal.
type LexError struct {
	Msg string
	Pos Position
}

func (e *LexError) Error() string {
	return fmt.Sprintf("lex error at %s: %s", e.Pos, e.Msg)
}

// ParseError reports a structural problem in the token stream.
type ParseError struct {
	Msg string
	Pos Position
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %s: %s", e.Pos, e.Msg)
}

// RenderError is returned when evaluating a parsed template fails.
type RenderError struct {
	Msg string
	Pos Position
	Err error
}

func (e *RenderError) Error() string {
	msg := e.Msg
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Pos.Line == 0 {
		return "render error: " + msg
	}
	return fmt.Sprintf("render error at %s: %s", e.Pos, msg)
}

func (e *RenderError) Unwrap() error { return e.Err }

// FilterError is raised by a filter implementation when its input or
// arguments are malformed.
type FilterError struct {
	Filter string
	Err    error
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("filter %s: %v", e.Filter, e.Err)
}

func (e *FilterError) Unwrap() error { return e.Err }
