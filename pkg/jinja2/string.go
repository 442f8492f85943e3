package jinja2

import (
	"fmt"
	"strings"
)

// TemplateString is a string field that may contain template syntax, such
// as a task name or a `when` condition loaded from YAML.
type TemplateString string

// IsTemplate reports whether the string contains {{ or {%.
func (t TemplateString) IsTemplate() bool {
	s := string(t)
	return strings.Contains(s, "{{") || strings.Contains(s, "{%")
}

func (t TemplateString) Validate() error {
	if _, err := Parse(string(t)); err != nil {
		return fmt.Errorf("invalid jinja template: %w", err)
	}
	return nil
}

func (t TemplateString) Render(ctx *Context) (string, error) {
	if !t.IsTemplate() {
		return string(t), nil
	}
	doc, err := Parse(string(t))
	if err != nil {
		return "", fmt.Errorf("parsing jinja template: %w", err)
	}
	return NewRenderer(nil).Render(doc, ctx)
}
