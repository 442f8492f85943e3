package modules

import (
	"fmt"
	"strings"

	"github.com/fulcrumlabs/conductor/pkg/jinja2"
)

// NotFoundError is returned when no executable is registered for a module.
type NotFoundError struct {
	Name string
	// Known holds the registered names, used for a spelling hint.
	Known []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("module %q not found in registry", e.Name) + jinja2.Suggest(e.Name, e.Known)
}

// ExecutionError describes a module process that could not produce a
// usable result.
type ExecutionError struct {
	Module   string
	Msg      string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExecutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "module %q: %s", e.Module, e.Msg)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.ExitCode != 0 {
		fmt.Fprintf(&b, " (exit code %d)", e.ExitCode)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		fmt.Fprintf(&b, "\nstderr: %s", s)
	}
	return b.String()
}

func (e *ExecutionError) Unwrap() error { return e.Err }
