// Package starlark lets playbook authors define extra template filters in
// Starlark. Every top-level function in a filters script whose name does
// not start with an underscore becomes a filter:
//
//	def slugify(value, sep="-"):
//	    return sep.join(value.lower().split())
//
// The piped value is the first argument and filter arguments follow.
package starlark

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/fulcrumlabs/conductor/pkg/jinja2"
	"go.starlark.net/starlark"
)

// Evaluator holds the globals of executed scripts.
type Evaluator struct {
	logger   *slog.Logger
	builtins starlark.StringDict
	globals  starlark.StringDict
}

// NewEvaluator creates an evaluator logging to logger, or slog.Default when
// logger is nil.
func NewEvaluator(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		logger:   logger,
		builtins: CreateBuiltins(logger),
		globals:  make(starlark.StringDict),
	}
}

// SetGlobal sets a global variable in the Starlark environment
func (e *Evaluator) SetGlobal(name string, value jinja2.Value) {
	e.globals[name] = ToStarlark(value)
}

func (e *Evaluator) predeclared(extra starlark.StringDict) starlark.StringDict {
	predeclared := make(starlark.StringDict, len(e.builtins)+len(e.globals)+len(extra))
	for k, v := range e.builtins {
		predeclared[k] = v
	}
	for k, v := range e.globals {
		predeclared[k] = v
	}
	for k, v := range extra {
		predeclared[k] = v
	}
	return predeclared
}

// Eval evaluates a Starlark expression with the variables of ctx in scope.
func (e *Evaluator) Eval(expr string, ctx *jinja2.Context) (jinja2.Value, error) {
	thread := newThread("<eval>", &jinja2.FilterContext{Vars: ctx}, e.logger)
	val, err := starlark.Eval(thread, "<eval>", expr, e.predeclared(WrapContext(ctx)))
	if err != nil {
		return nil, fmt.Errorf("starlark evaluation error: %w", err)
	}
	return FromStarlark(val), nil
}

// ExecFile executes a Starlark script and merges its globals into the
// evaluator. src may be nil to read filename from disk.
func (e *Evaluator) ExecFile(filename string, src any) (starlark.StringDict, error) {
	thread := newThread(filename, nil, e.logger)
	globals, err := starlark.ExecFile(thread, filename, src, e.predeclared(nil))
	if err != nil {
		return nil, fmt.Errorf("starlark execution error: %w", err)
	}
	for k, v := range globals {
		e.globals[k] = v
	}
	return globals, nil
}

// ExecString executes a Starlark script from a string
func (e *Evaluator) ExecString(script string) (starlark.StringDict, error) {
	return e.ExecFile("<script>", script)
}

// GetGlobal retrieves a global variable as a template value
func (e *Evaluator) GetGlobal(name string) (jinja2.Value, bool) {
	if val, ok := e.globals[name]; ok {
		return FromStarlark(val), true
	}
	return nil, false
}

// FilterNames lists the exported callables, sorted.
func (e *Evaluator) FilterNames() []string {
	var names []string
	for key, v := range e.globals {
		if !isExportableKey(key) {
			continue
		}
		if _, ok := v.(starlark.Callable); ok {
			names = append(names, key)
		}
	}
	sort.Strings(names)
	return names
}

// RegisterFilters adds every exported callable to filters, replacing any
// filter of the same name.
func (e *Evaluator) RegisterFilters(filters jinja2.Filters) []string {
	names := e.FilterNames()
	for _, name := range names {
		filters.Register(name, e.filter(name, e.globals[name].(starlark.Callable)))
	}
	return names
}

func (e *Evaluator) filter(name string, fn starlark.Callable) jinja2.FilterFunc {
	return func(val jinja2.Value, args []jinja2.Value, fc *jinja2.FilterContext) (jinja2.Value, error) {
		callArgs := make(starlark.Tuple, 0, len(args)+1)
		callArgs = append(callArgs, ToStarlark(val))
		for _, a := range args {
			callArgs = append(callArgs, ToStarlark(a))
		}
		// threads are not safe for concurrent use, so each call gets its own
		thread := newThread("filter:"+name, fc, e.logger)
		out, err := starlark.Call(thread, fn, callArgs, nil)
		if err != nil {
			return nil, &jinja2.FilterError{Filter: name, Err: err}
		}
		return FromStarlark(out), nil
	}
}

// LoadFilters executes the filters script at path and registers its
// functions in filters. It returns the registered names.
func LoadFilters(path string, filters jinja2.Filters, logger *slog.Logger) ([]string, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading filters script: %w", err)
	}
	e := NewEvaluator(logger)
	if _, err := e.ExecFile(path, src); err != nil {
		return nil, err
	}
	names := e.RegisterFilters(filters)
	e.logger.Debug("loaded starlark filters", "path", path, "filters", names)
	return names, nil
}

// isExportableKey reports whether a global may become a filter.
func isExportableKey(key string) bool {
	switch key {
	case "lookup", "render", "log":
		return false
	}
	return key != "" && key[0] != '_'
}
