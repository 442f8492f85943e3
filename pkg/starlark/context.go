package starlark

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/fulcrumlabs/conductor/pkg/jinja2"
	"go.starlark.net/starlark"
)

const (
	localVars     = "conductor.vars"
	localRenderer = "conductor.renderer"
)

// newThread creates a thread bound to the scope and renderer a filter is
// called from. print() goes to the logger.
func newThread(name string, fc *jinja2.FilterContext, logger *slog.Logger) *starlark.Thread {
	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			logger.Info(msg, "thread", name)
		},
	}
	if fc != nil {
		thread.SetLocal(localVars, fc.Vars)
		thread.SetLocal(localRenderer, fc.Renderer)
	}
	return thread
}

// CreateBuiltins returns the functions every script can call.
//
//	lookup(name, default=None)  value of a variable in the calling scope
//	render(template)            render a template against the calling scope
//	log(*args)                  write a debug log line
func CreateBuiltins(logger *slog.Logger) starlark.StringDict {
	return starlark.StringDict{
		"lookup": starlark.NewBuiltin("lookup", func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			var def starlark.Value = starlark.None
			if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "default?", &def); err != nil {
				return nil, err
			}
			vars, _ := thread.Local(localVars).(*jinja2.Context)
			if vars == nil {
				return def, nil
			}
			v, ok := vars.Get(name)
			if !ok {
				return def, nil
			}
			return ToStarlark(v), nil
		}),

		"render": starlark.NewBuiltin("render", func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var tpl string
			if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &tpl); err != nil {
				return nil, err
			}
			r, _ := thread.Local(localRenderer).(*jinja2.Renderer)
			if r == nil {
				r = jinja2.NewRenderer(nil)
			}
			vars, _ := thread.Local(localVars).(*jinja2.Context)
			out, err := r.RenderString(tpl, vars)
			if err != nil {
				return nil, fmt.Errorf("render: %w", err)
			}
			return starlark.String(out), nil
		}),

		"log": starlark.NewBuiltin("log", func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var buf []string
			for _, a := range args {
				if s, ok := a.(starlark.String); ok {
					buf = append(buf, string(s))
				} else {
					buf = append(buf, a.String())
				}
			}
			logger.Debug(strings.Join(buf, " "), "thread", thread.Name)
			return starlark.None, nil
		}),
	}
}
