// Package runner executes playbooks: it evaluates task conditions and
// loops, expands parameters, dispatches modules and aggregates results.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fulcrumlabs/conductor/pkg/conditionals"
	"github.com/fulcrumlabs/conductor/pkg/jinja2"
	"github.com/fulcrumlabs/conductor/pkg/loops"
	"github.com/fulcrumlabs/conductor/pkg/modules"
	"github.com/fulcrumlabs/conductor/pkg/playbook"
	"github.com/fulcrumlabs/conductor/pkg/templating"
)

// ModuleRunner executes one module invocation. *modules.Executor
// implements it.
type ModuleRunner interface {
	Execute(ctx context.Context, name string, params map[string]any, timeout time.Duration) (*modules.Result, error)
}

// TaskExecutor runs single tasks against a variable scope.
type TaskExecutor struct {
	Modules    ModuleRunner
	Expander   *templating.Expander
	Conditions *conditionals.Evaluator
	Metrics    *Metrics
	Logger     *slog.Logger
}

func NewTaskExecutor(mods ModuleRunner, x *templating.Expander) *TaskExecutor {
	if x == nil {
		x = templating.New(nil)
	}
	return &TaskExecutor{
		Modules:    mods,
		Expander:   x,
		Conditions: conditionals.New(x),
	}
}

func (e *TaskExecutor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Execute runs task in scope. A false `when` skips the task. A failed
// module result is reported in the TaskResult; errors from templates,
// conditions, loops or module execution are returned as *TaskError unless
// the task ignores errors. Registered results are bound in scope.
func (e *TaskExecutor) Execute(ctx context.Context, task *playbook.Task, scope *jinja2.Context) (*TaskResult, error) {
	start := time.Now()
	name := e.taskName(task, scope)
	log := e.logger().With("task", name, "module", task.Module)

	res, err := e.execute(ctx, task, name, scope)
	if err != nil {
		if !task.IgnoreErrors {
			log.Error("task error", "error", err)
			return nil, &TaskError{Task: name, Err: err}
		}
		log.Warn("task error ignored", "error", err)
		res = ignoredResult(name, task.Module, err)
	}
	res.Duration = time.Since(start)
	e.Metrics.recordTask(res)
	log.Info("task finished", "status", res.Status(), "duration", res.Duration)
	return res, nil
}

func (e *TaskExecutor) taskName(task *playbook.Task, scope *jinja2.Context) string {
	raw := task.DisplayName()
	name, err := e.Expander.ExpandString(raw, scope)
	if err != nil {
		return raw
	}
	return name
}

func (e *TaskExecutor) execute(ctx context.Context, task *playbook.Task, name string, scope *jinja2.Context) (*TaskResult, error) {
	ok, err := e.Conditions.EvaluateAll(task.When, scope)
	if err != nil {
		return nil, fmt.Errorf("evaluating when: %w", err)
	}
	if !ok {
		return skippedResult(name, task.Module), nil
	}
	if task.Loop != nil {
		return e.executeLoop(ctx, task, name, scope)
	}

	res, err := e.runOnce(ctx, task, scope)
	if err != nil {
		return nil, err
	}
	res.Name = name
	if task.RegisterAs != "" {
		scope.Set(task.RegisterAs, res.Registered)
	}
	return res, nil
}

func (e *TaskExecutor) executeLoop(ctx context.Context, task *playbook.Task, name string, scope *jinja2.Context) (*TaskResult, error) {
	items, err := loops.Expand(e.Expander, task.Loop, scope)
	if err != nil {
		return nil, err
	}

	agg := &TaskResult{Name: name, Module: task.Module}
	registered := make([]any, 0, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		iterScope := scope.Child()
		iterScope.Set("item", item)
		iterScope.Set("ansible_loop", jinja2.LoopInfo(i, len(items)))

		res, err := e.runOnce(ctx, task, iterScope)
		if err != nil {
			if !task.IgnoreErrors {
				return nil, fmt.Errorf("loop iteration %d (item: %s): %w", i, jinja2.Format(item), err)
			}
			res = &TaskResult{
				Module:     task.Module,
				Failed:     true,
				Message:    fmt.Sprintf("Iteration failed: %v", err),
				Registered: map[string]any{"success": false, "changed": false, "failed": true, "message": err.Error()},
			}
		}
		res.Name = fmt.Sprintf("%s (item=%s)", name, jinja2.Format(item))
		res.Item = jinja2.ToGo(item)
		res.Registered["item"] = res.Item
		agg.IterationResults = append(agg.IterationResults, res)
		registered = append(registered, res.Registered)

		agg.Changed = agg.Changed || res.Changed
		if res.Failed {
			agg.Failed = true
			if !task.IgnoreErrors {
				break
			}
		}
	}

	agg.Success = !agg.Failed || task.IgnoreErrors
	agg.Ignored = agg.Failed && task.IgnoreErrors
	agg.Message = fmt.Sprintf("Task '%s' executed %d iteration(s)", name, len(agg.IterationResults))
	agg.Registered = map[string]any{
		"results": registered,
		"changed": agg.Changed,
		"failed":  agg.Failed,
		"skipped": false,
	}
	if task.RegisterAs != "" {
		scope.Set(task.RegisterAs, agg.Registered)
	}
	return agg, nil
}

// runOnce expands parameters, runs the module and applies failed_when and
// changed_when.
func (e *TaskExecutor) runOnce(ctx context.Context, task *playbook.Task, scope *jinja2.Context) (*TaskResult, error) {
	params, err := e.Expander.ExpandParameters(task.Parameters, scope)
	if err != nil {
		return nil, err
	}
	if e.Modules == nil {
		return nil, fmt.Errorf("no module runner configured")
	}

	start := time.Now()
	mr, err := e.Modules.Execute(ctx, task.Module, params, task.Timeout)
	e.Metrics.observeModule(task.Module, time.Since(start))
	if err != nil {
		return nil, err
	}
	if mr.Facts == nil {
		mr.Facts = map[string]any{}
	}

	failed, changed := !mr.Success, mr.Changed
	if len(task.FailedWhen) > 0 || len(task.ChangedWhen) > 0 {
		evalScope := scope.Child()
		evalScope.Set("success", mr.Success)
		evalScope.Set("changed", mr.Changed)
		evalScope.Set("message", mr.Message)
		for k, val := range mr.Facts {
			evalScope.Set(k, val)
		}
		if len(task.FailedWhen) > 0 {
			if failed, err = e.Conditions.EvaluateAll(task.FailedWhen, evalScope); err != nil {
				return nil, fmt.Errorf("evaluating failed_when: %w", err)
			}
		}
		if len(task.ChangedWhen) > 0 {
			if changed, err = e.Conditions.EvaluateAll(task.ChangedWhen, evalScope); err != nil {
				return nil, fmt.Errorf("evaluating changed_when: %w", err)
			}
		}
	}

	registered := make(map[string]any, len(mr.Facts)+4)
	for k, val := range mr.Facts {
		registered[k] = val
	}
	registered["success"] = !failed
	registered["changed"] = changed
	registered["failed"] = failed
	registered["message"] = mr.Message

	return &TaskResult{
		Module:       task.Module,
		Success:      !failed || task.IgnoreErrors,
		Changed:      changed,
		Failed:       failed,
		Ignored:      failed && task.IgnoreErrors,
		Message:      mr.Message,
		ModuleResult: mr,
		Registered:   registered,
	}, nil
}
