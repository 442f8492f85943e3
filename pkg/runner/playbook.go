package runner

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/fulcrumlabs/conductor/pkg/jinja2"
	"github.com/fulcrumlabs/conductor/pkg/playbook"
)

// maxRoleDepth bounds import_role/include_role nesting.
const maxRoleDepth = 32

// RoleSource resolves role names. *playbook.RoleLoader implements it.
type RoleSource interface {
	LoadRole(name string) (*playbook.Role, error)
}

// PlaybookExecutor runs the plays of a playbook in order.
type PlaybookExecutor struct {
	Tasks   *TaskExecutor
	Roles   RoleSource
	Metrics *Metrics
	Logger  *slog.Logger

	// Tags, when set, limits the run to tasks carrying one of them (or
	// "always"). SkipTags excludes tasks carrying any of them. Tasks inherit
	// the tags of the roles that contain them.
	Tags     []string
	SkipTags []string
}

func NewPlaybookExecutor(tasks *TaskExecutor, roles RoleSource) *PlaybookExecutor {
	return &PlaybookExecutor{Tasks: tasks, Roles: roles, Metrics: tasks.Metrics, Logger: tasks.Logger}
}

func (e *PlaybookExecutor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Execute runs every play of pb with vars as extra variables. Execution
// stops at the first failed task. The returned error is non-nil only when
// the run was cancelled or a role could not be loaded; task failures are
// reported through the result.
func (e *PlaybookExecutor) Execute(ctx context.Context, pb *playbook.Playbook, vars map[string]any) (*PlaybookResult, error) {
	start := time.Now()
	runID := uuid.New().String()
	log := e.logger().With("run_id", runID)

	root := jinja2.NewContextFromAny(vars)
	root.Set("conductor_run_id", runID)
	if pb.Path != "" {
		root.Set("playbook_dir", filepath.Dir(pb.Path))
	}

	result := &PlaybookResult{RunID: runID, Path: pb.Path, Success: true}
	log.Info("starting playbook", "path", pb.Path, "plays", len(pb.Plays))

	for _, play := range pb.Plays {
		pr, err := e.executePlay(ctx, play, root, log)
		if pr != nil {
			result.Plays = append(result.Plays, pr)
			result.Recap.Merge(pr.Recap)
		}
		if err != nil {
			result.Success = false
			result.Duration = time.Since(start)
			return result, err
		}
		if !pr.Success {
			result.Success = false
			break
		}
	}

	result.Duration = time.Since(start)
	log.Info("playbook finished", "success", result.Success, "recap", result.Recap.String(), "duration", result.Duration)
	return result, nil
}

type playRun struct {
	exec   *PlaybookExecutor
	result *PlayResult
	log    *slog.Logger
}

func (e *PlaybookExecutor) executePlay(ctx context.Context, play *playbook.Play, root *jinja2.Context, log *slog.Logger) (*PlayResult, error) {
	scope := root.Child()
	for k, val := range play.Vars {
		scope.Set(k, val)
	}
	run := &playRun{
		exec:   e,
		result: &PlayResult{Name: play.Name, Success: true},
		log:    log.With("play", play.Name),
	}
	run.log.Info("starting play")

	for _, ref := range play.Roles {
		ok, err := run.role(ctx, ref, scope, 0, nil)
		if err != nil || !ok {
			return run.result, err
		}
	}
	if _, err := run.tasks(ctx, play.Tasks, scope, 0, nil); err != nil {
		return run.result, err
	}
	return run.result, nil
}

// tasks runs tasks in order and reports false once one fails.
func (r *playRun) tasks(ctx context.Context, tasks []*playbook.Task, scope *jinja2.Context, depth int, inherited []string) (bool, error) {
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		tags := append(slices.Clip(inherited), task.Tags...)
		if task.Role != nil {
			ok, err := r.roleTask(ctx, task, scope, depth, tags)
			if err != nil || !ok {
				return false, err
			}
			continue
		}
		if !r.exec.selected(tags) {
			r.log.Debug("task not selected by tags", "task", task.DisplayName(), "tags", tags)
			continue
		}

		res, err := r.exec.Tasks.Execute(ctx, task, scope)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			res = &TaskResult{
				Name:    task.DisplayName(),
				Module:  task.Module,
				Failed:  true,
				Message: err.Error(),
			}
			r.exec.Metrics.recordTask(res)
		}
		r.add(res)
		if res.Failed && !res.Ignored {
			r.log.Error("task failed, stopping play", "task", res.Name, "error", res.Message)
			r.result.Success = false
			return false, nil
		}
	}
	return true, nil
}

func (r *playRun) add(res *TaskResult) {
	r.result.Tasks = append(r.result.Tasks, res)
	r.result.Recap.Add(res)
}

// roleTask evaluates the task's own when clause, then runs the role it
// names in place.
func (r *playRun) roleTask(ctx context.Context, task *playbook.Task, scope *jinja2.Context, depth int, tags []string) (bool, error) {
	ok, err := r.exec.Tasks.Conditions.EvaluateAll(task.When, scope)
	if err != nil {
		res := &TaskResult{Name: task.DisplayName(), Module: task.Module, Failed: true, Message: fmt.Sprintf("evaluating when: %v", err)}
		r.exec.Metrics.recordTask(res)
		r.add(res)
		r.result.Success = false
		return false, nil
	}
	if !ok {
		res := skippedResult(task.DisplayName(), task.Module)
		r.exec.Metrics.recordTask(res)
		r.add(res)
		return true, nil
	}
	return r.role(ctx, task.Role, scope, depth+1, tags)
}

// role runs one role reference. Role defaults, vars and parameters are
// bound in a child scope, each only when the parent does not already
// define the name.
func (r *playRun) role(ctx context.Context, ref *playbook.RoleReference, parent *jinja2.Context, depth int, tags []string) (bool, error) {
	if depth > maxRoleDepth {
		return false, fmt.Errorf("role %q: nesting deeper than %d", ref.Name, maxRoleDepth)
	}
	log := r.log.With("role", ref.Name)

	ok, err := r.exec.Tasks.Conditions.EvaluateAll(ref.When, parent)
	if err != nil {
		return false, fmt.Errorf("role %q: evaluating when: %w", ref.Name, err)
	}
	if !ok {
		log.Info("role skipped due to conditional")
		return true, nil
	}
	if r.exec.Roles == nil {
		return false, fmt.Errorf("role %q: no role loader configured", ref.Name)
	}
	role, err := r.exec.Roles.LoadRole(ref.Name)
	if err != nil {
		return false, err
	}

	scope := parent.Child()
	for _, layer := range []map[string]any{role.Defaults, role.Vars, ref.Parameters} {
		for k, val := range layer {
			if !parent.IsDefined(k) {
				scope.Set(k, val)
			}
		}
	}
	log.Info("running role", "tasks", len(role.Tasks))
	return r.tasks(ctx, role.Tasks, scope, depth, append(slices.Clip(tags), ref.Tags...))
}

// selected applies Tags and SkipTags to a task's effective tags.
func (e *PlaybookExecutor) selected(tags []string) bool {
	if containsAny(tags, e.SkipTags) {
		return false
	}
	if len(e.Tags) == 0 {
		return true
	}
	return slices.Contains(tags, "always") || containsAny(tags, e.Tags)
}

func containsAny(tags, want []string) bool {
	for _, t := range want {
		if slices.Contains(tags, t) {
			return true
		}
	}
	return false
}
