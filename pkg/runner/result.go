package runner

import (
	"fmt"
	"time"

	"github.com/fulcrumlabs/conductor/pkg/modules"
)

// TaskError is returned when a task fails with an error rather than a
// failed module result, and the task does not ignore errors.
type TaskError struct {
	Task string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %q failed: %v", e.Task, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// TaskResult is the outcome of one task, or of one loop iteration.
type TaskResult struct {
	Name    string
	Module  string
	Success bool
	Changed bool
	Failed  bool
	Skipped bool
	// Ignored is set when the task failed but has ignore_errors.
	Ignored bool
	Message string

	// Item is the loop item of an iteration result.
	Item any

	IterationResults []*TaskResult
	ModuleResult     *modules.Result
	// Registered is the value bound by register, if any.
	Registered map[string]any
	Duration   time.Duration
}

// Status summarizes the result as one of ok, changed, failed, ignored or
// skipped.
func (r *TaskResult) Status() string {
	switch {
	case r.Skipped:
		return "skipped"
	case r.Ignored:
		return "ignored"
	case r.Failed:
		return "failed"
	case r.Changed:
		return "changed"
	}
	return "ok"
}

func skippedResult(name, module string) *TaskResult {
	return &TaskResult{
		Name:    name,
		Module:  module,
		Success: true,
		Skipped: true,
		Message: fmt.Sprintf("Task '%s' skipped due to conditional", name),
	}
}

func ignoredResult(name, module string, err error) *TaskResult {
	return &TaskResult{
		Name:    name,
		Module:  module,
		Success: true,
		Failed:  true,
		Ignored: true,
		Message: fmt.Sprintf("Task '%s' failed (ignored): %v", name, err),
	}
}

// Recap counts task results the way a play recap does.
type Recap struct {
	OK      int
	Changed int
	Failed  int
	Skipped int
	Ignored int
}

func (r *Recap) Add(res *TaskResult) {
	switch res.Status() {
	case "skipped":
		r.Skipped++
	case "ignored":
		r.Ignored++
	case "failed":
		r.Failed++
	case "changed":
		r.Changed++
		r.OK++
	default:
		r.OK++
	}
}

func (r *Recap) Merge(o Recap) {
	r.OK += o.OK
	r.Changed += o.Changed
	r.Failed += o.Failed
	r.Skipped += o.Skipped
	r.Ignored += o.Ignored
}

func (r Recap) String() string {
	return fmt.Sprintf("ok=%d changed=%d failed=%d skipped=%d ignored=%d", r.OK, r.Changed, r.Failed, r.Skipped, r.Ignored)
}

type PlayResult struct {
	Name    string
	Tasks   []*TaskResult
	Success bool
	Recap   Recap
}

type PlaybookResult struct {
	RunID    string
	Path     string
	Plays    []*PlayResult
	Success  bool
	Recap    Recap
	Duration time.Duration
}
