package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fulcrumlabs/conductor/pkg/jinja2"
	"github.com/fulcrumlabs/conductor/pkg/loops"
	"github.com/fulcrumlabs/conductor/pkg/modules"
	"github.com/fulcrumlabs/conductor/pkg/playbook"
)

type call struct {
	Module string
	Params map[string]any
}

// fakeModules answers a few canned modules:
//   - echo: succeeds with the parameters as facts, changed when params.changed is true
//   - fail: returns a failed result with rc=2
//   - error: fails to execute
type fakeModules struct {
	mu    sync.Mutex
	calls []call
}

func (f *fakeModules) Execute(ctx context.Context, name string, params map[string]any, _ time.Duration) (*modules.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{Module: name, Params: params})
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch name {
	case "echo":
		facts := map[string]any{}
		for k, v := range params {
			facts[k] = v
		}
		changed, _ := params["changed"].(bool)
		return modules.Success(fmt.Sprint(params["msg"]), changed, facts), nil
	case "fail":
		return modules.Failure("boom", map[string]any{"rc": 2}), nil
	case "error":
		return nil, &modules.ExecutionError{Module: name, Msg: "failed to start", ExitCode: -1}
	}
	return nil, &modules.NotFoundError{Name: name}
}

func (f *fakeModules) params(module string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]any
	for _, c := range f.calls {
		if c.Module == module {
			out = append(out, c.Params)
		}
	}
	return out
}

type fakeRoles map[string]*playbook.Role

func (f fakeRoles) LoadRole(name string) (*playbook.Role, error) {
	if r, ok := f[name]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("role %q not found", name)
}

func newTestExecutor() (*TaskExecutor, *fakeModules) {
	mods := &fakeModules{}
	te := NewTaskExecutor(mods, nil)
	te.Metrics = NewMetrics(nil)
	return te, mods
}

func echo(params map[string]any) *playbook.Task {
	return &playbook.Task{Module: "echo", Parameters: params}
}

func lookup(scope *jinja2.Context, name string) any {
	return jinja2.ToGo(scope.Lookup(name))
}

func TestTaskSkippedWhenFalse(t *testing.T) {
	te, mods := newTestExecutor()
	scope := jinja2.NewContextFromAny(map[string]any{"enabled": false})

	task := echo(map[string]any{"msg": "hi"})
	task.Name = "maybe {{ enabled }}"
	task.When = playbook.Conditions{"enabled"}

	res, err := te.Execute(context.Background(), task, scope)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.True(t, res.Success)
	assert.Equal(t, "skipped", res.Status())
	assert.Equal(t, "maybe False", res.Name)
	assert.Empty(t, mods.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(te.Metrics.tasksTotal.WithLabelValues("skipped")))
}

func TestTaskRegistersResult(t *testing.T) {
	te, mods := newTestExecutor()
	scope := jinja2.NewContextFromAny(map[string]any{"name": "web", "port": 8080})

	task := echo(map[string]any{"msg": "hello {{ name }}", "port": "{{ port + 1 }}", "changed": true})
	task.RegisterAs = "out"

	res, err := te.Execute(context.Background(), task, scope)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Changed)
	assert.Equal(t, "changed", res.Status())
	assert.Equal(t, "echo", res.Name)
	require.NotNil(t, res.ModuleResult)

	require.Len(t, mods.params("echo"), 1)
	assert.Equal(t, int64(8081), mods.params("echo")[0]["port"])

	out, ok := lookup(scope, "out").(map[string]any)
	require.True(t, ok, "register should bind a dict")
	assert.Equal(t, "hello web", out["msg"])
	assert.Equal(t, "hello web", out["message"])
	assert.Equal(t, true, out["success"])
	assert.Equal(t, false, out["failed"])
	assert.Equal(t, int64(8081), out["port"])

	// Later tasks see the registered value.
	next := echo(map[string]any{"msg": "{{ out.message | upper }}"})
	next.When = playbook.Conditions{"out.success and out.port > 8080"}
	res, err = te.Execute(context.Background(), next, scope)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, "HELLO WEB", mods.params("echo")[1]["msg"])
}

func TestTaskLoop(t *testing.T) {
	te, mods := newTestExecutor()
	scope := jinja2.NewContextFromAny(map[string]any{"packages": []any{"nginx", "curl", "git"}})

	task := echo(map[string]any{"msg": "{{ item }}", "pos": "{{ ansible_loop.index }}/{{ ansible_loop.length }}"})
	task.Name = "install {{ item | default('all') }}"
	task.Loop = &loops.Definition{Kind: loops.Loop, Items: "packages"}
	task.RegisterAs = "installed"

	res, err := te.Execute(context.Background(), task, scope)
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, res.IterationResults, 3)
	assert.Equal(t, "install all (item=nginx)", res.IterationResults[0].Name)
	assert.Equal(t, "curl", res.IterationResults[1].Item)
	assert.Equal(t, "Task 'install all' executed 3 iteration(s)", res.Message)

	var pos []any
	for _, p := range mods.params("echo") {
		pos = append(pos, p["pos"])
	}
	assert.Equal(t, []any{"1/3", "2/3", "3/3"}, pos)

	reg, ok := lookup(scope, "installed").(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, reg["skipped"])
	assert.Equal(t, false, reg["failed"])
	results, ok := reg["results"].([]any)
	require.True(t, ok)
	require.Len(t, results, 3)
	assert.Equal(t, "git", results[2].(map[string]any)["item"])
	assert.Equal(t, "git", results[2].(map[string]any)["msg"])

	assert.False(t, scope.IsDefined("item"), "loop variable must not leak into the task scope")
}

func TestTaskLoopWithItemsLiteral(t *testing.T) {
	te, mods := newTestExecutor()
	scope := jinja2.NewContextFromAny(map[string]any{"suffix": "-x"})

	task := echo(map[string]any{"msg": "{{ item }}"})
	task.Loop = &loops.Definition{Kind: loops.WithItems, Items: []any{"a{{ suffix }}", 2}}

	_, err := te.Execute(context.Background(), task, scope)
	require.NoError(t, err)
	params := mods.params("echo")
	require.Len(t, params, 2)
	assert.Equal(t, "a-x", params[0]["msg"])
	assert.Equal(t, int64(2), params[1]["msg"])
}

func TestTaskLoopStopsOnFailure(t *testing.T) {
	te, mods := newTestExecutor()
	scope := jinja2.NewContext()

	task := echo(map[string]any{"msg": "{{ item }}"})
	task.Loop = &loops.Definition{Kind: loops.Loop, Items: []any{"a", "b", "c"}}
	task.FailedWhen = playbook.Conditions{"msg == 'b'"}

	res, err := te.Execute(context.Background(), task, scope)
	require.NoError(t, err)
	assert.True(t, res.Failed)
	assert.False(t, res.Success)
	assert.Len(t, res.IterationResults, 2)
	assert.Len(t, mods.params("echo"), 2)

	task.IgnoreErrors = true
	mods.calls = nil
	res, err = te.Execute(context.Background(), task, scope)
	require.NoError(t, err)
	assert.True(t, res.Ignored)
	assert.Len(t, res.IterationResults, 3)
}

func TestTaskEmptyLoop(t *testing.T) {
	te, mods := newTestExecutor()
	scope := jinja2.NewContext()

	task := echo(map[string]any{"msg": "{{ item }}"})
	task.Loop = &loops.Definition{Kind: loops.Loop, Items: "missing"}
	task.RegisterAs = "r"

	res, err := te.Execute(context.Background(), task, scope)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.IterationResults)
	assert.Empty(t, mods.calls)
	assert.Equal(t, map[string]any{"results": []any{}, "changed": false, "failed": false, "skipped": false}, lookup(scope, "r"))
}

func TestFailedWhenAndChangedWhen(t *testing.T) {
	tests := []struct {
		name        string
		module      string
		failedWhen  playbook.Conditions
		changedWhen playbook.Conditions
		wantFailed  bool
		wantChanged bool
	}{
		{name: "module failure", module: "fail", wantFailed: true},
		{name: "failure overridden", module: "fail", failedWhen: playbook.Conditions{"rc > 5"}},
		{name: "success turned into failure", module: "echo", failedWhen: playbook.Conditions{"rc == 3"}, wantFailed: true},
		{name: "changed_when forces changed", module: "echo", changedWhen: playbook.Conditions{"success"}, wantChanged: true},
		{name: "changed_when false", module: "echo", changedWhen: playbook.Conditions{"{{ false }}"}},
		{name: "both lists are ANDed", module: "fail", failedWhen: playbook.Conditions{"rc == 2", "not success"}, changedWhen: playbook.Conditions{"rc == 2", "message == 'boom'"}, wantFailed: true, wantChanged: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te, _ := newTestExecutor()
			task := &playbook.Task{
				Module:      tt.module,
				Parameters:  map[string]any{"rc": 3},
				FailedWhen:  tt.failedWhen,
				ChangedWhen: tt.changedWhen,
				RegisterAs:  "r",
			}
			scope := jinja2.NewContext()
			res, err := te.Execute(context.Background(), task, scope)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFailed, res.Failed)
			assert.Equal(t, !tt.wantFailed, res.Success)
			assert.Equal(t, tt.wantChanged, res.Changed)

			reg := lookup(scope, "r").(map[string]any)
			assert.Equal(t, tt.wantFailed, reg["failed"])
			assert.Equal(t, !tt.wantFailed, reg["success"])
		})
	}
}

func TestTaskErrors(t *testing.T) {
	te, _ := newTestExecutor()
	scope := jinja2.NewContext()

	_, err := te.Execute(context.Background(), &playbook.Task{Name: "broken", Module: "error"}, scope)
	var taskErr *TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, "broken", taskErr.Task)
	var execErr *modules.ExecutionError
	assert.ErrorAs(t, err, &execErr)

	_, err = te.Execute(context.Background(), echo(map[string]any{"msg": "{{ x | nope }}"}), scope)
	require.ErrorAs(t, err, &taskErr)
	assert.Contains(t, err.Error(), "Unknown filter: nope")

	task := echo(nil)
	task.When = playbook.Conditions{"1 +"}
	_, err = te.Execute(context.Background(), task, scope)
	require.ErrorAs(t, err, &taskErr)
	assert.Contains(t, err.Error(), "evaluating when")

	_, err = te.Execute(context.Background(), &playbook.Task{Module: "nosuch"}, scope)
	var nf *modules.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestTaskIgnoreErrors(t *testing.T) {
	te, _ := newTestExecutor()
	res, err := te.Execute(context.Background(), &playbook.Task{Name: "broken", Module: "error", IgnoreErrors: true}, jinja2.NewContext())
	require.NoError(t, err)
	assert.True(t, res.Ignored)
	assert.True(t, res.Failed)
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "failed (ignored)")
	assert.Equal(t, 1.0, testutil.ToFloat64(te.Metrics.tasksTotal.WithLabelValues("ignored")))
}

func TestRecap(t *testing.T) {
	var r Recap
	for _, res := range []*TaskResult{
		{Success: true},
		{Success: true, Changed: true},
		{Failed: true},
		{Success: true, Skipped: true},
		{Success: true, Failed: true, Ignored: true},
	} {
		r.Add(res)
	}
	assert.Equal(t, Recap{OK: 2, Changed: 1, Failed: 1, Skipped: 1, Ignored: 1}, r)
	assert.Equal(t, "ok=2 changed=1 failed=1 skipped=1 ignored=1", r.String())
}

const testPlaybook = `
- name: First
  vars:
    port: 8080
  roles:
    - role: web
      vars:
        listen: 443
    - role: never
      when: false
  tasks:
    - name: after roles
      echo:
        msg: "{{ port }} {{ greeting | default('none') }} {{ conductor_run_id | length }}"
    - name: import
      import_role:
        name: web
        vars:
          listen: 8443
      when: port == 8080
    - name: skipped import
      include_role: web
      when: port != 8080
- name: Second
  tasks:
    - echo:
        msg: "{{ port | default('unset') }} {{ extra }}"
`

func testRoles() fakeRoles {
	return fakeRoles{
		"web": {
			Name:     "web",
			Defaults: map[string]any{"port": 80, "user": "www", "listen": 80},
			Vars:     map[string]any{"greeting": "hi"},
			Tasks: []*playbook.Task{
				echo(map[string]any{"msg": "{{ port }}:{{ listen }}:{{ user }}:{{ greeting }}"}),
			},
		},
	}
}

func TestPlaybookExecute(t *testing.T) {
	te, mods := newTestExecutor()
	pb, err := playbook.Load([]byte(testPlaybook), "/srv/site.yml")
	require.NoError(t, err)

	pe := NewPlaybookExecutor(te, testRoles())
	res, err := pe.Execute(context.Background(), pb, map[string]any{"extra": "e"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Len(t, res.RunID, 36)
	assert.Equal(t, "/srv/site.yml", res.Path)

	var msgs []any
	for _, p := range mods.params("echo") {
		msgs = append(msgs, p["msg"])
	}
	assert.Equal(t, []any{
		"8080:443:www:hi",
		"8080 none 36",
		"8080:8443:www:hi",
		"unset e",
	}, msgs, "play vars beat role defaults, role scope does not leak")

	require.Len(t, res.Plays, 2)
	assert.Len(t, res.Plays[0].Tasks, 4)
	assert.Equal(t, "skipped import", res.Plays[0].Tasks[3].Name)
	assert.True(t, res.Plays[0].Tasks[3].Skipped)
	assert.Equal(t, Recap{OK: 4, Skipped: 1}, res.Recap)
	assert.Equal(t, 4.0, testutil.ToFloat64(te.Metrics.tasksTotal.WithLabelValues("ok")))
}

func TestPlaybookStopsOnFailure(t *testing.T) {
	te, mods := newTestExecutor()
	pb, err := playbook.Load([]byte(`
- name: One
  tasks:
    - echo: {msg: first}
    - name: ignored
      error: {}
      ignore_errors: true
    - name: broken
      fail: {}
    - echo: {msg: never}
- name: Two
  tasks:
    - echo: {msg: never}
`), "inline")
	require.NoError(t, err)

	res, err := NewPlaybookExecutor(te, nil).Execute(context.Background(), pb, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.Len(t, res.Plays, 1)
	assert.False(t, res.Plays[0].Success)
	assert.Len(t, mods.params("echo"), 1)
	assert.Equal(t, Recap{OK: 1, Failed: 1, Ignored: 1}, res.Recap)
	assert.Equal(t, "failed", res.Plays[0].Tasks[2].Status())
}

func TestPlaybookTaskErrorBecomesFailure(t *testing.T) {
	te, _ := newTestExecutor()
	pb, err := playbook.Load([]byte(`
- tasks:
    - name: bad
      error: {}
`), "inline")
	require.NoError(t, err)

	res, err := NewPlaybookExecutor(te, nil).Execute(context.Background(), pb, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.Len(t, res.Plays[0].Tasks, 1)
	assert.True(t, res.Plays[0].Tasks[0].Failed)
	assert.Contains(t, res.Plays[0].Tasks[0].Message, "failed to start")
	assert.Equal(t, 1.0, testutil.ToFloat64(te.Metrics.tasksTotal.WithLabelValues("failed")))
}

func TestPlaybookMissingRole(t *testing.T) {
	te, _ := newTestExecutor()
	pb, err := playbook.Load([]byte(`
- roles: [ghost]
`), "inline")
	require.NoError(t, err)

	_, err = NewPlaybookExecutor(te, testRoles()).Execute(context.Background(), pb, nil)
	assert.ErrorContains(t, err, `role "ghost" not found`)
}

func TestPlaybookRecursiveRole(t *testing.T) {
	te, _ := newTestExecutor()
	roles := fakeRoles{
		"loop": {Name: "loop", Tasks: []*playbook.Task{
			{Module: "include_role", Role: &playbook.RoleReference{Name: "loop", Kind: playbook.RoleKindInclude}},
		}},
	}
	pb := &playbook.Playbook{Plays: []*playbook.Play{{
		Roles: []*playbook.RoleReference{{Name: "loop", Kind: playbook.RoleKindPlay}},
	}}}
	_, err := NewPlaybookExecutor(te, roles).Execute(context.Background(), pb, nil)
	assert.ErrorContains(t, err, "nesting deeper than")
}

func TestPlaybookCancelled(t *testing.T) {
	te, mods := newTestExecutor()
	pb, err := playbook.Load([]byte(`
- tasks:
    - echo: {msg: one}
`), "inline")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := NewPlaybookExecutor(te, nil).Execute(ctx, pb, nil)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, res.Success)
	assert.Empty(t, mods.calls)
}

func TestMetricsTextfile(t *testing.T) {
	m := NewMetrics(nil)
	m.recordTask(&TaskResult{Success: true})
	m.observeModule("echo", 250*time.Millisecond)

	path := t.TempDir() + "/conductor.prom"
	require.NoError(t, m.WriteTextfile(path))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasksTotal.WithLabelValues("ok")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.moduleDuration))

	var nilMetrics *Metrics
	nilMetrics.recordTask(&TaskResult{})
	assert.NoError(t, nilMetrics.WriteTextfile(path))
}

func TestPlaybookTagSelection(t *testing.T) {
	pb, err := playbook.Load([]byte(`
- roles:
    - role: web
      tags: [web]
  tasks:
    - echo: {msg: untagged}
    - echo: {msg: setup}
      tags: [setup]
    - echo: {msg: always}
      tags: [always]
    - echo: {msg: slow}
      tags: [setup, slow]
`), "inline")
	require.NoError(t, err)

	tests := []struct {
		name     string
		tags     []string
		skipTags []string
		want     []any
	}{
		{name: "no filter", want: []any{"80:80:www:hi", "untagged", "setup", "always", "slow"}},
		{name: "only setup", tags: []string{"setup"}, want: []any{"setup", "always", "slow"}},
		{name: "role tags are inherited", tags: []string{"web"}, want: []any{"80:80:www:hi", "always"}},
		{name: "skip wins", tags: []string{"setup"}, skipTags: []string{"slow"}, want: []any{"setup", "always"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te, mods := newTestExecutor()
			pe := NewPlaybookExecutor(te, testRoles())
			pe.Tags, pe.SkipTags = tt.tags, tt.skipTags
			res, err := pe.Execute(context.Background(), pb, nil)
			require.NoError(t, err)
			assert.True(t, res.Success)

			var msgs []any
			for _, p := range mods.params("echo") {
				msgs = append(msgs, p["msg"])
			}
			assert.Equal(t, tt.want, msgs)
		})
	}
}
