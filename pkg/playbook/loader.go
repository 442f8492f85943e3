package playbook

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fulcrumlabs/conductor/pkg/jinja2"
	"github.com/fulcrumlabs/conductor/pkg/loops"
)

// LoadError is returned for a playbook or role file that cannot be read or
// does not describe valid plays and tasks.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("loading playbook: %v", e.Err)
	}
	return fmt.Sprintf("loading %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// taskKeywords are task keys that are never a module name.
var taskKeywords = map[string]bool{
	"name":          true,
	"module":        true,
	"args":          true,
	"when":          true,
	"loop":          true,
	"with_items":    true,
	"register":      true,
	"ignore_errors": true,
	"failed_when":   true,
	"changed_when":  true,
	"timeout":       true,
	"tags":          true,
	"vars":          true,
	"import_role":   true,
	"include_role":  true,
}

// defaultParameterKey is the parameter a bare string module argument binds
// to, as in `shell: echo hi`.
func defaultParameterKey(module string) string {
	switch module {
	case "shell", "command":
		return "cmd"
	case "debug":
		return "msg"
	}
	return "_raw"
}

// LoadFile reads and parses the playbook at path.
func LoadFile(path string) (*Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return Load(data, path)
}

// Load parses playbook YAML. path is only used in errors and results.
func Load(data []byte, path string) (*Playbook, error) {
	var raw []map[string]any
	if err := decodeYAML(data, &raw); err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	if len(raw) == 0 {
		return nil, &LoadError{Path: path, Err: errors.New("playbook is empty")}
	}
	pb := &Playbook{Path: path}
	for i, pd := range raw {
		play, err := buildPlay(pd)
		if err != nil {
			return nil, &LoadError{Path: path, Err: fmt.Errorf("play %d: %w", i, err)}
		}
		pb.Plays = append(pb.Plays, play)
	}
	return pb, nil
}

func decodeYAML(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func buildPlay(pd map[string]any) (*Play, error) {
	play := &Play{Name: stringValue(pd["name"], "Unnamed play")}
	vars, err := mapValue(pd["vars"], "vars")
	if err != nil {
		return nil, err
	}
	play.Vars = vars

	if rolesRaw, ok := pd["roles"]; ok && rolesRaw != nil {
		list, ok := rolesRaw.([]any)
		if !ok {
			return nil, fmt.Errorf("roles must be a list, got %T", rolesRaw)
		}
		for i, r := range list {
			ref, err := buildRoleReference(r, RoleKindPlay)
			if err != nil {
				return nil, fmt.Errorf("roles[%d]: %w", i, err)
			}
			play.Roles = append(play.Roles, ref)
		}
	}

	tasks, err := buildTasks(pd["tasks"])
	if err != nil {
		return nil, err
	}
	play.Tasks = tasks
	return play, nil
}

func buildTasks(raw any) ([]*Task, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("tasks must be a list, got %T", raw)
	}
	tasks := make([]*Task, 0, len(list))
	for i, item := range list {
		td, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("tasks[%d] must be a mapping, got %T", i, item)
		}
		task, err := buildTask(td)
		if err != nil {
			return nil, fmt.Errorf("tasks[%d]: %w", i, err)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func buildTask(td map[string]any) (*Task, error) {
	task := &Task{Name: jinja2.TemplateString(stringValue(td["name"], ""))}
	var err error

	if task.When, err = conditionsValue(td["when"]); err != nil {
		return nil, fmt.Errorf("task %q when: %w", task.Name, err)
	}
	if task.FailedWhen, err = conditionsValue(td["failed_when"]); err != nil {
		return nil, fmt.Errorf("task %q failed_when: %w", task.Name, err)
	}
	if task.ChangedWhen, err = conditionsValue(td["changed_when"]); err != nil {
		return nil, fmt.Errorf("task %q changed_when: %w", task.Name, err)
	}
	task.IgnoreErrors = boolValue(td["ignore_errors"])
	task.RegisterAs = stringValue(td["register"], "")
	task.Tags = stringList(td["tags"])
	if task.Timeout, err = durationValue(td["timeout"]); err != nil {
		return nil, fmt.Errorf("task %q timeout: %w", task.Name, err)
	}

	if items, ok := td["loop"]; ok {
		task.Loop = &loops.Definition{Kind: loops.Loop, Items: items}
	} else if items, ok := td["with_items"]; ok {
		task.Loop = &loops.Definition{Kind: loops.WithItems, Items: items}
	}

	for _, kind := range []RoleKind{RoleKindImport, RoleKindInclude} {
		if spec, ok := td[string(kind)]; ok {
			ref, err := buildRoleReference(spec, kind)
			if err != nil {
				return nil, fmt.Errorf("task %q %s: %w", task.Name, kind, err)
			}
			task.Role = ref
			task.Module = string(kind)
			return task, nil
		}
	}

	if mod, ok := td["module"]; ok {
		task.Module = stringValue(mod, "")
		args, err := moduleArgs(td["args"], task.Module)
		if err != nil {
			return nil, fmt.Errorf("task %q args: %w", task.Name, err)
		}
		task.Parameters = args
		return task, nil
	}

	var candidates []string
	for k := range td {
		if !taskKeywords[k] {
			candidates = append(candidates, k)
		}
	}
	sort.Strings(candidates)
	switch len(candidates) {
	case 0:
		return nil, fmt.Errorf("task %q does not specify a module", task.DisplayName())
	case 1:
	default:
		return nil, fmt.Errorf("task %q has more than one module key: %s", task.DisplayName(), strings.Join(candidates, ", "))
	}
	task.Module = candidates[0]
	args, err := moduleArgs(td[task.Module], task.Module)
	if err != nil {
		return nil, fmt.Errorf("task %q: %w", task.DisplayName(), err)
	}
	task.Parameters = args
	return task, nil
}

// buildRoleReference accepts a role name or a mapping with role (or name),
// vars, when and tags.
func buildRoleReference(raw any, kind RoleKind) (*RoleReference, error) {
	ref := &RoleReference{Kind: kind, Parameters: map[string]any{}}
	switch t := raw.(type) {
	case string:
		ref.Name = t
	case map[string]any:
		ref.Name = stringValue(t["role"], stringValue(t["name"], ""))
		params, err := mapValue(t["vars"], "vars")
		if err != nil {
			return nil, err
		}
		ref.Parameters = params
		if ref.When, err = conditionsValue(t["when"]); err != nil {
			return nil, err
		}
		ref.Tags = stringList(t["tags"])
	default:
		return nil, fmt.Errorf("role must be a name or mapping, got %T", raw)
	}
	if ref.Name == "" {
		return nil, errors.New("role definition must include a name")
	}
	return ref, nil
}

func moduleArgs(raw any, module string) (map[string]any, error) {
	switch t := raw.(type) {
	case nil:
		return map[string]any{}, nil
	case string:
		return map[string]any{defaultParameterKey(module): t}, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = val
		}
		return out, nil
	}
	return nil, fmt.Errorf("module %s arguments must be a string or mapping, got %T", module, raw)
}

func conditionsValue(raw any) (Conditions, error) {
	switch t := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return Conditions{t}, nil
	case bool:
		return Conditions{strconv.FormatBool(t)}, nil
	case []any:
		out := make(Conditions, 0, len(t))
		for _, item := range t {
			switch c := item.(type) {
			case string:
				out = append(out, c)
			case bool:
				out = append(out, strconv.FormatBool(c))
			default:
				return nil, fmt.Errorf("condition must be a string, got %T", item)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("condition must be a string, bool or list, got %T", raw)
}

func mapValue(raw any, description string) (map[string]any, error) {
	switch t := raw.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return t, nil
	}
	return nil, fmt.Errorf("%s must be a mapping, got %T", description, raw)
}

func stringValue(raw any, def string) string {
	switch t := raw.(type) {
	case nil:
		return def
	case string:
		return t
	}
	return fmt.Sprint(raw)
}

func boolValue(raw any) bool {
	switch t := raw.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(t)
		return b || strings.EqualFold(t, "yes")
	}
	return false
}

func stringList(raw any) []string {
	switch t := raw.(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}

// durationValue reads a timeout given as seconds or a Go duration string.
func durationValue(raw any) (time.Duration, error) {
	switch t := raw.(type) {
	case nil:
		return 0, nil
	case int:
		return time.Duration(t) * time.Second, nil
	case float64:
		return time.Duration(t * float64(time.Second)), nil
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return time.Duration(n) * time.Second, nil
		}
		return time.ParseDuration(t)
	}
	return 0, fmt.Errorf("invalid timeout %v", raw)
}

func stripBraces(s string) string {
	t := strings.TrimSpace(s)
	if strings.HasPrefix(t, "{{") && strings.HasSuffix(t, "}}") && len(t) >= 4 {
		return t[2 : len(t)-2]
	}
	return t
}
