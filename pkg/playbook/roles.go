package playbook

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// DefaultRolesPath is where roles are looked up when no path is configured.
const DefaultRolesPath = "./roles"

// RoleLoader loads roles from <BasePath>/<name>. Loaded roles are cached.
type RoleLoader struct {
	BasePath string

	mu    sync.Mutex
	cache map[string]*Role
}

func NewRoleLoader(basePath string) *RoleLoader {
	if basePath == "" {
		basePath = DefaultRolesPath
	}
	return &RoleLoader{BasePath: basePath, cache: map[string]*Role{}}
}

// LoadRole reads tasks/main.yml (required) plus defaults/main.yml and
// vars/main.yml (optional). The .yaml extension is accepted as well.
func (l *RoleLoader) LoadRole(name string) (*Role, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cache == nil {
		l.cache = map[string]*Role{}
	}
	if r, ok := l.cache[name]; ok {
		return r, nil
	}

	dir := filepath.Join(l.BasePath, name)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, &LoadError{Path: dir, Err: fmt.Errorf("role %q not found", name)}
	}

	tasksFile, data, err := readMain(dir, "tasks")
	if err != nil {
		return nil, &LoadError{Path: filepath.Join(dir, "tasks"), Err: err}
	}
	if data == nil {
		return nil, &LoadError{Path: filepath.Join(dir, "tasks"), Err: fmt.Errorf("role %q is missing tasks/main.yml", name)}
	}
	var rawTasks []any
	if err := decodeYAML(data, &rawTasks); err != nil {
		return nil, &LoadError{Path: tasksFile, Err: err}
	}
	tasks, err := buildTasks(rawTasks)
	if err != nil {
		return nil, &LoadError{Path: tasksFile, Err: fmt.Errorf("role %q: %w", name, err)}
	}

	role := &Role{Name: name, Path: dir, Tasks: tasks}
	if role.Defaults, err = loadVarsFile(dir, "defaults"); err != nil {
		return nil, err
	}
	if role.Vars, err = loadVarsFile(dir, "vars"); err != nil {
		return nil, err
	}
	l.cache[name] = role
	return role, nil
}

func loadVarsFile(dir, sub string) (map[string]any, error) {
	path, data, err := readMain(dir, sub)
	if err != nil {
		return nil, &LoadError{Path: filepath.Join(dir, sub), Err: err}
	}
	vars := map[string]any{}
	if data == nil {
		return vars, nil
	}
	if err := decodeYAML(data, &vars); err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	if vars == nil {
		vars = map[string]any{}
	}
	return vars, nil
}

// readMain returns the contents of <dir>/<sub>/main.yml or main.yaml, or
// nil data when neither exists.
func readMain(dir, sub string) (string, []byte, error) {
	for _, name := range []string{"main.yml", "main.yaml"} {
		path := filepath.Join(dir, sub, name)
		data, err := os.ReadFile(path)
		if err == nil {
			return path, data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return path, nil, err
		}
	}
	return "", nil, nil
}
