package modules

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ExecutablePrefix is the file name prefix of discoverable modules.
const ExecutablePrefix = "conductor-module-"

// Registry maps module names to executable paths.
type Registry struct {
	mu    sync.RWMutex
	paths map[string]string
}

func NewRegistry() *Registry {
	return &Registry{paths: map[string]string{}}
}

// Register binds name to the executable at path, replacing any earlier
// registration. The file must exist.
func (r *Registry) Register(name, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("module executable not found: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("module executable %s is a directory", path)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths[name] = path
	return nil
}

// Lookup returns the executable registered for name.
func (r *Registry) Lookup(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.paths[name]
	return p, ok
}

func (r *Registry) Has(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Names returns the registered module names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.paths))
	for n := range r.paths {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Discover registers every executable in dir named conductor-module-<name>.
// Modules that are already registered keep their first registration. A
// missing directory is not an error.
func (r *Registry) Discover(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading module directory %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), ExecutablePrefix) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil || !isExecutable(path, info) {
			continue
		}
		base := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		name := strings.TrimPrefix(base, ExecutablePrefix)
		if name == "" || r.Has(name) {
			continue
		}
		if err := r.Register(name, path); err != nil {
			return err
		}
	}
	return nil
}

// StandardPaths lists the default module directories, highest priority
// first.
func StandardPaths() []string {
	paths := []string{"./modules"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".conductor", "modules"))
	}
	return append(paths, systemModulePaths...)
}

// DiscoverStandardPaths runs Discover over extra and then StandardPaths.
func (r *Registry) DiscoverStandardPaths(extra ...string) error {
	for _, dir := range append(extra, StandardPaths()...) {
		if err := r.Discover(dir); err != nil {
			return err
		}
	}
	return nil
}
